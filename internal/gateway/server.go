package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/bus"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/channels"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/config"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/pkg/protocol"
)

const maxBodyBytes = 64 << 10

// ServerOptions wires a Server.
type ServerOptions struct {
	Config  config.Source
	Inbound bus.MessageRouter
	Events  bus.EventPublisher
	// Status feeds /health. Optional.
	Status func() Status
	Logger *slog.Logger
}

// Server is the HTTP surface: health, relay endpoints for inbound
// messages and button clicks, and the WebSocket event feed.
type Server struct {
	cfg      config.Source
	inbound  bus.MessageRouter
	eventPub bus.EventPublisher
	status   func() Status
	logger   *slog.Logger

	upgrader    websocket.Upgrader
	rateLimiter *channels.CallerRateLimiter
	clients     map[string]*Client
	mu          sync.RWMutex
	seq         atomic.Int64

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates a new gateway server.
func NewServer(opts ServerOptions) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{
		cfg:      opts.Config,
		inbound:  opts.Inbound,
		eventPub: opts.Events,
		status:   opts.Status,
		logger:   opts.Logger,
		clients:  make(map[string]*Client),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.rateLimiter = channels.NewCallerRateLimiter(time.Minute, opts.Config.Current().Gateway.RateLimitPerMinute)
	if s.eventPub != nil {
		s.eventPub.Subscribe("gateway-ws", func(event bus.Event) {
			s.broadcast(*protocol.NewEvent(event.Name, event.Payload))
		})
	}
	return s
}

// checkOrigin validates WebSocket connection origin against the allowed origins whitelist.
// If no origins are configured, all origins are allowed.
// Empty Origin header (non-browser clients) is always allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.Current().Gateway.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	s.logger.Warn("security.cors_rejected", "origin", origin)
	return false
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.auth(s.handleWebSocket))
	mux.HandleFunc("POST /v1/inbound", s.auth(s.limit(s.handleInbound)))
	mux.HandleFunc("POST /v1/actions", s.auth(s.limit(s.handleAction)))
	s.mux = mux
	return mux
}

// Start listens until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.cfg.Current()
	addr := fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.BuildMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("gateway starting", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.broadcast(*protocol.NewEvent(protocol.EventShutdown, nil))
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := s.cfg.Current().Gateway.Token
		if token != "" {
			got := extractBearerToken(r)
			if got == "" {
				got = r.URL.Query().Get("token")
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) limit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.rateLimiter.Allow(remoteHost(r)) {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			return
		}
		next(w, r)
	}
}

// relayRequest is the body of /v1/inbound and /v1/actions.
type relayRequest struct {
	Channel   string            `json:"channel"`
	SenderID  string            `json:"sender_id"`
	ChatID    string            `json:"chat_id"`
	ThreadID  string            `json:"thread_id,omitempty"`
	MessageID string            `json:"message_id,omitempty"`
	Content   string            `json:"content,omitempty"`
	ActionID  string            `json:"action_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (req relayRequest) message() bus.InboundMessage {
	channel := req.Channel
	if channel == "" {
		channel = "http"
	}
	return bus.InboundMessage{
		Channel:   channel,
		SenderID:  req.SenderID,
		ChatID:    req.ChatID,
		ThreadID:  req.ThreadID,
		MessageID: req.MessageID,
		Content:   req.Content,
		ActionID:  req.ActionID,
		Metadata:  req.Metadata,
	}
}

func decodeRelay(w http.ResponseWriter, r *http.Request) (relayRequest, bool) {
	var req relayRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return req, false
	}
	if req.ChatID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "chat_id is required"})
		return req, false
	}
	return req, true
}

func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRelay(w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "content is required"})
		return
	}
	req.ActionID = ""
	s.inbound.PublishInbound(req.message())
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRelay(w, r)
	if !ok {
		return
	}
	if _, _, valid := channels.DecodeActionID(req.ActionID); !valid {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid action_id"})
		return
	}
	s.inbound.PublishInbound(req.message())
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

// handleHealth reports liveness and pipeline state.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok", "protocol": protocol.ProtocolVersion}
	if s.status != nil {
		body["gateway"] = s.status()
	}
	writeJSON(w, http.StatusOK, body)
}

// handleWebSocket upgrades HTTP to WebSocket and manages the connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(conn, s)
	s.registerClient(client)
	defer func() {
		s.unregisterClient(client)
		client.Close()
	}()

	client.SendEvent(*protocol.NewEvent(protocol.EventHealth, map[string]int{"protocol": protocol.ProtocolVersion}))
	client.Run()
}

// broadcast sends an event to all connected clients.
func (s *Server) broadcast(frame protocol.EventFrame) {
	frame.Seq = s.seq.Add(1)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, client := range s.clients {
		client.SendEvent(frame)
	}
}

func (s *Server) registerClient(c *Client) {
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	s.logger.Info("client connected", "id", c.id)
}

func (s *Server) unregisterClient(c *Client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	s.logger.Info("client disconnected", "id", c.id)
}

// ClientCount returns the number of connected observers.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return ""
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
