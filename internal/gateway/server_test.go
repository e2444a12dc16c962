package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/bus"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/channels"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/config"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/pkg/protocol"
)

func newTestServer(t *testing.T, tweak func(*config.Config)) (*httptest.Server, *bus.MessageBus) {
	t.Helper()
	cfg := config.Default()
	cfg.Gateway.Token = "secret"
	if tweak != nil {
		tweak(cfg)
	}
	msgBus := bus.New()
	s := NewServer(ServerOptions{
		Config:  config.Static(cfg),
		Inbound: msgBus,
		Events:  msgBus,
		Status:  func() Status { return Status{Directive: "idle", Confirmations: 2} },
	})
	ts := httptest.NewServer(s.BuildMux())
	t.Cleanup(ts.Close)
	return ts, msgBus
}

func post(t *testing.T, url, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	return resp
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		Status   string `json:"status"`
		Protocol int    `json:"protocol"`
		Gateway  Status `json:"gateway"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || body.Status != "ok" || body.Protocol != protocol.ProtocolVersion {
		t.Errorf("health = %d %+v", resp.StatusCode, body)
	}
	if body.Gateway.Confirmations != 2 {
		t.Errorf("gateway status = %+v", body.Gateway)
	}
}

func TestInboundRelay(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		body   string
		status int
	}{
		{"no token", "", `{"chat_id":"c1","content":"hi"}`, http.StatusUnauthorized},
		{"wrong token", "nope", `{"chat_id":"c1","content":"hi"}`, http.StatusUnauthorized},
		{"bad json", "secret", `{`, http.StatusBadRequest},
		{"missing chat", "secret", `{"content":"hi"}`, http.StatusBadRequest},
		{"empty content", "secret", `{"chat_id":"c1","content":"  "}`, http.StatusBadRequest},
		{"accepted", "secret", `{"chat_id":"c1","thread_id":"t1","message_id":"m1","content":"hi"}`, http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, msgBus := newTestServer(t, nil)
			resp := post(t, ts.URL+"/v1/inbound", tt.token, tt.body)
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if tt.status != http.StatusAccepted {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			msg, ok := msgBus.ConsumeInbound(ctx)
			if !ok {
				t.Fatal("nothing published")
			}
			if msg.Channel != "http" || msg.ChatID != "c1" || msg.ThreadID != "t1" || msg.Content != "hi" || msg.ActionID != "" {
				t.Errorf("msg = %+v", msg)
			}
		})
	}
}

func TestActionRelay(t *testing.T) {
	ts, msgBus := newTestServer(t, nil)

	if resp := post(t, ts.URL+"/v1/actions", "secret", `{"chat_id":"c1","action_id":"bogus"}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bogus action status = %d", resp.StatusCode)
	}

	id := channels.EncodeActionID("proceed", "abc")
	resp := post(t, ts.URL+"/v1/actions", "secret", `{"chat_id":"c1","thread_id":"t1","action_id":"`+id+`"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := msgBus.ConsumeInbound(ctx)
	if !ok || msg.ActionID != id {
		t.Errorf("msg = %+v", msg)
	}
}

func TestRelayRateLimited(t *testing.T) {
	ts, _ := newTestServer(t, func(cfg *config.Config) { cfg.Gateway.RateLimitPerMinute = 2 })

	var codes []int
	for i := 0; i < 3; i++ {
		codes = append(codes, post(t, ts.URL+"/v1/inbound", "secret", `{"chat_id":"c1","content":"hi"}`).StatusCode)
	}
	if codes[0] != http.StatusAccepted || codes[1] != http.StatusAccepted || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v", codes)
	}
}

func TestWebSocketEvents(t *testing.T) {
	ts, msgBus := newTestServer(t, nil)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	if _, resp, err := websocket.DefaultDialer.Dial(wsURL, nil); err == nil {
		t.Fatal("dial without token succeeded")
	} else if resp != nil && resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d", resp.StatusCode)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token=secret", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var hello protocol.EventFrame
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatal(err)
	}
	if hello.Event != protocol.EventHealth {
		t.Fatalf("first frame = %+v", hello)
	}

	msgBus.Broadcast(bus.Event{Name: protocol.EventDirectiveQueued, Payload: protocol.DirectiveEvent{ID: "d1", QueueLen: 1}})

	var frame struct {
		Type    string                  `json:"type"`
		Event   string                  `json:"event"`
		Seq     int64                   `json:"seq"`
		Payload protocol.DirectiveEvent `json:"payload"`
	}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatal(err)
	}
	if frame.Type != protocol.FrameTypeEvent || frame.Event != protocol.EventDirectiveQueued || frame.Payload.ID != "d1" || frame.Seq != 1 {
		t.Errorf("frame = %+v", frame)
	}
}
