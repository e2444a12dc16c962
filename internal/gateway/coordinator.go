// Package gateway connects the chat platforms to the agents: it routes
// each inbound message through mentions, classification and
// confirmation to the directive queue or a chat turn, and serves the
// HTTP and WebSocket surface.
package gateway

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/bus"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/channels"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/chatqueue"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/classify"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/clock"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/config"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/confirm"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/directive"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/engine"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/mention"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/outbound"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/sessionlock"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/store"
)

const (
	dedupeTTL = 20 * time.Minute
	dedupeMax = 5000
)

// Options wires a Coordinator.
type Options struct {
	Config config.Source
	Engine engine.Engine
	Stores *store.Stores
	Out    channels.Messenger
	Events bus.EventPublisher // optional
	Clock  clock.Clock        // optional
	Logger *slog.Logger       // optional

	// ClassifyTimeout overrides classifier.timeout_sec.
	ClassifyTimeout time.Duration
}

// Coordinator owns every queue, the session lock, the confirmation
// workflow and the outbound bridge. Construct one per process.
type Coordinator struct {
	cfg    config.Source
	engine engine.Engine
	stores *store.Stores
	out    channels.Messenger
	events bus.EventPublisher
	clock  clock.Clock
	logger *slog.Logger

	lock       *sessionlock.Lock
	classifier *classify.Classifier
	bridge     *outbound.Bridge
	directives *directive.Queue
	confirm    *confirm.Workflow
	chats      *chatqueue.Queue
	dedupe     *bus.DedupeCache

	mentionMu  sync.Mutex
	mentionCfg *config.Config
	mentions   *mention.Router

	refining sync.WaitGroup
}

// NewCoordinator builds the pipeline.
func NewCoordinator(opts Options) *Coordinator {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := &Coordinator{
		cfg:    opts.Config,
		engine: opts.Engine,
		stores: opts.Stores,
		out:    opts.Out,
		events: opts.Events,
		clock:  opts.Clock,
		logger: opts.Logger,
		lock:   sessionlock.New(),
		dedupe: bus.NewDedupeCache(dedupeTTL, dedupeMax),
	}
	c.bridge = outbound.NewBridge(opts.Config, opts.Out, opts.Logger)
	c.classifier = classify.New(classify.Options{
		Lock:    c.lock,
		Engine:  opts.Engine,
		Ledger:  opts.Stores.Costs,
		Config:  opts.Config,
		Timeout: opts.ClassifyTimeout,
		Logger:  opts.Logger,
	})
	runner := directive.NewRunner(directive.RunnerOptions{
		Config:   opts.Config,
		Lock:     c.lock,
		Engine:   opts.Engine,
		Ledger:   opts.Stores.Costs,
		Sessions: opts.Stores.Sessions,
		Journal:  opts.Stores.Journal,
		Sink:     c.bridge,
		Out:      opts.Out,
		Events:   opts.Events,
		Logger:   opts.Logger,
	})
	c.directives = directive.NewQueue(runner, directive.Options{
		Clock:  opts.Clock,
		Config: opts.Config,
		Events: opts.Events,
		Logger: opts.Logger,
	})
	c.confirm = confirm.New(confirm.Options{
		Out:    opts.Out,
		Router: c,
		Config: opts.Config,
		Clock:  opts.Clock,
		Events: opts.Events,
		Logger: opts.Logger,
	})
	c.chats = chatqueue.New(chatqueue.HandlerFunc(c.handleChat), c.reportChatFailure, opts.Logger)
	return c
}

// Bridge returns the outbound bridge, the handler for agent output.
func (c *Coordinator) Bridge() *outbound.Bridge { return c.bridge }

// Lock returns the lead session lock.
func (c *Coordinator) Lock() *sessionlock.Lock { return c.lock }

// HandleInbound routes one platform message. It returns once the message
// is queued; agent work happens on the queues.
func (c *Coordinator) HandleInbound(ctx context.Context, msg bus.InboundMessage) {
	if msg.ActionID != "" {
		c.HandleAction(msg)
		return
	}
	if msg.MessageID != "" && c.dedupe.IsDuplicate(msg.Channel+":"+msg.ChatID+":"+msg.MessageID) {
		c.logger.Debug("gateway: duplicate inbound message", "channel", msg.Channel, "message_id", msg.MessageID)
		return
	}
	text := strings.TrimSpace(msg.Content)
	if text == "" {
		return
	}
	dest := msg.Destination()
	source := msg.Ref()

	if c.confirm.HandleReply(dest, text) {
		return
	}

	cfg := c.cfg.Current()
	if key, rest, ok := c.mentionRouter(cfg).Route(text); ok {
		agent, _ := cfg.ResolveAgent(key)
		if !agent.Enabled {
			c.out.Post(dest, bus.Payload{Text: agent.DisplayName + " is disabled right now."})
			return
		}
		if key != cfg.Agents.Lead {
			if rest == "" {
				rest = text
			}
			c.logger.Info("gateway: department chat", "agent", key, "preview", channels.Truncate(rest, 60))
			c.chats.Enqueue(chatqueue.Message{Text: rest, AgentKey: key, Destination: dest, SourceMessage: source})
			return
		}
		if rest != "" {
			text = rest
		}
	}

	switch verdict := c.classifier.Heuristic().Classify(text); verdict {
	case classify.Chat:
		c.ToChat(text, dest, source)
	case classify.Brief:
		c.ToDirective(text, dest, source)
	default:
		c.refining.Add(1)
		go func() {
			defer c.refining.Done()
			if c.classifier.Refine(ctx, text) == classify.Brief {
				c.confirm.Request(context.WithoutCancel(ctx), text, dest, source)
				return
			}
			c.ToChat(text, dest, source)
		}()
	}
}

// HandleAction resolves a button click.
func (c *Coordinator) HandleAction(msg bus.InboundMessage) {
	if !c.confirm.HandleAction(msg.Destination(), msg.ActionID) {
		c.logger.Debug("gateway: unknown action", "action_id", msg.ActionID)
	}
}

// ToDirective queues text as lead work.
func (c *Coordinator) ToDirective(text string, dest bus.Destination, source bus.MessageRef) {
	c.directives.Enqueue(text, directive.Source{Destination: dest, Message: source})
}

// ToChat queues text as a conversational turn with the lead.
func (c *Coordinator) ToChat(text string, dest bus.Destination, source bus.MessageRef) {
	c.chats.Enqueue(chatqueue.Message{
		Text:          text,
		AgentKey:      c.cfg.Current().Agents.Lead,
		Destination:   dest,
		SourceMessage: source,
	})
}

// Run consumes inbound messages until ctx ends.
func (c *Coordinator) Run(ctx context.Context, router bus.MessageRouter) {
	c.logger.Info("inbound message consumer started")
	for {
		msg, ok := router.ConsumeInbound(ctx)
		if !ok {
			c.logger.Info("inbound message consumer stopped")
			return
		}
		c.HandleInbound(ctx, msg)
	}
}

// Stop discards queued work and waits for in-flight turns.
func (c *Coordinator) Stop(ctx context.Context) error {
	err := c.directives.Stop(ctx)
	if cerr := c.chats.Stop(ctx); err == nil {
		err = cerr
	}

	done := make(chan struct{})
	go func() {
		c.refining.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

// Status is a snapshot for the health endpoint.
type Status struct {
	Directive      directive.State `json:"directive"`
	DirectiveQueue int             `json:"directiveQueue"`
	LockHeld       bool            `json:"lockHeld"`
	LockWaiting    int             `json:"lockWaiting"`
	Confirmations  int             `json:"confirmations"`
}

// Status reports queue and lock state.
func (c *Coordinator) Status() Status {
	return Status{
		Directive:      c.directives.State(),
		DirectiveQueue: c.directives.Len(),
		LockHeld:       c.lock.Held(),
		LockWaiting:    c.lock.Waiting(),
		Confirmations:  c.confirm.Len(),
	}
}

// mentionRouter rebuilds the mention table when the config changes.
func (c *Coordinator) mentionRouter(cfg *config.Config) *mention.Router {
	c.mentionMu.Lock()
	defer c.mentionMu.Unlock()
	if c.mentionCfg != cfg {
		c.mentions = mention.FromConfig(cfg)
		c.mentionCfg = cfg
	}
	return c.mentions
}
