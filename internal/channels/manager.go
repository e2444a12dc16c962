package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/bus"
)

// ErrNotRunning is returned when a call targets a platform that is not
// registered or not started.
var ErrNotRunning = errors.New("platform not running")

// Manager manages all registered platforms, handling their lifecycle
// and applying outbound operations queued on the bus.
type Manager struct {
	channels     map[string]Platform
	bus          *bus.MessageBus
	limiter      *rate.Limiter
	dispatchTask *asyncTask
	mu           sync.RWMutex
	logger       *slog.Logger
}

type asyncTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a new platform manager. rps bounds platform calls
// per second across posts, edits and reactions; zero disables pacing.
func NewManager(msgBus *bus.MessageBus, rps float64, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = max(1, int(rps))
	}
	return &Manager{
		channels: make(map[string]Platform),
		bus:      msgBus,
		limiter:  rate.NewLimiter(limit, burst),
		logger:   logger,
	}
}

// StartAll starts all registered platforms and the outbound dispatch loop.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dispatchCtx, cancel := context.WithCancel(ctx)
	m.dispatchTask = &asyncTask{cancel: cancel, done: make(chan struct{})}
	go m.dispatchOutbound(dispatchCtx, m.dispatchTask.done)

	if len(m.channels) == 0 {
		m.logger.Warn("no platforms enabled")
		return nil
	}

	var errs []error
	for name, ch := range m.channels {
		m.logger.Info("starting platform", "channel", name)
		if err := ch.Start(ctx); err != nil {
			m.logger.Error("failed to start platform", "channel", name, "error", err)
			errs = append(errs, fmt.Errorf("start %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// StopAll gracefully stops all platforms and the outbound dispatch loop.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	task := m.dispatchTask
	m.dispatchTask = nil
	m.mu.Unlock()

	if task != nil {
		task.cancel()
		<-task.done
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, ch := range m.channels {
		m.logger.Info("stopping platform", "channel", name)
		if err := ch.Stop(ctx); err != nil {
			m.logger.Error("error stopping platform", "channel", name, "error", err)
		}
	}
	return nil
}

// dispatchOutbound consumes outbound operations from the bus and applies
// them one at a time. Failures are logged and never retried.
func (m *Manager) dispatchOutbound(ctx context.Context, done chan struct{}) {
	defer close(done)
	m.logger.Debug("outbound dispatcher started")

	for {
		msg, ok := m.bus.SubscribeOutbound(ctx)
		if !ok {
			m.logger.Debug("outbound dispatcher stopped")
			return
		}
		if err := m.apply(ctx, msg); err != nil {
			m.logger.Error("outbound delivery failed",
				"channel", msg.Channel,
				"op", msg.Op,
				"chat_id", msg.Destination.ChannelID,
				"error", err,
			)
		}
	}
}

func (m *Manager) apply(ctx context.Context, msg bus.OutboundMessage) error {
	ch, err := m.running(msg.Channel)
	if err != nil {
		return err
	}
	if err := m.limiter.Wait(ctx); err != nil {
		return err
	}
	switch msg.Op {
	case bus.OpPost:
		_, err = ch.PostMessage(ctx, msg.Destination, msg.Payload)
	case bus.OpUpdate:
		err = ch.UpdateMessage(ctx, msg.Ref, msg.Payload)
	case bus.OpReact:
		err = ch.AddReaction(ctx, msg.Ref, msg.Reaction)
	case bus.OpUnreact:
		err = ch.RemoveReaction(ctx, msg.Ref, msg.Reaction)
	default:
		err = fmt.Errorf("unknown outbound op %q", msg.Op)
	}
	return err
}

func (m *Manager) running(name string) (Platform, error) {
	m.mu.RLock()
	ch, exists := m.channels[name]
	m.mu.RUnlock()
	if !exists || !ch.IsRunning() {
		return nil, fmt.Errorf("%s: %w", name, ErrNotRunning)
	}
	return ch, nil
}

// GetChannel returns a platform by name.
func (m *Manager) GetChannel(name string) (Platform, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// GetStatus returns the running status of all platforms.
func (m *Manager) GetStatus() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]interface{})
	for name, ch := range m.channels {
		status[name] = map[string]interface{}{
			"enabled": true,
			"running": ch.IsRunning(),
		}
	}
	return status
}

// RegisterChannel adds a platform to the manager.
func (m *Manager) RegisterChannel(name string, ch Platform) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[name] = ch
}

// UnregisterChannel removes a platform from the manager.
func (m *Manager) UnregisterChannel(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, name)
}

// Outbox returns a Messenger bound to the named platform.
func (m *Manager) Outbox(name string) *Outbox {
	return &Outbox{m: m, channel: name}
}

// Outbox queues outbound operations for one platform on the bus.
type Outbox struct {
	m       *Manager
	channel string
}

var _ Messenger = (*Outbox)(nil)

// Post queues a new message.
func (o *Outbox) Post(dest bus.Destination, p bus.Payload) {
	o.m.bus.PublishOutbound(bus.OutboundMessage{Channel: o.channel, Op: bus.OpPost, Destination: dest, Payload: p})
}

// PostAwait posts directly on the platform, bypassing the bus queue but
// not the rate limiter.
func (o *Outbox) PostAwait(ctx context.Context, dest bus.Destination, p bus.Payload) (bus.MessageRef, error) {
	ch, err := o.m.running(o.channel)
	if err != nil {
		return bus.MessageRef{}, err
	}
	if err := o.m.limiter.Wait(ctx); err != nil {
		return bus.MessageRef{}, err
	}
	return ch.PostMessage(ctx, dest, p)
}

// Update queues an edit of a posted message.
func (o *Outbox) Update(ref bus.MessageRef, p bus.Payload) {
	o.m.bus.PublishOutbound(bus.OutboundMessage{Channel: o.channel, Op: bus.OpUpdate, Ref: ref, Payload: p})
}

// React queues a reaction on a message.
func (o *Outbox) React(ref bus.MessageRef, r bus.Reaction) {
	if ref.IsZero() {
		return
	}
	o.m.bus.PublishOutbound(bus.OutboundMessage{Channel: o.channel, Op: bus.OpReact, Ref: ref, Reaction: r})
}

// Unreact queues removal of a reaction.
func (o *Outbox) Unreact(ref bus.MessageRef, r bus.Reaction) {
	if ref.IsZero() {
		return
	}
	o.m.bus.PublishOutbound(bus.OutboundMessage{Channel: o.channel, Op: bus.OpUnreact, Ref: ref, Reaction: r})
}
