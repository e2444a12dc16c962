package bus

import (
	"context"
	"log/slog"
	"sync"
)

const (
	defaultInboundBuffer  = 100
	defaultOutboundBuffer = 256
)

// MessageBus is the in-process implementation of MessageRouter and
// EventPublisher.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
	logger   *slog.Logger

	mu          sync.RWMutex
	subscribers map[string]EventHandler
}

var (
	_ MessageRouter  = (*MessageBus)(nil)
	_ EventPublisher = (*MessageBus)(nil)
)

// Option configures a MessageBus.
type Option func(*MessageBus)

// WithLogger sets the logger for dropped deliveries. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *MessageBus) {
		if l != nil {
			b.logger = l
		}
	}
}

// New creates a message bus with default buffers.
func New(opts ...Option) *MessageBus {
	b := &MessageBus{
		inbound:     make(chan InboundMessage, defaultInboundBuffer),
		outbound:    make(chan OutboundMessage, defaultOutboundBuffer),
		logger:      slog.Default(),
		subscribers: make(map[string]EventHandler),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// PublishInbound queues a message for the consumer. It blocks when the
// consumer is behind, which applies back-pressure to the platform reader.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	b.inbound <- msg
}

// ConsumeInbound waits for the next inbound message.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-b.inbound:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// PublishOutbound queues a platform call. It never blocks: when the
// dispatcher is saturated the message is dropped and logged.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	select {
	case b.outbound <- msg:
	default:
		b.logger.Warn("bus: outbound queue full, dropping message",
			"channel", msg.Channel, "op", msg.Op, "chat_id", msg.Destination.ChannelID)
	}
}

// SubscribeOutbound waits for the next outbound message.
func (b *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg := <-b.outbound:
		return msg, true
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}

// Subscribe registers handler under id, replacing any previous one.
func (b *MessageBus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[id] = handler
}

// Unsubscribe removes the handler registered under id.
func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
}

// Broadcast delivers event to every subscriber synchronously. Handlers
// must not block.
func (b *MessageBus) Broadcast(event Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.subscribers))
	for _, h := range b.subscribers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}
