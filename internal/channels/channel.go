// Package channels provides the platform abstraction layer.
// A Platform connects one chat service (Discord, Telegram) to the gateway:
// it publishes inbound messages and button clicks on the bus and performs
// the posts, edits and reactions the gateway asks for.
package channels

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/mattn/go-runewidth"

	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/bus"
)

// Platform defines the interface that all platform adapters must satisfy.
type Platform interface {
	// Name returns the platform identifier ("discord", "telegram").
	Name() string

	// Start begins listening for messages. Should be non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the platform connection.
	Stop(ctx context.Context) error

	// IsRunning returns whether the platform is actively processing messages.
	IsRunning() bool

	PostMessage(ctx context.Context, dest bus.Destination, p bus.Payload) (bus.MessageRef, error)
	UpdateMessage(ctx context.Context, ref bus.MessageRef, p bus.Payload) error
	AddReaction(ctx context.Context, ref bus.MessageRef, r bus.Reaction) error
	RemoveReaction(ctx context.Context, ref bus.MessageRef, r bus.Reaction) error
}

// Messenger is the platform surface gateway components depend on. All
// calls but PostAwait are fire-and-forget: failures are logged by the
// implementation and never returned.
type Messenger interface {
	Post(dest bus.Destination, p bus.Payload)
	// PostAwait posts synchronously and returns the message reference,
	// for messages that are edited later.
	PostAwait(ctx context.Context, dest bus.Destination, p bus.Payload) (bus.MessageRef, error)
	Update(ref bus.MessageRef, p bus.Payload)
	React(ref bus.MessageRef, r bus.Reaction)
	Unreact(ref bus.MessageRef, r bus.Reaction)
}

// BaseChannel provides shared functionality for all platform adapters.
// Adapters should embed this struct.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	running   atomic.Bool
	allowList []string
}

// NewBaseChannel creates a new BaseChannel with the given parameters.
func NewBaseChannel(name string, msgBus *bus.MessageBus, allowList []string) *BaseChannel {
	return &BaseChannel{
		name:      name,
		bus:       msgBus,
		allowList: allowList,
	}
}

// Name returns the platform name.
func (c *BaseChannel) Name() string { return c.name }

// IsRunning returns whether the platform is running.
func (c *BaseChannel) IsRunning() bool { return c.running.Load() }

// SetRunning updates the running state.
func (c *BaseChannel) SetRunning(running bool) { c.running.Store(running) }

// HasAllowList returns true if an allowlist is configured (non-empty).
func (c *BaseChannel) HasAllowList() bool { return len(c.allowList) > 0 }

// IsAllowed checks if a sender is permitted by the allowlist.
// Supports compound senderID format: "123456|username".
// Empty allowlist means all senders are allowed.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}

	idPart := senderID
	userPart := ""
	if idx := strings.Index(senderID, "|"); idx > 0 {
		idPart = senderID[:idx]
		userPart = senderID[idx+1:]
	}

	for _, allowed := range c.allowList {
		trimmed := strings.TrimPrefix(allowed, "@")
		if senderID == allowed || idPart == allowed || senderID == trimmed || idPart == trimmed ||
			(userPart != "" && (userPart == allowed || userPart == trimmed)) {
			return true
		}
	}
	return false
}

// HandleMessage publishes an inbound text message if the sender is allowed.
func (c *BaseChannel) HandleMessage(senderID string, dest bus.Destination, messageID, content string, metadata map[string]string) {
	if !c.IsAllowed(senderID) {
		return
	}
	c.bus.PublishInbound(bus.InboundMessage{
		Channel:   c.name,
		SenderID:  senderID,
		ChatID:    dest.ChannelID,
		ThreadID:  dest.ThreadID,
		MessageID: messageID,
		Content:   content,
		Metadata:  metadata,
	})
}

// HandleAction publishes a button click if the sender is allowed.
func (c *BaseChannel) HandleAction(senderID string, dest bus.Destination, messageID, actionID string, metadata map[string]string) {
	if !c.IsAllowed(senderID) {
		return
	}
	c.bus.PublishInbound(bus.InboundMessage{
		Channel:   c.name,
		SenderID:  senderID,
		ChatID:    dest.ChannelID,
		ThreadID:  dest.ThreadID,
		MessageID: messageID,
		ActionID:  actionID,
		Metadata:  metadata,
	})
}

// Truncate shortens s to at most maxWidth display columns, appending "..."
// if truncated. Multi-byte runes are never split.
func Truncate(s string, maxWidth int) string {
	if runewidth.StringWidth(s) <= maxWidth {
		return s
	}
	return runewidth.Truncate(s, maxWidth, "...")
}

// SplitMessage cuts text into chunks of at most maxLen bytes, preferring
// newline boundaries in the second half of a chunk and never splitting a
// UTF-8 sequence.
func SplitMessage(text string, maxLen int) []string {
	var chunks []string
	for len(text) > maxLen {
		cut := maxLen
		if idx := strings.LastIndexByte(text[:maxLen], '\n'); idx > maxLen/2 {
			cut = idx + 1
		} else {
			for cut > 0 && !isRuneStart(text[cut]) {
				cut--
			}
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if text != "" || len(chunks) == 0 {
		chunks = append(chunks, text)
	}
	return chunks
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
