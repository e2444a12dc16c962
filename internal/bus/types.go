// Package bus carries messages between the chat platforms and the
// gateway: inbound user messages and button clicks one way, outbound
// posts, edits and reactions the other, plus broadcast events for
// observers.
package bus

import "context"

// Destination addresses a channel, optionally inside a thread.
type Destination struct {
	ChannelID string `json:"channel_id"`
	ThreadID  string `json:"thread_id,omitempty"`
}

// MessageRef identifies a posted platform message.
type MessageRef struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
}

// IsZero reports whether ref points at nothing.
func (r MessageRef) IsZero() bool { return r.MessageID == "" }

// Action is a clickable choice attached to a message.
type Action struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Style string `json:"style,omitempty"` // "primary", "secondary", "danger"
}

// Payload is the renderable body of an outbound message.
type Payload struct {
	Text      string   `json:"text"`
	Username  string   `json:"username,omitempty"` // display identity
	IconEmoji string   `json:"icon_emoji,omitempty"`
	IconURL   string   `json:"icon_url,omitempty"`
	Actions   []Action `json:"actions,omitempty"`
	// ClearActions removes buttons when updating a message.
	ClearActions bool `json:"clear_actions,omitempty"`
}

// Reaction names a status marker; platforms map it to an emoji.
type Reaction string

const (
	ReactionAck     Reaction = "ack"
	ReactionSuccess Reaction = "success"
	ReactionFailure Reaction = "failure"
)

// InboundMessage represents a message or button click received from a
// platform (Discord, Telegram).
type InboundMessage struct {
	Channel   string            `json:"channel"` // platform name
	SenderID  string            `json:"sender_id"`
	ChatID    string            `json:"chat_id"`
	ThreadID  string            `json:"thread_id,omitempty"`
	MessageID string            `json:"message_id,omitempty"`
	Content   string            `json:"content"`
	ActionID  string            `json:"action_id,omitempty"` // set for button clicks
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Destination returns where replies to m belong.
func (m InboundMessage) Destination() Destination {
	return Destination{ChannelID: m.ChatID, ThreadID: m.ThreadID}
}

// Ref returns the reference of the inbound message itself.
func (m InboundMessage) Ref() MessageRef {
	return MessageRef{ChannelID: m.refChannel(), MessageID: m.MessageID}
}

// refChannel is the channel the message physically lives in. On
// platforms where threads are channels it is the thread.
func (m InboundMessage) refChannel() string {
	if c := m.Metadata["message_channel_id"]; c != "" {
		return c
	}
	return m.ChatID
}

// OutboundOp is the kind of platform call an OutboundMessage asks for.
type OutboundOp string

const (
	OpPost    OutboundOp = "post"
	OpUpdate  OutboundOp = "update"
	OpReact   OutboundOp = "react"
	OpUnreact OutboundOp = "unreact"
)

// OutboundMessage represents a platform call queued for delivery.
type OutboundMessage struct {
	Channel     string      `json:"channel"` // platform name
	Op          OutboundOp  `json:"op"`
	Destination Destination `json:"destination,omitempty"` // OpPost
	Ref         MessageRef  `json:"ref,omitempty"`         // OpUpdate, OpReact, OpUnreact
	Payload     Payload     `json:"payload,omitempty"`
	Reaction    Reaction    `json:"reaction,omitempty"`
}

// Event represents a server-side event to broadcast to WebSocket clients.
type Event struct {
	Name    string      `json:"name"`
	Payload interface{} `json:"payload,omitempty"`
}

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription.
// Used by the gateway server and queues to decouple from MessageBus.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

// MessageRouter abstracts inbound/outbound message routing between
// platforms and the gateway.
type MessageRouter interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
	PublishOutbound(msg OutboundMessage)
	SubscribeOutbound(ctx context.Context) (OutboundMessage, bool)
}
