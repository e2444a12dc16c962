// Package protocol names the events the gateway broadcasts on the bus
// and streams to WebSocket observers.
package protocol

// ProtocolVersion is bumped when an event payload changes shape.
const ProtocolVersion = 1

// WebSocket event names pushed from server to client.
const (
	EventHealth   = "health"
	EventShutdown = "shutdown"

	// Directive queue lifecycle (payload: DirectiveEvent).
	EventDirectiveQueued    = "directive.queued"
	EventDirectiveStarted   = "directive.started"
	EventDirectiveCompleted = "directive.completed"
	EventDirectiveFailed    = "directive.failed"

	// Confirmation workflow (payload: ConfirmEvent).
	EventConfirmRequested = "confirm.requested"
	EventConfirmResolved  = "confirm.resolved"

	// Chat turns (payload: ChatEvent).
	EventChatStarted   = "chat.started"
	EventChatCompleted = "chat.completed"
	EventChatFailed    = "chat.failed"

	// Cost digest posted (payload: DigestEvent).
	EventDigestPosted = "digest.posted"
)

// FrameTypeEvent marks a server-pushed event frame.
const FrameTypeEvent = "event"

// EventFrame is one WebSocket message from server to client.
type EventFrame struct {
	Type    string      `json:"type"`
	Event   string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
	Seq     int64       `json:"seq"`
}

// NewEvent builds an event frame; the server fills Seq.
func NewEvent(name string, payload interface{}) *EventFrame {
	return &EventFrame{Type: FrameTypeEvent, Event: name, Payload: payload}
}

// DirectiveEvent is the payload of directive.* events.
type DirectiveEvent struct {
	ID       string  `json:"id"`
	Text     string  `json:"text,omitempty"`
	Messages int     `json:"messages,omitempty"` // coalesced inbound messages
	QueueLen int     `json:"queueLen"`
	CostUSD  float64 `json:"costUsd,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// Confirmation outcomes (ConfirmEvent.Outcome).
const (
	ConfirmProceed    = "proceed"
	ConfirmDecline    = "decline"
	ConfirmTimeout    = "timeout"
	ConfirmSuperseded = "superseded"
)

// ConfirmEvent is the payload of confirm.* events.
type ConfirmEvent struct {
	ThreadID string `json:"threadId"`
	Outcome  string `json:"outcome,omitempty"`
}

// ChatEvent is the payload of chat.* events.
type ChatEvent struct {
	AgentKey string  `json:"agentKey"`
	CostUSD  float64 `json:"costUsd,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// DigestEvent is the payload of digest.posted.
type DigestEvent struct {
	TodayUSD float64 `json:"todayUsd"`
	MonthUSD float64 `json:"monthUsd"`
}
