// Package outbound bridges agent output to the chat platform: it picks a
// destination for each message, formats it for the platform's markup
// dialect and hands it off for asynchronous delivery.
package outbound

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/bus"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/engine"
)

// Kind classifies an agent output message.
type Kind string

const (
	KindText       Kind = "text"
	KindToolUse    Kind = "tool_use"
	KindToolResult Kind = "tool_result"
)

// Message is one piece of agent output.
type Message struct {
	AgentKey  string
	Kind      Kind
	Text      string
	ToolName  string
	ToolInput json.RawMessage
	// Destination, when set, bypasses routing.
	Destination *bus.Destination
}

// FromEvent converts an engine event into a Message. Init and result
// events carry no output and yield ok=false.
func FromEvent(agentKey string, ev engine.Event) (Message, bool) {
	switch ev.Kind {
	case engine.EventText:
		if strings.TrimSpace(ev.Text) == "" {
			return Message{}, false
		}
		return Message{AgentKey: agentKey, Kind: KindText, Text: ev.Text}, true
	case engine.EventToolUse:
		return Message{AgentKey: agentKey, Kind: KindToolUse, ToolName: ev.ToolName, ToolInput: ev.ToolInput}, true
	case engine.EventToolResult:
		return Message{AgentKey: agentKey, Kind: KindToolResult, Text: ev.Text}, true
	}
	return Message{}, false
}

// Reference kinds.
const (
	RefTask         = "task"
	RefNotification = "notification"
)

// Reference is a trackable business record mentioned in agent output.
type Reference struct {
	Kind string
	ID   string
}

var refKeys = []struct{ key, kind string }{
	{"task_id", RefTask},
	{"taskId", RefTask},
	{"notification_id", RefNotification},
	{"notificationId", RefNotification},
}

var refText = regexp.MustCompile(`(?i)\b(task|notification)\s*(?:#|id[:\s]\s*)([A-Za-z0-9][\w-]*)`)

// ExtractReference finds a task or notification id in tool input or text.
func ExtractReference(msg Message) (Reference, bool) {
	if len(msg.ToolInput) > 0 {
		var input map[string]any
		if err := json.Unmarshal(msg.ToolInput, &input); err == nil {
			for _, k := range refKeys {
				if id := idString(input[k.key]); id != "" {
					return Reference{Kind: k.kind, ID: id}, true
				}
			}
		}
	}
	if m := refText.FindStringSubmatch(msg.Text); m != nil {
		return Reference{Kind: strings.ToLower(m[1]), ID: m[2]}, true
	}
	return Reference{}, false
}

func idString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	}
	return ""
}
