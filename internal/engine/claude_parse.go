package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

type streamEnvelope struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype"`
	SessionID string          `json:"session_id"`
	Message   json.RawMessage `json:"message"`
}

type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

type streamMessage struct {
	Content []contentBlock `json:"content"`
}

// ParseLine converts one stream-json line into zero or more events.
// Assistant and user lines may carry several content blocks. Unknown
// line types yield no events.
func ParseLine(line []byte) ([]Event, error) {
	var env streamEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("parsing stream-json envelope: %w", err)
	}

	switch env.Type {
	case "system":
		if env.Subtype != "init" {
			return nil, nil
		}
		return []Event{{Kind: EventInit, SessionID: env.SessionID}}, nil

	case "assistant":
		msg, err := parseMessage(env.Message)
		if err != nil {
			return nil, err
		}
		var out []Event
		for _, b := range msg.Content {
			switch b.Type {
			case "text":
				if strings.TrimSpace(b.Text) == "" {
					continue
				}
				out = append(out, Event{Kind: EventText, SessionID: env.SessionID, Text: b.Text})
			case "tool_use":
				out = append(out, Event{
					Kind:      EventToolUse,
					SessionID: env.SessionID,
					ToolUseID: b.ID,
					ToolName:  b.Name,
					ToolInput: b.Input,
				})
			}
		}
		return out, nil

	case "user":
		msg, err := parseMessage(env.Message)
		if err != nil {
			return nil, err
		}
		var out []Event
		for _, b := range msg.Content {
			if b.Type != "tool_result" {
				continue
			}
			out = append(out, Event{
				Kind:      EventToolResult,
				SessionID: env.SessionID,
				ToolUseID: b.ToolUseID,
				Text:      toolResultText(b.Content),
				IsError:   b.IsError,
			})
		}
		return out, nil

	case "result":
		var res struct {
			Result
			LegacyCost float64 `json:"cost_usd"`
		}
		if err := json.Unmarshal(line, &res); err != nil {
			return nil, fmt.Errorf("parsing result: %w", err)
		}
		r := res.Result
		if r.CostUSD == 0 {
			r.CostUSD = res.LegacyCost
		}
		if r.Subtype != "" && r.Subtype != "success" {
			r.IsError = true
		}
		return []Event{{Kind: EventResult, SessionID: r.SessionID, Result: &r}}, nil
	}
	return nil, nil
}

func parseMessage(raw json.RawMessage) (streamMessage, error) {
	var msg streamMessage
	if len(raw) == 0 {
		return msg, nil
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return msg, fmt.Errorf("parsing message: %w", err)
	}
	return msg, nil
}

// toolResultText flattens a tool_result content field, which is either a
// string or a list of text blocks.
func toolResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var blocks []contentBlock
	if json.Unmarshal(raw, &blocks) != nil {
		return ""
	}
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}
