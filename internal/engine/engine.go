// Package engine defines the session engine the gateway drives: a
// long-lived AI session that is started once and resumed per turn, yielding
// a stream of typed events that ends with a cost-bearing result.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// ErrNoResult is returned by Stream.Wait when the session exited without
// emitting a final result event.
var ErrNoResult = errors.New("engine: session ended without a result")

// Request configures one engine turn.
type Request struct {
	Prompt       string
	Model        string
	AllowedTools []string
	MaxBudgetUSD float64 // 0 = no ceiling
	MaxTurns     int     // 0 = engine default
	// Fork resumes from the session's history without appending the turn
	// to it. Used for side questions such as classification.
	Fork         bool
	SystemPrompt string // appended to the engine's own system prompt
	WorkDir      string
}

// EventKind discriminates Event.
type EventKind string

const (
	EventInit       EventKind = "init"
	EventText       EventKind = "text"
	EventToolUse    EventKind = "tool_use"
	EventToolResult EventKind = "tool_result"
	EventResult     EventKind = "result"
)

// Event is one progress item of a running turn.
type Event struct {
	Kind      EventKind       `json:"kind"`
	SessionID string          `json:"session_id,omitempty"`
	Text      string          `json:"text,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Result    *Result         `json:"result,omitempty"`
}

// Usage is the token accounting of a turn.
type Usage struct {
	InputTokens         int64 `json:"input_tokens"`
	OutputTokens        int64 `json:"output_tokens"`
	CacheReadTokens     int64 `json:"cache_read_input_tokens"`
	CacheCreationTokens int64 `json:"cache_creation_input_tokens"`
}

// Result is the final event of a turn.
type Result struct {
	SessionID  string  `json:"session_id"`
	Text       string  `json:"result"`
	Subtype    string  `json:"subtype"`
	IsError    bool    `json:"is_error"`
	CostUSD    float64 `json:"total_cost_usd"`
	NumTurns   int     `json:"num_turns"`
	DurationMS int64   `json:"duration_ms"`
	Usage      Usage   `json:"usage"`
}

// Engine starts and resumes sessions.
type Engine interface {
	Start(ctx context.Context, req Request) (*Stream, error)
	Resume(ctx context.Context, sessionID string, req Request) (*Stream, error)
}

// Stream is the event feed of one turn. The consumer must drain Events
// until it is closed, then call Wait for the outcome.
type Stream struct {
	events chan Event
	done   chan struct{}

	mu     sync.Mutex
	result *Result
	err    error
	closed bool
}

// NewStream returns an open stream with the given event buffer. Producers
// call Emit for each event and Close exactly once.
func NewStream(buffer int) *Stream {
	return &Stream{
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
}

// Events returns the event channel. It is closed by Close.
func (s *Stream) Events() <-chan Event { return s.events }

// Emit delivers ev to the consumer. Result events are also remembered as
// the stream outcome. It returns false if ctx ended first.
func (s *Stream) Emit(ctx context.Context, ev Event) bool {
	if ev.Kind == EventResult && ev.Result != nil {
		s.mu.Lock()
		s.result = ev.Result
		s.mu.Unlock()
	}
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close ends the stream with err (nil on a clean exit). Later calls are
// ignored.
func (s *Stream) Close(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.events)
	close(s.done)
}

// Wait blocks until the stream is closed and returns its result. An
// error result (IsError) is reported as an error alongside the result.
func (s *Stream) Wait() (*Result, error) {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.result, s.err
	}
	if s.result == nil {
		return nil, ErrNoResult
	}
	if s.result.IsError {
		return s.result, &TurnError{Subtype: s.result.Subtype, Message: s.result.Text}
	}
	return s.result, nil
}

// Collect drains the stream, calling fn for every event, and returns
// Wait's outcome. fn may be nil.
func Collect(s *Stream, fn func(Event)) (*Result, error) {
	for ev := range s.Events() {
		if fn != nil {
			fn(ev)
		}
	}
	return s.Wait()
}

// TurnError reports a turn the engine itself marked as failed, such as
// a budget or turn ceiling being hit.
type TurnError struct {
	Subtype string
	Message string
}

func (e *TurnError) Error() string {
	if e.Message == "" {
		return "engine: turn failed (" + e.Subtype + ")"
	}
	return "engine: turn failed (" + e.Subtype + "): " + e.Message
}
