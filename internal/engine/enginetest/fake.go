// Package enginetest provides a scripted engine.Engine for tests.
package enginetest

import (
	"context"
	"sync"

	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/engine"
)

// Call records one Start or Resume invocation.
type Call struct {
	SessionID string // empty for Start
	Request   engine.Request
}

// Turn scripts the response to one call.
type Turn struct {
	Events    []engine.Event
	Result    *engine.Result
	StartErr  error           // returned from Start/Resume
	StreamErr error           // closes the stream with this error
	Block     <-chan struct{} // if set, nothing is emitted until closed or ctx ends
}

// Engine answers every call with the Turn its script returns.
type Engine struct {
	script func(Call) Turn

	mu    sync.Mutex
	calls []Call
}

// New returns an engine driven by script.
func New(script func(Call) Turn) *Engine {
	return &Engine{script: script}
}

// Reply returns an engine that answers every call with text and a result
// costing cost.
func Reply(text string, cost float64) *Engine {
	return New(func(c Call) Turn {
		return Turn{
			Events: []engine.Event{{Kind: engine.EventText, Text: text}},
			Result: &engine.Result{SessionID: sessionOr(c.SessionID, "sess-new"), Text: text, Subtype: "success", CostUSD: cost},
		}
	})
}

func sessionOr(id, fallback string) string {
	if id != "" {
		return id
	}
	return fallback
}

// Start implements engine.Engine.
func (e *Engine) Start(ctx context.Context, req engine.Request) (*engine.Stream, error) {
	return e.run(ctx, Call{Request: req})
}

// Resume implements engine.Engine.
func (e *Engine) Resume(ctx context.Context, sessionID string, req engine.Request) (*engine.Stream, error) {
	return e.run(ctx, Call{SessionID: sessionID, Request: req})
}

// Calls returns a copy of the recorded calls.
func (e *Engine) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Call(nil), e.calls...)
}

func (e *Engine) run(ctx context.Context, call Call) (*engine.Stream, error) {
	e.mu.Lock()
	e.calls = append(e.calls, call)
	e.mu.Unlock()

	turn := e.script(call)
	if turn.StartErr != nil {
		return nil, turn.StartErr
	}

	s := engine.NewStream(len(turn.Events) + 1)
	go func() {
		if turn.Block != nil {
			select {
			case <-turn.Block:
			case <-ctx.Done():
				s.Close(ctx.Err())
				return
			}
		}
		for _, ev := range turn.Events {
			s.Emit(ctx, ev)
		}
		if turn.Result != nil {
			s.Emit(ctx, engine.Event{Kind: engine.EventResult, SessionID: turn.Result.SessionID, Result: turn.Result})
		}
		s.Close(turn.StreamErr)
	}()
	return s, nil
}
