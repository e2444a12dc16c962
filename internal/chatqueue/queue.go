// Package chatqueue serializes conversational turns per agent while
// letting different agents run concurrently.
package chatqueue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/besteffort"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/bus"
)

// Message is one chat turn waiting for its agent.
type Message struct {
	Text          string
	AgentKey      string
	Destination   bus.Destination
	SourceMessage bus.MessageRef
}

// Handler runs one chat turn.
type Handler interface {
	HandleChat(ctx context.Context, msg Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg Message) error

func (f HandlerFunc) HandleChat(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Reporter tells the operator a turn failed.
type Reporter func(msg Message, err error)

type shard struct {
	items   []Message
	running bool
}

// Queue holds one FIFO shard per agent key, created on first use.
type Queue struct {
	handler Handler
	report  Reporter
	logger  *slog.Logger

	mu      sync.Mutex
	shards  map[string]*shard
	stopped bool
	wg      sync.WaitGroup
}

// New creates a Queue. report may be nil.
func New(handler Handler, report Reporter, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		handler: handler,
		report:  report,
		logger:  logger,
		shards:  make(map[string]*shard),
	}
}

// Enqueue appends msg to its agent's shard and starts the shard's drain
// loop if it is idle.
func (q *Queue) Enqueue(msg Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		q.logger.Warn("chatqueue: stopped, dropping message", "agent", msg.AgentKey)
		return
	}
	s, ok := q.shards[msg.AgentKey]
	if !ok {
		s = &shard{}
		q.shards[msg.AgentKey] = s
	}
	s.items = append(s.items, msg)
	if !s.running {
		s.running = true
		q.wg.Add(1)
		go q.drain(msg.AgentKey, s)
	}
}

func (q *Queue) drain(agent string, s *shard) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if len(s.items) == 0 || q.stopped {
			s.running = false
			s.items = nil
			q.mu.Unlock()
			return
		}
		msg := s.items[0]
		s.items = s.items[1:]
		q.mu.Unlock()

		if err := q.run(msg); err != nil {
			q.logger.Warn("chat turn failed", "agent", agent, "error", err)
			if q.report != nil {
				besteffort.Do(q.logger, "report chat failure", func() error {
					q.report(msg, err)
					return nil
				}, "agent", agent)
			}
		}
	}
}

func (q *Queue) run(msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("chat handler panicked: %v", r)
		}
	}()
	return q.handler.HandleChat(context.Background(), msg)
}

// Len returns the number of messages waiting for agent, excluding the
// one in flight.
func (q *Queue) Len(agent string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if s, ok := q.shards[agent]; ok {
		return len(s.items)
	}
	return 0
}

// Busy reports whether agent's shard is draining.
func (q *Queue) Busy(agent string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.shards[agent]
	return ok && s.running
}

// Stop drops waiting messages and waits for in-flight turns to finish
// or ctx to end.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	q.stopped = true
	for agent, s := range q.shards {
		if n := len(s.items); n > 0 {
			q.logger.Info("chatqueue: discarding queued messages", "agent", agent, "count", n)
		}
		s.items = nil
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
