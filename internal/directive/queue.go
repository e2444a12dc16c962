// Package directive coalesces bursts of work messages into directives
// and runs them one at a time on the lead session.
package directive

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/bus"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/clock"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/config"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/pkg/protocol"
)

// Directive is one unit of lead work, possibly spanning several inbound
// messages. It is immutable once queued.
type Directive struct {
	ID             string
	Text           string
	SourceChannel  string
	SourceThread   string
	EnqueuedAt     time.Time
	SourceMessages []bus.MessageRef
}

// Destination is where replies about d belong.
func (d *Directive) Destination() bus.Destination {
	return bus.Destination{ChannelID: d.SourceChannel, ThreadID: d.SourceThread}
}

// Source describes the inbound message behind an Enqueue.
type Source struct {
	Destination bus.Destination
	Message     bus.MessageRef
}

// Processor executes a directive. Errors are already reported to the
// operator by the processor; the queue only logs them.
type Processor interface {
	Process(ctx context.Context, d *Directive) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, d *Directive) error

func (f ProcessorFunc) Process(ctx context.Context, d *Directive) error { return f(ctx, d) }

// State is the queue's coarse state.
type State string

const (
	StateIdle       State = "idle"
	StateDebouncing State = "debouncing"
	StateQueued     State = "queued"
	StateProcessing State = "processing"
)

type window struct {
	parts   []string
	sources []bus.MessageRef
	dest    bus.Destination
	opened  time.Time
	timer   *clock.Timer
	wait    time.Duration
	gen     int
}

// Queue debounces Enqueue calls into directives and feeds them to a
// Processor in FIFO order, one at a time. The worker goroutine exists
// only while there is work.
type Queue struct {
	proc     Processor
	clock    clock.Clock
	cfg      config.Source
	debounce time.Duration
	events   bus.EventPublisher
	logger   *slog.Logger

	mu         sync.Mutex
	window     *window
	items      []*Directive
	running    bool // worker goroutine alive
	processing bool
	stopped    bool
	idle       chan struct{} // closed when the worker exits
}

// Options configures a Queue. Without Config the window is Debounce;
// with it, gateway.debounce_ms is read on every new window.
type Options struct {
	Clock    clock.Clock
	Config   config.Source
	Debounce time.Duration
	Events   bus.EventPublisher // optional
	Logger   *slog.Logger
}

// NewQueue creates a Queue.
func NewQueue(proc Processor, opts Options) *Queue {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Queue{
		proc:     proc,
		clock:    opts.Clock,
		cfg:      opts.Config,
		debounce: opts.Debounce,
		events:   opts.Events,
		logger:   opts.Logger,
	}
}

// Enqueue adds text to the open debounce window, restarting its timer,
// or opens a new window. The window's destination is that of its first
// message.
func (q *Queue) Enqueue(text string, src Source) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		q.logger.Warn("directive: queue stopped, dropping message")
		return
	}

	w := q.window
	if w == nil {
		w = &window{dest: src.Destination, opened: q.clock.Now(), wait: q.debounceWindow()}
		q.window = w
	} else {
		w.timer.Stop()
	}
	w.parts = append(w.parts, text)
	if !src.Message.IsZero() {
		w.sources = append(w.sources, src.Message)
	}
	w.gen++
	gen := w.gen
	if w.wait <= 0 {
		q.mu.Unlock()
		q.flush(w, gen)
		return
	}
	w.timer = q.clock.AfterFunc(w.wait, func() { q.flush(w, gen) })
	q.mu.Unlock()
}

func (q *Queue) debounceWindow() time.Duration {
	if q.cfg != nil {
		return q.cfg.Current().DebounceWindow()
	}
	return q.debounce
}

// flush turns the window into a directive. Stale timers (restarted or
// stopped windows) are ignored so each window is flushed exactly once.
func (q *Queue) flush(w *window, gen int) {
	q.mu.Lock()
	if q.window != w || w.gen != gen || q.stopped {
		q.mu.Unlock()
		return
	}
	q.window = nil

	d := &Directive{
		ID:             uuid.NewString(),
		Text:           strings.Join(w.parts, "\n"),
		SourceChannel:  w.dest.ChannelID,
		SourceThread:   w.dest.ThreadID,
		EnqueuedAt:     q.clock.Now(),
		SourceMessages: w.sources,
	}
	q.items = append(q.items, d)
	queueLen := len(q.items)
	start := !q.running
	if start {
		q.running = true
		q.idle = make(chan struct{})
	}
	q.mu.Unlock()

	q.logger.Info("directive queued", "id", d.ID, "messages", len(w.parts), "queue_len", queueLen)
	q.broadcast(protocol.EventDirectiveQueued, protocol.DirectiveEvent{
		ID: d.ID, Text: d.Text, Messages: len(w.parts), QueueLen: queueLen,
	})
	if start {
		go q.work()
	}
}

// work drains the FIFO and exits when it is empty.
func (q *Queue) work() {
	for {
		q.mu.Lock()
		if len(q.items) == 0 || q.stopped {
			q.running = false
			q.processing = false
			close(q.idle)
			q.mu.Unlock()
			return
		}
		d := q.items[0]
		q.items = q.items[1:]
		q.processing = true
		q.mu.Unlock()

		q.process(d)
	}
}

func (q *Queue) process(d *Directive) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("directive: processor panicked", "id", d.ID, "panic", r)
		}
	}()
	if err := q.proc.Process(context.Background(), d); err != nil {
		q.logger.Warn("directive failed", "id", d.ID, "error", err)
	}
}

// State reports the queue state. Processing wins over queued items,
// which win over an open window.
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	switch {
	case q.processing:
		return StateProcessing
	case len(q.items) > 0:
		return StateQueued
	case q.window != nil:
		return StateDebouncing
	}
	return StateIdle
}

// Len returns the number of directives waiting, excluding the one being
// processed and any open window.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stop discards the open window and any waiting directives, then waits
// for the in-flight directive to finish or ctx to end. The running
// directive is never cancelled.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	q.stopped = true
	if q.window != nil {
		q.window.timer.Stop()
		q.logger.Info("directive: discarding open window", "messages", len(q.window.parts))
		q.window = nil
	}
	if n := len(q.items); n > 0 {
		q.logger.Info("directive: discarding queued directives", "count", n)
		q.items = nil
	}
	idle := q.idle
	running := q.running
	q.mu.Unlock()

	if !running {
		return nil
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) broadcast(name string, payload any) {
	if q.events != nil {
		q.events.Broadcast(bus.Event{Name: name, Payload: payload})
	}
}
