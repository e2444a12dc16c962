// Package confirm asks the operator whether an ambiguous message in a
// thread should become a directive, and routes the answer.
package confirm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/bus"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/channels"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/clock"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/config"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/pkg/protocol"
)

// Action kinds carried in button ids.
const (
	ActionProceed = "proceed"
	ActionChat    = "chat"
)

const defaultTimeout = 2 * time.Minute

var (
	approveWords = []string{"yes", "y", "go", "proceed", "ok", "okay", "sure"}
	denyWords    = []string{"no", "n", "chat", "cancel", "nope"}
)

// Pending is an open confirmation, one per thread.
type Pending struct {
	ID        string
	Text      string
	Channel   string
	Thread    string
	Source    bus.MessageRef
	PromptRef bus.MessageRef
	CreatedAt time.Time

	timer   *clock.Timer
	outcome string // set under Workflow.mu when removed
}

// Destination is where the prompt and follow-ups live.
func (p *Pending) Destination() bus.Destination {
	return bus.Destination{ChannelID: p.Channel, ThreadID: p.Thread}
}

// Router receives the resolved message.
type Router interface {
	// ToDirective hands the message to the directive queue.
	ToDirective(text string, dest bus.Destination, source bus.MessageRef)
	// ToChat answers the message conversationally.
	ToChat(text string, dest bus.Destination, source bus.MessageRef)
}

// Workflow tracks pending confirmations.
type Workflow struct {
	out    channels.Messenger
	router Router
	cfg    config.Source
	clock  clock.Clock
	events bus.EventPublisher
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*Pending // by thread id
}

// Options configures a Workflow. Clock, Events and Logger are optional.
type Options struct {
	Out    channels.Messenger
	Router Router
	Config config.Source
	Clock  clock.Clock
	Events bus.EventPublisher
	Logger *slog.Logger
}

// New creates a Workflow.
func New(opts Options) *Workflow {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Workflow{
		out:     opts.Out,
		router:  opts.Router,
		cfg:     opts.Config,
		clock:   opts.Clock,
		events:  opts.Events,
		logger:  opts.Logger,
		pending: make(map[string]*Pending),
	}
}

// Request asks whether text should become a directive. Messages outside
// a thread go straight to the directive queue. An older confirmation in
// the same thread is superseded and resolved as chat.
func (w *Workflow) Request(ctx context.Context, text string, dest bus.Destination, source bus.MessageRef) {
	if dest.ThreadID == "" {
		w.router.ToDirective(text, dest, source)
		return
	}

	p := &Pending{
		ID:        uuid.NewString(),
		Text:      text,
		Channel:   dest.ChannelID,
		Thread:    dest.ThreadID,
		Source:    source,
		CreatedAt: w.clock.Now(),
	}

	w.mu.Lock()
	old := w.pending[dest.ThreadID]
	if old != nil {
		old.timer.Stop()
		old.outcome = protocol.ConfirmSuperseded
	}
	w.pending[dest.ThreadID] = p
	w.mu.Unlock()

	if old != nil {
		w.finish(old, protocol.ConfirmSuperseded)
	}

	ref, err := w.out.PostAwait(ctx, dest, bus.Payload{
		Text: fmt.Sprintf("This looks like work for the team:\n> %s\nQueue it as a directive?", channels.Truncate(text, 200)),
		Actions: []bus.Action{
			{ID: channels.EncodeActionID(ActionProceed, p.ID), Label: "Proceed", Style: "primary"},
			{ID: channels.EncodeActionID(ActionChat, p.ID), Label: "Just chat", Style: "secondary"},
		},
	})
	if err != nil {
		w.logger.Warn("confirm: prompt post failed, treating as chat", "thread", dest.ThreadID, "error", err)
		if w.take(dest.ThreadID, p.ID, protocol.ConfirmDecline) != nil {
			w.router.ToChat(text, dest, source)
		}
		return
	}

	w.mu.Lock()
	if w.pending[dest.ThreadID] != p {
		// Resolved while the prompt was being posted.
		outcome := p.outcome
		w.mu.Unlock()
		w.out.Update(ref, bus.Payload{Text: outcomeNote(outcome), ClearActions: true})
		return
	}
	p.PromptRef = ref
	p.timer = w.clock.AfterFunc(w.timeout(), func() { w.expire(p) })
	w.mu.Unlock()

	w.broadcast(protocol.EventConfirmRequested, protocol.ConfirmEvent{ThreadID: dest.ThreadID})
	w.logger.Info("confirm: requested", "thread", dest.ThreadID, "id", p.ID)
}

// Resolve removes and returns the pending confirmation for threadID,
// stopping its timer. Every resolution path goes through it, so a
// confirmation is resolved at most once.
func (w *Workflow) Resolve(threadID string) (*Pending, bool) {
	p := w.take(threadID, "", "")
	return p, p != nil
}

// take removes the pending entry for threadID if its id matches (any id
// when id is empty) and records outcome on it.
func (w *Workflow) take(threadID, id, outcome string) *Pending {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.pending[threadID]
	if !ok || (id != "" && p.ID != id) {
		return nil
	}
	delete(w.pending, threadID)
	p.timer.Stop()
	p.outcome = outcome
	return p
}

// HandleAction resolves a button click. It reports whether actionID
// belonged to this workflow.
func (w *Workflow) HandleAction(dest bus.Destination, actionID string) bool {
	kind, id, ok := channels.DecodeActionID(actionID)
	if !ok || (kind != ActionProceed && kind != ActionChat) {
		return false
	}
	outcome := protocol.ConfirmDecline
	if kind == ActionProceed {
		outcome = protocol.ConfirmProceed
	}
	p := w.take(dest.ThreadID, id, outcome)
	if p == nil {
		w.closed(dest)
		return true
	}
	w.finish(p, outcome)
	return true
}

// HandleReply resolves a typed approve or deny answer in a thread with
// an open confirmation. It reports whether text was consumed.
func (w *Workflow) HandleReply(dest bus.Destination, text string) bool {
	if dest.ThreadID == "" {
		return false
	}
	outcome, ok := parseReply(text)
	if !ok {
		return false
	}
	p := w.take(dest.ThreadID, "", outcome)
	if p == nil {
		return false
	}
	w.finish(p, outcome)
	return true
}

// IsPending reports whether threadID has an open confirmation.
func (w *Workflow) IsPending(threadID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.pending[threadID]
	return ok
}

// Len returns the number of open confirmations.
func (w *Workflow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

func (w *Workflow) expire(p *Pending) {
	if w.take(p.Thread, p.ID, protocol.ConfirmTimeout) == nil {
		return
	}
	w.finish(p, protocol.ConfirmTimeout)
}

// finish updates the prompt and routes an already removed confirmation.
func (w *Workflow) finish(p *Pending, outcome string) {
	w.mu.Lock()
	ref := p.PromptRef
	w.mu.Unlock()
	if !ref.IsZero() {
		w.out.Update(ref, bus.Payload{Text: outcomeNote(outcome), ClearActions: true})
	}

	w.logger.Info("confirm: resolved", "thread", p.Thread, "id", p.ID, "outcome", outcome)
	w.broadcast(protocol.EventConfirmResolved, protocol.ConfirmEvent{ThreadID: p.Thread, Outcome: outcome})

	if outcome == protocol.ConfirmProceed {
		w.router.ToDirective(p.Text, p.Destination(), p.Source)
		return
	}
	w.router.ToChat(p.Text, p.Destination(), p.Source)
}

func outcomeNote(outcome string) string {
	switch outcome {
	case protocol.ConfirmProceed:
		return "Queued as a directive."
	case protocol.ConfirmDecline:
		return "OK, treating it as conversation."
	case protocol.ConfirmTimeout:
		return "No response, treating it as conversation."
	case protocol.ConfirmSuperseded:
		return "Superseded by a newer message."
	}
	return "Already answered."
}

func (w *Workflow) closed(dest bus.Destination) {
	w.logger.Debug("confirm: action for closed confirmation", "thread", dest.ThreadID)
	w.out.Post(dest, bus.Payload{Text: "That confirmation already closed."})
}

func (w *Workflow) timeout() time.Duration {
	if w.cfg != nil {
		if d := w.cfg.Current().ConfirmTimeout(); d > 0 {
			return d
		}
	}
	return defaultTimeout
}

func (w *Workflow) broadcast(name string, payload any) {
	if w.events != nil {
		w.events.Broadcast(bus.Event{Name: name, Payload: payload})
	}
}

// parseReply maps a short typed answer to an outcome.
func parseReply(text string) (string, bool) {
	word := strings.ToLower(strings.TrimFunc(strings.TrimSpace(text), func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	}))
	for _, a := range approveWords {
		if word == a {
			return protocol.ConfirmProceed, true
		}
	}
	for _, d := range denyWords {
		if word == d {
			return protocol.ConfirmDecline, true
		}
	}
	return "", false
}
