package directive

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/besteffort"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/bus"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/channels"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/config"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/engine"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/outbound"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/sessionlock"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/store"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/tracing"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/pkg/protocol"
)

// CostActor labels directive spend in the cost ledger.
const CostActor = "directive"

var tracer = otel.Tracer("aicib/directive")

// Sink receives the lead's output while a directive runs.
type Sink interface {
	BeginDirective(dest bus.Destination)
	EndDirective()
	Handle(msg outbound.Message)
}

// Runner processes directives on the lead session.
type Runner struct {
	cfg      config.Source
	lock     *sessionlock.Lock
	engine   engine.Engine
	ledger   store.CostLedger
	sessions store.SessionStore
	journal  store.Journal
	sink     Sink
	out      channels.Messenger
	events   bus.EventPublisher
	logger   *slog.Logger
}

// RunnerOptions wires a Runner. Sessions, Journal and Events are optional.
type RunnerOptions struct {
	Config   config.Source
	Lock     *sessionlock.Lock
	Engine   engine.Engine
	Ledger   store.CostLedger
	Sessions store.SessionStore
	Journal  store.Journal
	Sink     Sink
	Out      channels.Messenger
	Events   bus.EventPublisher
	Logger   *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(opts RunnerOptions) *Runner {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		cfg:      opts.Config,
		lock:     opts.Lock,
		engine:   opts.Engine,
		ledger:   opts.Ledger,
		sessions: opts.Sessions,
		journal:  opts.Journal,
		sink:     opts.Sink,
		out:      opts.Out,
		events:   opts.Events,
		logger:   opts.Logger,
	}
}

// Process runs d: it checks the session and the spend ceilings, then
// drives one lead turn under the session lock, streaming its output
// through the sink while the lock is held. Failures are reported to the directive's origin.
func (r *Runner) Process(ctx context.Context, d *Directive) error {
	ctx, span := tracer.Start(ctx, "directive.process")
	defer span.End()
	span.SetAttributes(attribute.String("directive.id", d.ID), attribute.Int("directive.messages", len(d.SourceMessages)))

	cfg := r.cfg.Current()
	lead := cfg.Lead()

	res, err := r.process(ctx, cfg, lead, d)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.report(lead, d, err)
		r.react(d, bus.ReactionFailure)
		r.broadcast(protocol.EventDirectiveFailed, protocol.DirectiveEvent{ID: d.ID, Error: err.Error(), CostUSD: costOf(res)})
		return err
	}
	r.react(d, bus.ReactionSuccess)
	r.broadcast(protocol.EventDirectiveCompleted, protocol.DirectiveEvent{ID: d.ID, CostUSD: costOf(res)})
	r.logger.Info("directive completed", "id", d.ID, "cost_usd", costOf(res))
	return nil
}

func (r *Runner) process(ctx context.Context, cfg *config.Config, lead config.ResolvedAgent, d *Directive) (*engine.Result, error) {
	sess, err := r.ledger.GetActiveSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("active session: %w", err)
	}
	if sess == nil {
		return nil, store.ErrNoActiveSession
	}
	if err := store.CheckCeilings(ctx, r.ledger, cfg.Costs.DailyLimitUSD, cfg.Costs.MonthlyLimitUSD); err != nil {
		return nil, err
	}

	for _, ref := range d.SourceMessages {
		r.out.React(ref, bus.ReactionAck)
	}
	r.broadcast(protocol.EventDirectiveStarted, protocol.DirectiveEvent{ID: d.ID, Text: d.Text})
	r.logger.Info("directive started", "id", d.ID, "preview", channels.Truncate(d.Text, 60), "trace_id", tracing.TraceID(ctx))

	if err := r.lock.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("wait for session lock: %w", err)
	}
	defer r.lock.Release()

	// Routing state belongs to whoever holds the lead session.
	r.sink.BeginDirective(d.Destination())
	defer r.sink.EndDirective()

	stream, err := r.engine.Resume(ctx, sess.EngineSessionID, engine.Request{
		Prompt:       d.Text,
		Model:        lead.Model,
		AllowedTools: lead.Tools,
		MaxBudgetUSD: lead.MaxBudgetUSD,
		MaxTurns:     lead.MaxTurns,
		SystemPrompt: lead.SystemPrompt,
		WorkDir:      cfg.Engine.WorkDir,
	})
	if err != nil {
		return nil, fmt.Errorf("resume lead session: %w", err)
	}

	res, err := engine.Collect(stream, func(ev engine.Event) {
		if msg, ok := outbound.FromEvent(lead.Key, ev); ok {
			r.sink.Handle(msg)
		}
	})
	if res != nil {
		besteffort.Do(r.logger, "record directive cost", func() error {
			return r.ledger.RecordRunCosts(ctx, res, CostActor, lead.Model)
		}, "directive_id", d.ID)
		if r.sessions != nil && res.SessionID != "" && res.SessionID != sess.EngineSessionID {
			besteffort.Do(r.logger, "update engine session", func() error {
				return r.sessions.UpdateEngineSession(ctx, sess.ID, res.SessionID)
			})
		}
	}
	if err != nil {
		return res, err
	}
	if r.journal != nil {
		besteffort.Do(r.logger, "journal entry", func() error {
			return r.journal.RecordJournalEntry(ctx, d.Text, res)
		}, "directive_id", d.ID)
	}
	return res, nil
}

func (r *Runner) report(lead config.ResolvedAgent, d *Directive, err error) {
	dest := d.Destination()
	if dest.ChannelID == "" {
		return
	}
	r.sink.Handle(outbound.Message{
		AgentKey:    lead.Key,
		Kind:        outbound.KindText,
		Text:        outbound.FormatAgentError(lead.DisplayName, err),
		Destination: &dest,
	})
}

func (r *Runner) react(d *Directive, reaction bus.Reaction) {
	for _, ref := range d.SourceMessages {
		r.out.Unreact(ref, bus.ReactionAck)
		r.out.React(ref, reaction)
	}
}

func (r *Runner) broadcast(name string, payload any) {
	if r.events != nil {
		r.events.Broadcast(bus.Event{Name: name, Payload: payload})
	}
}

func costOf(res *engine.Result) float64 {
	if res == nil {
		return 0
	}
	return res.CostUSD
}
