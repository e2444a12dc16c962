// Package digest posts a scheduled summary of agent spend.
package digest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/bus"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/channels"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/clock"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/config"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/store"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/pkg/protocol"
)

// Options wires a Scheduler.
type Options struct {
	Config  config.Source
	Ledger  store.CostLedger
	Reports store.CostReporter
	Out     channels.Messenger
	Clock   clock.Clock        // optional
	Events  bus.EventPublisher // optional
	Logger  *slog.Logger       // optional
}

// Scheduler posts the digest on the configured cron schedule.
type Scheduler struct {
	cfg     config.Source
	ledger  store.CostLedger
	reports store.CostReporter
	out     channels.Messenger
	clock   clock.Clock
	events  bus.EventPublisher
	logger  *slog.Logger

	mu      sync.Mutex
	timer   *clock.Timer
	stopped bool
}

// New validates the schedule and returns an unstarted Scheduler.
func New(opts Options) (*Scheduler, error) {
	expr := opts.Config.Current().Digest.Schedule
	gron := gronx.New()
	if !gron.IsValid(expr) {
		return nil, fmt.Errorf("digest: invalid schedule %q", expr)
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Scheduler{
		cfg:     opts.Config,
		ledger:  opts.Ledger,
		reports: opts.Reports,
		out:     opts.Out,
		clock:   opts.Clock,
		events:  opts.Events,
		logger:  opts.Logger,
	}, nil
}

// Start arms the timer for the next tick.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduleLocked()
}

// Stop cancels the pending tick.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.timer.Stop()
}

func (s *Scheduler) scheduleLocked() error {
	if s.stopped {
		return nil
	}
	expr := s.cfg.Current().Digest.Schedule
	now := s.clock.Now()
	next, err := gronx.NextTickAfter(expr, now, false)
	if err != nil {
		return fmt.Errorf("digest: next tick for %q: %w", expr, err)
	}
	wait := next.Sub(now)
	if wait < time.Second {
		wait = time.Second
	}
	s.timer = s.clock.AfterFunc(wait, s.fire)
	s.logger.Debug("digest: scheduled", "next", next)
	return nil
}

func (s *Scheduler) fire() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := s.Post(ctx); err != nil {
		s.logger.Warn("digest: post failed", "error", err)
	}
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.scheduleLocked(); err != nil {
		s.logger.Error("digest: reschedule failed", "error", err)
	}
}

// Post sends the digest now.
func (s *Scheduler) Post(ctx context.Context) error {
	cfg := s.cfg.Current()
	channel := cfg.Digest.Channel
	if channel == "" {
		channel = cfg.Routing.LeadChannel
	}
	if channel == "" {
		return fmt.Errorf("digest: no channel configured")
	}

	today, err := s.ledger.CostToday(ctx)
	if err != nil {
		return fmt.Errorf("digest: cost today: %w", err)
	}
	month, err := s.ledger.CostThisMonth(ctx)
	if err != nil {
		return fmt.Errorf("digest: cost this month: %w", err)
	}
	var byActor []store.ActorCost
	if s.reports != nil {
		byActor, err = s.reports.CostsByActor(ctx, store.DayStart(s.clock.Now()))
		if err != nil {
			return fmt.Errorf("digest: costs by actor: %w", err)
		}
	}

	s.out.Post(bus.Destination{ChannelID: channel}, bus.Payload{Text: Render(today, month, cfg.Costs, byActor)})
	if s.events != nil {
		s.events.Broadcast(bus.Event{Name: protocol.EventDigestPosted, Payload: protocol.DigestEvent{TodayUSD: today, MonthUSD: month}})
	}
	s.logger.Info("digest posted", "channel", channel, "today_usd", today, "month_usd", month)
	return nil
}

// Render formats the digest text.
func Render(today, month float64, limits config.CostsConfig, byActor []store.ActorCost) string {
	var b strings.Builder
	b.WriteString("**Daily cost digest**\n")
	fmt.Fprintf(&b, "Today: $%.2f%s\n", today, ofLimit(limits.DailyLimitUSD))
	fmt.Fprintf(&b, "This month: $%.2f%s", month, ofLimit(limits.MonthlyLimitUSD))
	if len(byActor) > 0 {
		b.WriteString("\n\nToday by actor:")
		for _, a := range byActor {
			runs := "runs"
			if a.Runs == 1 {
				runs = "run"
			}
			fmt.Fprintf(&b, "\n- %s: $%.2f (%d %s)", a.Actor, a.CostUSD, a.Runs, runs)
		}
	}
	return b.String()
}

func ofLimit(limit float64) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" of $%.2f", limit)
}
