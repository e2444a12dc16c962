package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/besteffort"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/channels"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/config"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/engine"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/sessionlock"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/store"
)

// CostActor labels classifier spend in the cost ledger.
const CostActor = "classifier"

var tracer = otel.Tracer("aicib/classify")

const promptTemplate = `Classify the following message from the human operator. Answer with exactly one word:
"brief" if it asks the company to do work, or "chat" if it is conversation.

Message:
%s`

// Classifier runs both tiers. Tier 2 shares the lead session with
// directive processing and lead chat, so it holds the session lock for
// the duration of its engine call.
type Classifier struct {
	lock    *sessionlock.Lock
	engine  engine.Engine
	ledger  store.CostLedger
	cfg     config.Source
	timeout time.Duration
	logger  *slog.Logger

	mu        sync.Mutex
	rulesCfg  *config.Config
	heuristic *Heuristic
}

// Options configures a Classifier. The tier-1 table follows the
// classifier section of Config and is recompiled after each reload.
type Options struct {
	Lock   *sessionlock.Lock
	Engine engine.Engine
	Ledger store.CostLedger
	Config config.Source
	// Timeout overrides classifier.timeout_sec, lock wait included.
	Timeout time.Duration
	Logger  *slog.Logger
}

// New creates a Classifier.
func New(opts Options) *Classifier {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		lock:    opts.Lock,
		engine:  opts.Engine,
		ledger:  opts.Ledger,
		cfg:     opts.Config,
		timeout: opts.Timeout,
		logger:  logger,
	}
}

// Heuristic returns the tier-1 table for the current config.
func (c *Classifier) Heuristic() *Heuristic {
	cfg := c.cfg.Current()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rulesCfg != cfg {
		c.heuristic = FromConfig(cfg.Classifier).Compile()
		c.rulesCfg = cfg
	}
	return c.heuristic
}

// Classify returns Chat or Brief, escalating ambiguous messages to tier 2.
func (c *Classifier) Classify(ctx context.Context, text string) Verdict {
	if v := c.Heuristic().Classify(text); v != Ambiguous {
		return v
	}
	return c.Refine(ctx, text)
}

// Refine is tier 2. Every failure yields Chat.
func (c *Classifier) Refine(ctx context.Context, text string) Verdict {
	v, err := c.refine(ctx, text)
	if err != nil {
		c.logger.Info("classify: tier 2 failed, defaulting to chat", "error", err)
		return Chat
	}
	return v
}

func (c *Classifier) refine(ctx context.Context, text string) (Verdict, error) {
	cfg := c.cfg.Current()
	timeout := c.timeout
	if timeout <= 0 {
		timeout = cfg.ClassifyTimeout()
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "classify.tier2")
	defer span.End()

	if err := store.CheckCeilings(ctx, c.ledger, cfg.Costs.DailyLimitUSD, cfg.Costs.MonthlyLimitUSD); err != nil {
		return Chat, err
	}
	if err := c.lock.Acquire(ctx); err != nil {
		return Chat, fmt.Errorf("wait for session lock: %w", err)
	}
	defer c.lock.Release()

	sess, err := c.ledger.GetActiveSession(ctx)
	if err != nil {
		return Chat, fmt.Errorf("active session: %w", err)
	}
	if sess == nil {
		return Chat, store.ErrNoActiveSession
	}

	stream, err := c.engine.Resume(ctx, sess.EngineSessionID, engine.Request{
		Prompt:       fmt.Sprintf(promptTemplate, text),
		Model:        cfg.Classifier.Model,
		MaxTurns:     1,
		MaxBudgetUSD: cfg.Classifier.BudgetUSD,
		Fork:         true,
	})
	if err != nil {
		return Chat, fmt.Errorf("resume lead session: %w", err)
	}
	res, err := engine.Collect(stream, nil)
	if res != nil {
		besteffort.Do(c.logger, "record classifier cost", func() error {
			return c.ledger.RecordRunCosts(context.WithoutCancel(ctx), res, CostActor, cfg.Classifier.Model)
		})
	}
	if err != nil {
		return Chat, err
	}

	v, ok := ParseVerdict(res.Text)
	if !ok {
		return Chat, fmt.Errorf("%w: %q", ErrMalformed, channels.Truncate(res.Text, 40))
	}
	span.SetAttributes(attribute.String("verdict", string(v)))
	return v, nil
}

// ErrMalformed is reported for answers that are neither verdict.
var ErrMalformed = errors.New("classify: malformed verdict")

// ParseVerdict reads a one-word answer, tolerating case, quotes and
// trailing punctuation.
func ParseVerdict(answer string) (Verdict, bool) {
	fields := strings.Fields(answer)
	if len(fields) == 0 {
		return Chat, false
	}
	switch bareWord(fields[0]) {
	case "brief":
		return Brief, true
	case "chat":
		return Chat, true
	}
	return Chat, false
}
