// Package lifecycle starts, stops and reports the lead agent session that
// directives resume.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/config"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/engine"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/store"
)

// CostActor labels the bootstrap turn in the cost ledger.
const CostActor = "session"

// ErrSessionRunning is returned by Start when a session is already active
// and force is false.
var ErrSessionRunning = errors.New("a session is already active")

// Manager drives the lead session.
type Manager struct {
	cfg    *config.Config
	engine engine.Engine
	stores *store.Stores
	logger *slog.Logger
}

// New returns a Manager. logger may be nil.
func New(cfg *config.Config, eng engine.Engine, stores *store.Stores, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{cfg: cfg, engine: eng, stores: stores, logger: logger}
}

// Start runs the bootstrap prompt on a fresh engine session and records
// it as the active session. With force, a running session is replaced.
func (m *Manager) Start(ctx context.Context, force bool) (*store.ActiveSession, *engine.Result, error) {
	current, err := m.stores.Costs.GetActiveSession(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("check active session: %w", err)
	}
	if current != nil && !force {
		return current, nil, ErrSessionRunning
	}

	lead := m.cfg.Lead()
	stream, err := m.engine.Start(ctx, engine.Request{
		Prompt:       m.cfg.Engine.BootstrapPrompt,
		Model:        lead.Model,
		AllowedTools: lead.Tools,
		MaxBudgetUSD: lead.MaxBudgetUSD,
		MaxTurns:     lead.MaxTurns,
		SystemPrompt: lead.SystemPrompt,
		WorkDir:      m.cfg.Engine.WorkDir,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("start engine session: %w", err)
	}
	res, err := engine.Collect(stream, nil)
	if res != nil {
		if cerr := m.stores.Costs.RecordRunCosts(ctx, res, CostActor, lead.Model); cerr != nil {
			m.logger.Warn("lifecycle: cost not recorded", "error", cerr)
		}
	}
	if err != nil {
		return nil, res, fmt.Errorf("bootstrap turn: %w", err)
	}
	if res.SessionID == "" {
		return nil, res, fmt.Errorf("bootstrap turn: %w", engine.ErrNoResult)
	}

	sess, err := m.stores.Sessions.StartSession(ctx, res.SessionID)
	if err != nil {
		return nil, res, fmt.Errorf("record session: %w", err)
	}
	m.logger.Info("lifecycle: session started", "session", sess.ID, "engine_session", sess.EngineSessionID, "cost_usd", res.CostUSD)
	return sess, res, nil
}

// Stop ends the active session.
func (m *Manager) Stop(ctx context.Context) (*store.ActiveSession, error) {
	sess, err := m.stores.Costs.GetActiveSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("check active session: %w", err)
	}
	if sess == nil {
		return nil, store.ErrNoActiveSession
	}
	if err := m.stores.Sessions.EndSession(ctx, sess.ID); err != nil {
		return nil, fmt.Errorf("end session: %w", err)
	}
	m.logger.Info("lifecycle: session stopped", "session", sess.ID)
	return sess, nil
}

// Status is the state reported by `aicib session status`.
type Status struct {
	Session  *store.ActiveSession
	TodayUSD float64
	MonthUSD float64
	Limits   config.CostsConfig
}

// Status reads the active session and current spend.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	st := Status{Limits: m.cfg.Costs}
	var err error
	if st.Session, err = m.stores.Costs.GetActiveSession(ctx); err != nil {
		return st, fmt.Errorf("check active session: %w", err)
	}
	if st.TodayUSD, err = m.stores.Costs.CostToday(ctx); err != nil {
		return st, fmt.Errorf("cost today: %w", err)
	}
	if st.MonthUSD, err = m.stores.Costs.CostThisMonth(ctx); err != nil {
		return st, fmt.Errorf("cost this month: %w", err)
	}
	return st, nil
}
