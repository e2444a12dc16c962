// Package storetest provides an in-memory store.Backend for tests.
package storetest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/engine"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/store"
)

// CostEntry is one recorded run.
type CostEntry struct {
	Actor   string
	Model   string
	CostUSD float64
	At      time.Time
}

// Memory implements store.Backend in memory.
type Memory struct {
	mu       sync.Mutex
	active   *store.ActiveSession
	costs    []CostEntry
	bindings map[string]store.ChatBinding
	journal  []store.JournalEntry
	now      func() time.Time

	// Err, when set, fails every call.
	Err error
}

var _ store.Backend = (*Memory)(nil)

// New returns an empty store.
func New() *Memory {
	return &Memory{bindings: make(map[string]store.ChatBinding), now: time.Now}
}

// WithSession returns a store with an active lead session.
func WithSession(engineSessionID string) *Memory {
	m := New()
	m.active = &store.ActiveSession{ID: "session-1", EngineSessionID: engineSessionID, StartedAt: m.now()}
	return m
}

func (m *Memory) RecordRunCosts(_ context.Context, res *engine.Result, actor, model string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.costs = append(m.costs, CostEntry{Actor: actor, Model: model, CostUSD: res.CostUSD, At: m.now()})
	return nil
}

func (m *Memory) GetActiveSession(context.Context) (*store.ActiveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	if m.active == nil {
		return nil, nil
	}
	s := *m.active
	return &s, nil
}

func (m *Memory) CostToday(context.Context) (float64, error) {
	return m.costSince(store.DayStart(m.now()))
}

func (m *Memory) CostThisMonth(context.Context) (float64, error) {
	return m.costSince(store.MonthStart(m.now()))
}

func (m *Memory) costSince(t time.Time) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	total := 0.0
	for _, c := range m.costs {
		if !c.At.Before(t) {
			total += c.CostUSD
		}
	}
	return total, nil
}

func (m *Memory) CostsByActor(_ context.Context, since time.Time) ([]store.ActorCost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byActor := map[string]*store.ActorCost{}
	var order []string
	for _, c := range m.costs {
		if c.At.Before(since) {
			continue
		}
		a, ok := byActor[c.Actor]
		if !ok {
			a = &store.ActorCost{Actor: c.Actor}
			byActor[c.Actor] = a
			order = append(order, c.Actor)
		}
		a.CostUSD += c.CostUSD
		a.Runs++
	}
	out := make([]store.ActorCost, 0, len(order))
	for _, k := range order {
		out = append(out, *byActor[k])
	}
	return out, nil
}

func (m *Memory) StartSession(_ context.Context, engineSessionID string) (*store.ActiveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = &store.ActiveSession{ID: uuid.NewString(), EngineSessionID: engineSessionID, StartedAt: m.now()}
	s := *m.active
	return &s, nil
}

func (m *Memory) EndSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil && m.active.ID == id {
		m.active = nil
	}
	return nil
}

func (m *Memory) UpdateEngineSession(_ context.Context, id, engineSessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil || m.active.ID != id {
		return store.ErrNoActiveSession
	}
	m.active.EngineSessionID = engineSessionID
	return nil
}

func (m *Memory) GetBinding(_ context.Context, owner, agent string) (*store.ChatBinding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bindings[owner+"/"+agent]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (m *Memory) UpsertBinding(_ context.Context, b store.ChatBinding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bindings[b.OwnerSession+"/"+b.AgentKey] = b
	return nil
}

func (m *Memory) RecordJournalEntry(_ context.Context, directive string, res *engine.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	e := store.JournalEntry{ID: uuid.NewString(), Directive: directive, CreatedAt: m.now()}
	if res != nil {
		e.Summary = store.Summarize(res.Text)
		e.CostUSD = res.CostUSD
		e.SessionID = res.SessionID
	}
	m.journal = append(m.journal, e)
	return nil
}

// AddCost records spend directly, for ceiling tests.
func (m *Memory) AddCost(actor string, usd float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.costs = append(m.costs, CostEntry{Actor: actor, CostUSD: usd, At: m.now()})
}

// Costs returns a copy of the recorded runs.
func (m *Memory) Costs() []CostEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CostEntry(nil), m.costs...)
}

// Journal returns a copy of the journal.
func (m *Memory) Journal() []store.JournalEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.JournalEntry(nil), m.journal...)
}
