// Package sqlite implements the store interfaces on a local SQLite file
// (standalone mode).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/engine"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/store"
)

// Store implements store.Backend using SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and applies the
// schema. now may be nil.
func Open(path string, now func() time.Time) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer; SQLite serializes anyway and this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if now == nil {
		now = time.Now
	}
	s := &Store{db: db, now: now}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the handle for diagnostics.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		engine_session_id TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);

	CREATE TABLE IF NOT EXISTS cost_entries (
		id TEXT PRIMARY KEY,
		session_id TEXT,
		actor TEXT NOT NULL,
		model TEXT NOT NULL,
		engine_session_id TEXT,
		cost_usd REAL NOT NULL,
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		cache_read_tokens INTEGER NOT NULL DEFAULT 0,
		cache_creation_tokens INTEGER NOT NULL DEFAULT 0,
		num_turns INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cost_entries_created ON cost_entries(created_at);

	CREATE TABLE IF NOT EXISTS chat_bindings (
		owner_session TEXT NOT NULL,
		agent_key TEXT NOT NULL,
		channel TEXT NOT NULL,
		external_session_id TEXT NOT NULL,
		last_activity INTEGER NOT NULL,
		PRIMARY KEY (owner_session, agent_key)
	);

	CREATE TABLE IF NOT EXISTS journal_entries (
		id TEXT PRIMARY KEY,
		session_id TEXT,
		directive TEXT NOT NULL,
		summary TEXT NOT NULL,
		cost_usd REAL NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(query)
	return err
}

func (s *Store) activeSessionID(ctx context.Context) (string, error) {
	sess, err := s.GetActiveSession(ctx)
	if err != nil || sess == nil {
		return "", err
	}
	return sess.ID, nil
}

// RecordRunCosts implements store.CostLedger.
func (s *Store) RecordRunCosts(ctx context.Context, res *engine.Result, actor, model string) error {
	if res == nil {
		return nil
	}
	sessionID, err := s.activeSessionID(ctx)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cost_entries (id, session_id, actor, model, engine_session_id, cost_usd,
			input_tokens, output_tokens, cache_read_tokens, cache_creation_tokens, num_turns, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), nullString(sessionID), actor, model, res.SessionID, res.CostUSD,
		res.Usage.InputTokens, res.Usage.OutputTokens, res.Usage.CacheReadTokens, res.Usage.CacheCreationTokens,
		res.NumTurns, s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert cost entry: %w", err)
	}
	return nil
}

// GetActiveSession implements store.CostLedger.
func (s *Store) GetActiveSession(ctx context.Context) (*store.ActiveSession, error) {
	var (
		sess    store.ActiveSession
		started int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, engine_session_id, started_at FROM sessions
		 WHERE status = 'active' ORDER BY started_at DESC LIMIT 1`,
	).Scan(&sess.ID, &sess.EngineSessionID, &started)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query active session: %w", err)
	}
	sess.StartedAt = time.UnixMilli(started)
	return &sess, nil
}

// CostToday implements store.CostLedger.
func (s *Store) CostToday(ctx context.Context) (float64, error) {
	return s.costSince(ctx, store.DayStart(s.now()))
}

// CostThisMonth implements store.CostLedger.
func (s *Store) CostThisMonth(ctx context.Context) (float64, error) {
	return s.costSince(ctx, store.MonthStart(s.now()))
}

func (s *Store) costSince(ctx context.Context, since time.Time) (float64, error) {
	var total float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0) FROM cost_entries WHERE created_at >= ?`,
		since.UnixMilli(),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum costs: %w", err)
	}
	return total, nil
}

// CostsByActor implements store.CostReporter.
func (s *Store) CostsByActor(ctx context.Context, since time.Time) ([]store.ActorCost, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT actor, SUM(cost_usd), COUNT(*) FROM cost_entries
		 WHERE created_at >= ? GROUP BY actor ORDER BY SUM(cost_usd) DESC, actor`,
		since.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("query costs by actor: %w", err)
	}
	defer rows.Close()

	var out []store.ActorCost
	for rows.Next() {
		var c store.ActorCost
		if err := rows.Scan(&c.Actor, &c.CostUSD, &c.Runs); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// StartSession implements store.SessionStore.
func (s *Store) StartSession(ctx context.Context, engineSessionID string) (*store.ActiveSession, error) {
	now := s.now()
	sess := &store.ActiveSession{
		ID:              uuid.NewString(),
		EngineSessionID: engineSessionID,
		StartedAt:       now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET status = 'ended', ended_at = ? WHERE status = 'active'`,
		now.UnixMilli(),
	); err != nil {
		return nil, fmt.Errorf("end previous session: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id, engine_session_id, status, started_at) VALUES (?, ?, 'active', ?)`,
		sess.ID, engineSessionID, now.UnixMilli(),
	); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return sess, nil
}

// EndSession implements store.SessionStore.
func (s *Store) EndSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = 'ended', ended_at = ? WHERE id = ? AND status = 'active'`,
		s.now().UnixMilli(), id,
	)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNoActiveSession
	}
	return nil
}

// UpdateEngineSession implements store.SessionStore.
func (s *Store) UpdateEngineSession(ctx context.Context, id, engineSessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET engine_session_id = ? WHERE id = ?`, engineSessionID, id)
	if err != nil {
		return fmt.Errorf("update engine session: %w", err)
	}
	return nil
}

// GetBinding implements store.BindingStore.
func (s *Store) GetBinding(ctx context.Context, ownerSession, agentKey string) (*store.ChatBinding, error) {
	b := store.ChatBinding{OwnerSession: ownerSession, AgentKey: agentKey}
	var last int64
	err := s.db.QueryRowContext(ctx,
		`SELECT channel, external_session_id, last_activity FROM chat_bindings
		 WHERE owner_session = ? AND agent_key = ?`,
		ownerSession, agentKey,
	).Scan(&b.Channel, &b.ExternalSessionID, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query binding: %w", err)
	}
	b.LastActivity = time.UnixMilli(last)
	return &b, nil
}

// UpsertBinding implements store.BindingStore.
func (s *Store) UpsertBinding(ctx context.Context, b store.ChatBinding) error {
	if b.LastActivity.IsZero() {
		b.LastActivity = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_bindings (owner_session, agent_key, channel, external_session_id, last_activity)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (owner_session, agent_key) DO UPDATE SET
			channel = excluded.channel,
			external_session_id = excluded.external_session_id,
			last_activity = excluded.last_activity`,
		b.OwnerSession, b.AgentKey, b.Channel, b.ExternalSessionID, b.LastActivity.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert binding: %w", err)
	}
	return nil
}

// RecordJournalEntry implements store.Journal.
func (s *Store) RecordJournalEntry(ctx context.Context, directive string, res *engine.Result) error {
	sessionID, err := s.activeSessionID(ctx)
	if err != nil {
		return err
	}
	summary, cost := "", 0.0
	if res != nil {
		summary, cost = store.Summarize(res.Text), res.CostUSD
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO journal_entries (id, session_id, directive, summary, cost_usd, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), nullString(sessionID), directive, summary, cost, s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

// JournalEntries returns the most recent entries, newest first.
func (s *Store) JournalEntries(ctx context.Context, limit int) ([]store.JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, COALESCE(session_id, ''), directive, summary, cost_usd, created_at
		 FROM journal_entries ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var out []store.JournalEntry
	for rows.Next() {
		var (
			e       store.JournalEntry
			created int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Directive, &e.Summary, &e.CostUSD, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = time.UnixMilli(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
