package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/engine"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/store"
)

// Store implements store.Backend backed by Postgres.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New wraps an open database. now may be nil.
func New(db *sql.DB, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{db: db, now: now}
}

func (s *Store) activeSessionID(ctx context.Context) (*uuid.UUID, error) {
	sess, err := s.GetActiveSession(ctx)
	if err != nil || sess == nil {
		return nil, err
	}
	id, err := uuid.Parse(sess.ID)
	if err != nil {
		return nil, fmt.Errorf("parse session id: %w", err)
	}
	return &id, nil
}

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
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		uuid.Must(uuid.NewV7()), sessionID, actor, model, res.SessionID, res.CostUSD,
		res.Usage.InputTokens, res.Usage.OutputTokens, res.Usage.CacheReadTokens, res.Usage.CacheCreationTokens,
		res.NumTurns, s.now(),
	)
	if err != nil {
		return fmt.Errorf("insert cost entry: %w", err)
	}
	return nil
}

func (s *Store) GetActiveSession(ctx context.Context) (*store.ActiveSession, error) {
	var sess store.ActiveSession
	err := s.db.QueryRowContext(ctx,
		`SELECT id::text, engine_session_id, started_at FROM sessions
		 WHERE status = 'active' ORDER BY started_at DESC LIMIT 1`,
	).Scan(&sess.ID, &sess.EngineSessionID, &sess.StartedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query active session: %w", err)
	}
	return &sess, nil
}

func (s *Store) CostToday(ctx context.Context) (float64, error) {
	return s.costSince(ctx, store.DayStart(s.now()))
}

func (s *Store) CostThisMonth(ctx context.Context) (float64, error) {
	return s.costSince(ctx, store.MonthStart(s.now()))
}

func (s *Store) costSince(ctx context.Context, since time.Time) (float64, error) {
	var total float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0) FROM cost_entries WHERE created_at >= $1`, since,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum costs: %w", err)
	}
	return total, nil
}

func (s *Store) CostsByActor(ctx context.Context, since time.Time) ([]store.ActorCost, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT actor, SUM(cost_usd), COUNT(*) FROM cost_entries
		 WHERE created_at >= $1 GROUP BY actor ORDER BY SUM(cost_usd) DESC, actor`, since)
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

func (s *Store) StartSession(ctx context.Context, engineSessionID string) (*store.ActiveSession, error) {
	now := s.now()
	id := uuid.Must(uuid.NewV7())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET status = 'ended', ended_at = $1 WHERE status = 'active'`, now,
	); err != nil {
		return nil, fmt.Errorf("end previous session: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id, engine_session_id, status, started_at) VALUES ($1, $2, 'active', $3)`,
		id, engineSessionID, now,
	); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &store.ActiveSession{ID: id.String(), EngineSessionID: engineSessionID, StartedAt: now}, nil
}

func (s *Store) EndSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = 'ended', ended_at = $1 WHERE id = $2 AND status = 'active'`,
		s.now(), id,
	)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNoActiveSession
	}
	return nil
}

func (s *Store) UpdateEngineSession(ctx context.Context, id, engineSessionID string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET engine_session_id = $1 WHERE id = $2`, engineSessionID, id,
	); err != nil {
		return fmt.Errorf("update engine session: %w", err)
	}
	return nil
}

func (s *Store) GetBinding(ctx context.Context, ownerSession, agentKey string) (*store.ChatBinding, error) {
	b := store.ChatBinding{OwnerSession: ownerSession, AgentKey: agentKey}
	err := s.db.QueryRowContext(ctx,
		`SELECT channel, external_session_id, last_activity FROM chat_bindings
		 WHERE owner_session = $1 AND agent_key = $2`, ownerSession, agentKey,
	).Scan(&b.Channel, &b.ExternalSessionID, &b.LastActivity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query binding: %w", err)
	}
	return &b, nil
}

func (s *Store) UpsertBinding(ctx context.Context, b store.ChatBinding) error {
	if b.LastActivity.IsZero() {
		b.LastActivity = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_bindings (owner_session, agent_key, channel, external_session_id, last_activity)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (owner_session, agent_key) DO UPDATE SET
			channel = EXCLUDED.channel,
			external_session_id = EXCLUDED.external_session_id,
			last_activity = EXCLUDED.last_activity`,
		b.OwnerSession, b.AgentKey, b.Channel, b.ExternalSessionID, b.LastActivity,
	)
	if err != nil {
		return fmt.Errorf("upsert binding: %w", err)
	}
	return nil
}

func (s *Store) RecordJournalEntry(ctx context.Context, directive string, res *engine.Result) error {
	sessionID, err := s.activeSessionID(ctx)
	if err != nil {
		return err
	}
	summary, cost := "", 0.0
	if res != nil {
		summary, cost = store.Summarize(res.Text), res.CostUSD
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO journal_entries (id, session_id, directive, summary, cost_usd, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.Must(uuid.NewV7()), sessionID, directive, summary, cost, s.now(),
	); err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}
