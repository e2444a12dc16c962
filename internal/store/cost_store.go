package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/engine"
)

// CostLedger records what each engine turn cost and answers the questions
// the gateway asks before spending more.
type CostLedger interface {
	RecordRunCosts(ctx context.Context, res *engine.Result, actor, model string) error
	// GetActiveSession returns nil, nil when no session is running.
	GetActiveSession(ctx context.Context) (*ActiveSession, error)
	CostToday(ctx context.Context) (float64, error)
	CostThisMonth(ctx context.Context) (float64, error)
}

// ActorCost is the spend of one actor label.
type ActorCost struct {
	Actor   string  `json:"actor"`
	CostUSD float64 `json:"costUsd"`
	Runs    int     `json:"runs"`
}

// CostReporter aggregates the ledger for the digest.
type CostReporter interface {
	CostsByActor(ctx context.Context, since time.Time) ([]ActorCost, error)
}

// Journal keeps a log of processed directives.
type Journal interface {
	RecordJournalEntry(ctx context.Context, directive string, res *engine.Result) error
}

// DayStart returns local midnight of t.
func DayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// MonthStart returns local midnight of the first day of t's month.
func MonthStart(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}

// JournalEntry is one recorded directive.
type JournalEntry struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId,omitempty"`
	Directive string    `json:"directive"`
	Summary   string    `json:"summary"`
	CostUSD   float64   `json:"costUsd"`
	CreatedAt time.Time `json:"createdAt"`
}

// maxSummaryRunes bounds journal summaries.
const maxSummaryRunes = 500

// Summarize trims an engine result to a journal-sized summary.
func Summarize(text string) string {
	r := []rune(strings.TrimSpace(text))
	if len(r) <= maxSummaryRunes {
		return string(r)
	}
	return string(r[:maxSummaryRunes]) + "..."
}

// ErrCostCeiling is wrapped by CheckCeilings when spend has reached a
// configured limit.
var ErrCostCeiling = errors.New("cost ceiling reached")

// CheckCeilings compares today's and this month's spend with the limits.
// A zero limit is no limit.
func CheckCeilings(ctx context.Context, ledger CostLedger, dailyUSD, monthlyUSD float64) error {
	if dailyUSD > 0 {
		spent, err := ledger.CostToday(ctx)
		if err != nil {
			return fmt.Errorf("read daily cost: %w", err)
		}
		if spent >= dailyUSD {
			return fmt.Errorf("%w: daily spend $%.2f of $%.2f", ErrCostCeiling, spent, dailyUSD)
		}
	}
	if monthlyUSD > 0 {
		spent, err := ledger.CostThisMonth(ctx)
		if err != nil {
			return fmt.Errorf("read monthly cost: %w", err)
		}
		if spent >= monthlyUSD {
			return fmt.Errorf("%w: monthly spend $%.2f of $%.2f", ErrCostCeiling, spent, monthlyUSD)
		}
	}
	return nil
}
