// Package besteffort runs side effects whose failure must never abort
// the caller: reactions, journal entries, error notices, deliveries.
// Failures are logged at warn level so they stay observable.
package besteffort

import (
	"context"
	"fmt"
	"log/slog"
)

// Do runs fn and logs its error, if any, under op. It returns the error so
// callers may still branch on it, but most discard it.
func Do(logger *slog.Logger, op string, fn func() error, attrs ...any) error {
	err := safeCall(fn)
	if err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("best-effort "+op+" failed", append(attrs, "error", err)...)
	}
	return err
}

// Go runs fn in its own goroutine with Do semantics. The context is passed
// through unchanged; callers that must outlive a request pass a detached one.
func Go(ctx context.Context, logger *slog.Logger, op string, fn func(context.Context) error, attrs ...any) {
	go Do(logger, op, func() error { return fn(ctx) }, attrs...)
}

func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
