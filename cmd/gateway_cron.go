package cmd

import (
	"log/slog"

	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/bus"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/channels"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/config"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/digest"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/store"
)

// startDigest arms the daily cost digest when digest.enabled is set.
// It returns nil, nil when the digest is off.
func startDigest(cfg config.Source, stores *store.Stores, out channels.Messenger, events bus.EventPublisher) (*digest.Scheduler, error) {
	if !cfg.Current().Digest.Enabled {
		return nil, nil
	}
	sched, err := digest.New(digest.Options{
		Config:  cfg,
		Ledger:  stores.Costs,
		Reports: stores.Reports,
		Out:     out,
		Events:  events,
	})
	if err != nil {
		return nil, err
	}
	if err := sched.Start(); err != nil {
		return nil, err
	}
	slog.Info("cost digest scheduled", "schedule", cfg.Current().Digest.Schedule)
	return sched, nil
}
