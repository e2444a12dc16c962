package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/engine"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/lifecycle"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/store"
)

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage the lead agent session",
	}
	cmd.AddCommand(sessionStartCmd())
	cmd.AddCommand(sessionStopCmd())
	cmd.AddCommand(sessionStatusCmd())
	return cmd
}

// withLifecycle loads config and stores and hands a lifecycle manager to fn.
func withLifecycle(fn func(ctx context.Context, m *lifecycle.Manager) error) error {
	setupLogging()
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	stores, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	eng := engine.NewCLI(engine.CLIConfig{
		Binary:         cfg.Engine.Binary,
		WorkDir:        cfg.Engine.WorkDir,
		PermissionMode: cfg.Engine.PermissionMode,
	})
	return fn(context.Background(), lifecycle.New(cfg, eng, stores, nil))
}

func sessionStartCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the lead session with the bootstrap prompt",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLifecycle(func(ctx context.Context, m *lifecycle.Manager) error {
				sess, res, err := m.Start(ctx, force)
				if errors.Is(err, lifecycle.ErrSessionRunning) {
					return fmt.Errorf("session %s is already active since %s (use --force to replace it)", sess.ID, sess.StartedAt.Format(time.RFC3339))
				}
				if err != nil {
					return err
				}
				fmt.Printf("session:        %s\n", sess.ID)
				fmt.Printf("engine session: %s\n", sess.EngineSessionID)
				fmt.Printf("cost:           $%.4f\n", res.CostUSD)
				if res.Text != "" {
					fmt.Printf("\n%s\n", res.Text)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "replace a running session")
	return cmd
}

func sessionStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "End the active lead session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLifecycle(func(ctx context.Context, m *lifecycle.Manager) error {
				sess, err := m.Stop(ctx)
				if errors.Is(err, store.ErrNoActiveSession) {
					fmt.Println("no active session")
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Printf("stopped session %s\n", sess.ID)
				return nil
			})
		},
	}
}

func sessionStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the active session and spend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLifecycle(func(ctx context.Context, m *lifecycle.Manager) error {
				st, err := m.Status(ctx)
				if err != nil {
					return err
				}
				if st.Session == nil {
					fmt.Println("session:        (none)")
				} else {
					fmt.Printf("session:        %s\n", st.Session.ID)
					fmt.Printf("engine session: %s\n", st.Session.EngineSessionID)
					fmt.Printf("started:        %s\n", st.Session.StartedAt.Format(time.RFC3339))
				}
				fmt.Printf("today:          $%.2f%s\n", st.TodayUSD, limitSuffix(st.Limits.DailyLimitUSD))
				fmt.Printf("this month:     $%.2f%s\n", st.MonthUSD, limitSuffix(st.Limits.MonthlyLimitUSD))
				return nil
			})
		},
	}
}

func limitSuffix(limit float64) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" (limit $%.2f)", limit)
}
