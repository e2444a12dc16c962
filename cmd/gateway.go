package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/bus"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/channels"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/channels/discord"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/channels/telegram"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/config"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/engine"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/gateway"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/tracing"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/pkg/protocol"
)

const shutdownTimeout = 30 * time.Second

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the chat bridge (default command)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway()
		},
	}
}

func runGateway() error {
	setupLogging()

	cfg, cfgPath, err := loadConfig()
	if err != nil {
		slog.Error("failed to load config", "path", cfgPath, "error", err)
		return err
	}
	watcher := config.NewWatcher(cfgPath, cfg)
	watcher.OnChange(func(c *config.Config) {
		slog.Info("config reloaded", "hash", c.Hash())
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry, Version)
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("tracing shutdown", "error", err)
		}
	}()

	stores, err := openStores(cfg)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		return err
	}
	defer stores.Close()

	msgBus := bus.New(bus.WithLogger(slog.Default()))
	channelMgr := channels.NewManager(msgBus, cfg.Gateway.DeliveryRPS, slog.Default())
	if err := registerPlatform(channelMgr, cfg, msgBus); err != nil {
		slog.Error("failed to initialize platform", "platform", platformName(cfg), "error", err)
		return err
	}
	out := channelMgr.Outbox(platformName(cfg))

	eng := engine.NewCLI(engine.CLIConfig{
		Binary:         cfg.Engine.Binary,
		WorkDir:        cfg.Engine.WorkDir,
		PermissionMode: cfg.Engine.PermissionMode,
	})

	coord := gateway.NewCoordinator(gateway.Options{
		Config: watcher,
		Engine: eng,
		Stores: stores,
		Out:    out,
		Events: msgBus,
	})
	server := gateway.NewServer(gateway.ServerOptions{
		Config:  watcher,
		Inbound: msgBus,
		Events:  msgBus,
		Status:  coord.Status,
	})

	digestSched, err := startDigest(watcher, stores, out, msgBus)
	if err != nil {
		slog.Warn("cost digest disabled", "error", err)
	}
	if digestSched != nil {
		defer digestSched.Stop()
	}

	if err := channelMgr.StartAll(ctx); err != nil {
		slog.Error("failed to start channels", "error", err)
		return err
	}

	slog.Info("aicib gateway starting",
		"version", Version,
		"protocol", protocol.ProtocolVersion,
		"platform", platformName(cfg),
		"mode", cfg.Database.Mode,
		"agents", cfg.AgentKeys(),
		"lead_channel", cfg.Routing.LeadChannel,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := watcher.Run(gctx); err != nil {
			slog.Warn("config watcher stopped", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		consumeInboundMessages(gctx, msgBus, coord)
		return nil
	})
	g.Go(func() error {
		return server.Start(gctx)
	})

	runErr := g.Wait()
	slog.Info("graceful shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := coord.Stop(shutdownCtx); err != nil {
		slog.Warn("coordinator stop", "error", err)
	}
	if err := channelMgr.StopAll(shutdownCtx); err != nil {
		slog.Warn("channel stop", "error", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("gateway error", "error", runErr)
		return runErr
	}
	return nil
}

// registerPlatform creates the active chat platform. Exactly one runs.
func registerPlatform(mgr *channels.Manager, cfg *config.Config, msgBus *bus.MessageBus) error {
	switch platformName(cfg) {
	case "telegram":
		tg, err := telegram.New(cfg.Channels.Telegram, msgBus)
		if err != nil {
			return err
		}
		mgr.RegisterChannel("telegram", tg)
		slog.Info("telegram channel enabled")
	case "discord":
		dc, err := discord.New(cfg.Channels.Discord, msgBus)
		if err != nil {
			return err
		}
		mgr.RegisterChannel("discord", dc)
		slog.Info("discord channel enabled")
	default:
		return fmt.Errorf("unknown platform %q", cfg.Channels.Active)
	}
	return nil
}

func platformName(cfg *config.Config) string {
	if cfg.Channels.Active == "" {
		return "discord"
	}
	return cfg.Channels.Active
}

func dotEnvPath(cfgPath string) string {
	return filepath.Join(filepath.Dir(cfgPath), ".env")
}
