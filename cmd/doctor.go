package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/config"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/store"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/store/pg"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("aicib doctor")
	fmt.Printf("  Version:  %s (protocol %d)\n", Version, protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	if err := config.LoadDotEnv(dotEnvPath(cfgPath)); err != nil {
		fmt.Printf("  .env:     %s\n", err)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("  Config invalid: %s\n", err)
	}

	fmt.Println()
	fmt.Println("  Agents:")
	for _, key := range cfg.AgentKeys() {
		a, _ := cfg.ResolveAgent(key)
		status := "enabled"
		if !a.Enabled {
			status = "disabled"
		}
		if key == cfg.Agents.Lead {
			status += ", lead"
		}
		fmt.Printf("    %-12s %s (%s, %s)\n", key+":", a.DisplayName, a.Model, status)
	}

	fmt.Println()
	fmt.Println("  Platform:")
	active := platformName(cfg)
	checkChannel("Discord", active == "discord", cfg.Channels.Discord.Token != "")
	checkChannel("Telegram", active == "telegram", cfg.Channels.Telegram.Token != "")
	if cfg.Routing.LeadChannel == "" {
		fmt.Printf("    %-12s (not set, replies without a source channel are dropped)\n", "Lead chan:")
	} else {
		fmt.Printf("    %-12s %s\n", "Lead chan:", cfg.Routing.LeadChannel)
	}

	fmt.Println()
	fmt.Println("  Database:")
	checkDatabase(cfg)

	fmt.Println()
	fmt.Println("  Engine:")
	checkBinary(cfg.Engine.Binary)

	fmt.Println()
	fmt.Println("  Gateway:")
	fmt.Printf("    %-12s %s:%d\n", "Listen:", cfg.Gateway.Host, cfg.Gateway.Port)
	checkSecret("Token:", cfg.Gateway.Token)
	if cfg.Telemetry.Enabled {
		fmt.Printf("    %-12s %s (%s)\n", "Telemetry:", cfg.Telemetry.Endpoint, cfg.Telemetry.Protocol)
	} else {
		fmt.Printf("    %-12s off\n", "Telemetry:")
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkDatabase(cfg *config.Config) {
	if !cfg.IsManagedMode() {
		fmt.Printf("    %-12s standalone\n", "Mode:")
		fmt.Printf("    %-12s %s", "SQLite:", cfg.Database.SQLitePath)
		stores, err := openStores(cfg)
		if err != nil {
			fmt.Printf(" (OPEN FAILED: %s)\n", err)
			return
		}
		defer stores.Close()
		fmt.Println(" (OK)")
		reportActiveSession(stores.Costs)
		return
	}

	fmt.Printf("    %-12s managed\n", "Mode:")
	db, err := pg.OpenDB(cfg.Database.PostgresDSN)
	if err != nil {
		fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
		return
	}
	db.Close()
	fmt.Printf("    %-12s connected\n", "Status:")

	m, err := pg.NewMigrator(cfg.Database.PostgresDSN, resolveMigrationsDir())
	if err != nil {
		fmt.Printf("    %-12s CHECK FAILED (%s)\n", "Schema:", err)
		return
	}
	defer m.Close()
	st, err := readSchema(m)
	if err != nil {
		fmt.Printf("    %-12s CHECK FAILED (%s)\n", "Schema:", err)
		return
	}
	fmt.Printf("    %-12s %s\n", "Schema:", st)
}

func reportActiveSession(ledger store.CostLedger) {
	sess, err := ledger.GetActiveSession(context.Background())
	switch {
	case err != nil:
		fmt.Printf("    %-12s CHECK FAILED (%s)\n", "Session:", err)
	case sess == nil:
		fmt.Printf("    %-12s none (run: aicib session start)\n", "Session:")
	default:
		fmt.Printf("    %-12s active\n", "Session:")
	}
}

func checkSecret(label, secret string) {
	if secret == "" {
		fmt.Printf("    %-12s (not configured)\n", label)
		return
	}
	masked := strings.Repeat("*", len(secret))
	if len(secret) > 8 {
		masked = secret[:4] + strings.Repeat("*", len(secret)-8) + secret[len(secret)-4:]
	}
	fmt.Printf("    %-12s %s\n", label, masked)
}

func checkChannel(name string, active, hasCredentials bool) {
	status := "inactive"
	if active && hasCredentials {
		status = "active"
	} else if active {
		status = "active (missing token)"
	}
	fmt.Printf("    %-12s %s\n", name+":", status)
}

func checkBinary(name string) {
	path, err := exec.LookPath(name)
	if err != nil {
		fmt.Printf("    %-12s NOT FOUND\n", name+":")
	} else {
		fmt.Printf("    %-12s %s\n", name+":", path)
	}
}
