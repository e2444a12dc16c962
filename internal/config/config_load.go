package config

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults: a CEO lead agent and
// three departments, a 3s debounce and a 2 minute confirmation window.
func Default() *Config {
	return &Config{
		Agents: AgentsConfig{
			Lead: "ceo",
			Defaults: AgentDefaults{
				Model:    "claude-sonnet-4-5",
				MaxTurns: 25,
			},
			List: map[string]AgentSpec{
				"ceo": {Role: "Chief Executive Officer", DisplayName: "CEO", Identity: &IdentityConfig{Emoji: ":briefcase:"}},
				"cto": {Role: "Chief Technology Officer", DisplayName: "CTO", Identity: &IdentityConfig{Emoji: ":computer:"}},
				"cfo": {Role: "Chief Financial Officer", DisplayName: "CFO", Identity: &IdentityConfig{Emoji: ":chart_with_upwards_trend:"}},
				"cmo": {Role: "Chief Marketing Officer", DisplayName: "CMO", Identity: &IdentityConfig{Emoji: ":mega:"}},
			},
		},
		Channels: ChannelsConfig{Active: "discord"},
		Gateway: GatewayConfig{
			Host:               "127.0.0.1",
			Port:               18790,
			DebounceMS:         3000,
			ConfirmTimeoutSec:  120,
			LockWaitTimeoutSec: 600,
			DeliveryRPS:        5,
			MaxMessageChars:    16000,
		},
		Engine: EngineConfig{
			Binary:          "claude",
			BootstrapPrompt: "You are the CEO of this company. Acknowledge that the session has started in one sentence.",
		},
		Classifier: ClassifierConfig{
			Model:      "claude-haiku-4-5",
			BudgetUSD:  0.05,
			TimeoutSec: 20,
		},
		Database: DatabaseConfig{
			Mode:       "standalone",
			SQLitePath: "~/.aicib/aicib.db",
		},
		Digest: DigestConfig{Schedule: "0 18 * * *"},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file yields the defaults plus env.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is
// not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	envFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}

	// Secrets
	envStr("AICIB_DISCORD_TOKEN", &c.Channels.Discord.Token)
	envStr("AICIB_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("AICIB_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("AICIB_POSTGRES_DSN", &c.Database.PostgresDSN)

	envStr("AICIB_CHANNEL", &c.Channels.Active)
	envStr("AICIB_LEAD_CHANNEL", &c.Routing.LeadChannel)
	envStr("AICIB_DB_MODE", &c.Database.Mode)
	envStr("AICIB_SQLITE_PATH", &c.Database.SQLitePath)
	envStr("AICIB_CLAUDE_BINARY", &c.Engine.Binary)
	envStr("AICIB_WORKDIR", &c.Engine.WorkDir)
	envStr("AICIB_HOST", &c.Gateway.Host)
	envInt("AICIB_PORT", &c.Gateway.Port)
	envFloat("AICIB_DAILY_LIMIT_USD", &c.Costs.DailyLimitUSD)
	envFloat("AICIB_MONTHLY_LIMIT_USD", &c.Costs.MonthlyLimitUSD)

	if v := os.Getenv("AICIB_OTEL_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
		c.Telemetry.Enabled = true
	}
}

// applyDefaults fills zero values a config file may have cleared.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Agents.Lead == "" {
		c.Agents.Lead = d.Agents.Lead
	}
	if c.Agents.Defaults.Model == "" {
		c.Agents.Defaults.Model = d.Agents.Defaults.Model
	}
	if c.Gateway.DebounceMS <= 0 {
		c.Gateway.DebounceMS = d.Gateway.DebounceMS
	}
	if c.Gateway.ConfirmTimeoutSec <= 0 {
		c.Gateway.ConfirmTimeoutSec = d.Gateway.ConfirmTimeoutSec
	}
	if c.Gateway.LockWaitTimeoutSec <= 0 {
		c.Gateway.LockWaitTimeoutSec = d.Gateway.LockWaitTimeoutSec
	}
	if c.Gateway.DeliveryRPS <= 0 {
		c.Gateway.DeliveryRPS = d.Gateway.DeliveryRPS
	}
	if c.Gateway.MaxMessageChars <= 0 {
		c.Gateway.MaxMessageChars = d.Gateway.MaxMessageChars
	}
	if c.Classifier.Model == "" {
		c.Classifier.Model = d.Classifier.Model
	}
	if c.Classifier.BudgetUSD <= 0 {
		c.Classifier.BudgetUSD = d.Classifier.BudgetUSD
	}
	if c.Classifier.TimeoutSec <= 0 {
		c.Classifier.TimeoutSec = d.Classifier.TimeoutSec
	}
	if c.Engine.Binary == "" {
		c.Engine.Binary = d.Engine.Binary
	}
	if c.Digest.Schedule == "" {
		c.Digest.Schedule = d.Digest.Schedule
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "aicib-gateway"
	}
	c.Database.SQLitePath = ExpandHome(c.Database.SQLitePath)
	c.Engine.WorkDir = ExpandHome(c.Engine.WorkDir)
}

// Hash returns a short SHA-256 of the config, used to log reloads.
func (c *Config) Hash() string {
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
