package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json5"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agents.Lead != "ceo" || cfg.Gateway.DebounceMS != 3000 || cfg.Gateway.ConfirmTimeoutSec != 120 {
		t.Errorf("defaults not applied: %+v", cfg.Gateway)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadJSON5AndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	writeFile(t, path, `{
		// comments and trailing commas are allowed
		agents: {
			lead: "ceo",
			defaults: { model: "claude-opus-4-1", max_turns: 10 },
			list: {
				ceo: { displayName: "Chief", identity: { name: "The Chief", emoji: ":crown:" } },
				cto: { model: "claude-sonnet-4-5", enabled: false, channel: "eng" },
			},
		},
		routing: { lead_channel: "lead-1", reference_channels: { task: "tasks-1" } },
		gateway: { debounce_ms: 500 },
	}`)

	t.Setenv("AICIB_DISCORD_TOKEN", "secret")
	t.Setenv("AICIB_PORT", "9999")
	t.Setenv("AICIB_DAILY_LIMIT_USD", "12.5")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Channels.Discord.Token != "secret" || cfg.Gateway.Port != 9999 || cfg.Costs.DailyLimitUSD != 12.5 {
		t.Errorf("env overlay missing: token=%q port=%d daily=%v", cfg.Channels.Discord.Token, cfg.Gateway.Port, cfg.Costs.DailyLimitUSD)
	}
	if cfg.DebounceWindow() != 500*time.Millisecond {
		t.Errorf("DebounceWindow = %v", cfg.DebounceWindow())
	}
	// File keeps the default confirmation timeout it did not mention.
	if cfg.ConfirmTimeout() != 2*time.Minute {
		t.Errorf("ConfirmTimeout = %v", cfg.ConfirmTimeout())
	}

	ceo := cfg.Lead()
	if ceo.DisplayName != "Chief" || ceo.IdentityName != "The Chief" || ceo.IconEmoji != ":crown:" || ceo.Model != "claude-opus-4-1" || ceo.MaxTurns != 10 {
		t.Errorf("lead = %+v", ceo)
	}
	cto, ok := cfg.ResolveAgent("cto")
	if !ok || cto.Enabled || cto.Model != "claude-sonnet-4-5" || cto.Channel != "eng" || cto.DisplayName != "CTO" {
		t.Errorf("cto = %+v ok=%v", cto, ok)
	}
	if _, ok := cfg.ResolveAgent("cfo"); !ok {
		t.Error("default department cfo should survive a partial agents.list")
	}
	if cfg.Routing.ReferenceChannels["task"] != "tasks-1" || cfg.DefaultChannel() != "lead-1" {
		t.Errorf("routing = %+v", cfg.Routing)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown lead", func(c *Config) { c.Agents.Lead = "coo" }},
		{"bad platform", func(c *Config) { c.Channels.Active = "irc" }},
		{"bad flavor", func(c *Config) { c.Routing.Flavor = "html" }},
		{"managed without dsn", func(c *Config) { c.Database.Mode = "managed" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	writeFile(t, path, "AICIB_TEST_DOTENV=from-file\n")
	t.Setenv("AICIB_TEST_DOTENV", "")
	os.Unsetenv("AICIB_TEST_DOTENV")

	if err := LoadDotEnv(path); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("AICIB_TEST_DOTENV"); got != "from-file" {
		t.Errorf("AICIB_TEST_DOTENV = %q", got)
	}
	if err := LoadDotEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("missing .env should be ignored: %v", err)
	}
}

func TestWatcherReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	writeFile(t, path, `{gateway: {debounce_ms: 100}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	w := NewWatcher(path, cfg)

	changed := make(chan *Config, 4)
	w.OnChange(func(c *Config) { changed <- c })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)
	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	writeFile(t, path, `{gateway: {debounce_ms: 250}}`)
	select {
	case c := <-changed:
		if c.Gateway.DebounceMS != 250 {
			t.Errorf("reloaded debounce = %d", c.Gateway.DebounceMS)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after write")
	}
	if w.Current().Gateway.DebounceMS != 250 {
		t.Errorf("Current not swapped")
	}

	// An invalid file keeps the previous config.
	if err := os.WriteFile(path, []byte(`{agents: {lead: "nobody"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := w.Reload(); err == nil {
		t.Error("Reload of invalid config should fail")
	}
	if w.Current().Gateway.DebounceMS != 250 {
		t.Error("invalid reload replaced the config")
	}
}
