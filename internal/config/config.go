package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the aicib chat bridge.
type Config struct {
	Agents     AgentsConfig     `json:"agents"`
	Channels   ChannelsConfig   `json:"channels"`
	Routing    RoutingConfig    `json:"routing"`
	Gateway    GatewayConfig    `json:"gateway"`
	Engine     EngineConfig     `json:"engine"`
	Costs      CostsConfig      `json:"costs"`
	Classifier ClassifierConfig `json:"classifier"`
	Database   DatabaseConfig   `json:"database,omitempty"`
	Telemetry  TelemetryConfig  `json:"telemetry,omitempty"`
	Digest     DigestConfig     `json:"digest,omitempty"`
}

// AgentsConfig lists the lead agent and the departments.
type AgentsConfig struct {
	Lead     string               `json:"lead"` // key of the lead agent (default "ceo")
	Defaults AgentDefaults        `json:"defaults"`
	List     map[string]AgentSpec `json:"list,omitempty"`
}

// AgentDefaults apply to every agent unless overridden.
type AgentDefaults struct {
	Model        string   `json:"model"`
	MaxTurns     int      `json:"max_turns"`
	MaxBudgetUSD float64  `json:"max_budget_usd"` // per turn, 0 = no ceiling
	Tools        []string `json:"tools,omitempty"`
}

// AgentSpec is the per-agent configuration override.
// All fields optional; zero values inherit from defaults.
type AgentSpec struct {
	Role         string          `json:"role,omitempty"` // e.g. "Chief Technology Officer"
	DisplayName  string          `json:"displayName,omitempty"`
	Enabled      *bool           `json:"enabled,omitempty"` // default true
	Model        string          `json:"model,omitempty"`
	MaxTurns     int             `json:"max_turns,omitempty"`
	MaxBudgetUSD float64         `json:"max_budget_usd,omitempty"`
	Tools        []string        `json:"tools,omitempty"`
	Channel      string          `json:"channel,omitempty"` // static destination for this agent's output
	SystemPrompt string          `json:"system_prompt,omitempty"`
	Identity     *IdentityConfig `json:"identity,omitempty"`
}

// IdentityConfig defines agent persona / display identity.
type IdentityConfig struct {
	Name    string `json:"name,omitempty"`
	Emoji   string `json:"emoji,omitempty"`
	IconURL string `json:"icon_url,omitempty"`
}

// ResolvedAgent is an agent with defaults applied.
type ResolvedAgent struct {
	Key          string
	Role         string
	DisplayName  string
	Enabled      bool
	Model        string
	MaxTurns     int
	MaxBudgetUSD float64
	Tools        []string
	Channel      string
	SystemPrompt string
	IdentityName string
	IconEmoji    string
	IconURL      string
}

// ChannelsConfig selects and configures the chat platform. Exactly one
// platform is active at a time.
type ChannelsConfig struct {
	Active   string         `json:"active"` // "discord" or "telegram"
	Discord  DiscordConfig  `json:"discord"`
	Telegram TelegramConfig `json:"telegram"`
}

type DiscordConfig struct {
	Token     string              `json:"-"` // from env AICIB_DISCORD_TOKEN only
	AllowFrom FlexibleStringSlice `json:"allow_from"`
	GuildID   string              `json:"guild_id,omitempty"`
}

type TelegramConfig struct {
	Token     string              `json:"-"` // from env AICIB_TELEGRAM_TOKEN only
	AllowFrom FlexibleStringSlice `json:"allow_from"`
	Proxy     string              `json:"proxy,omitempty"`
}

// RoutingConfig maps agent output to destinations on the active platform.
type RoutingConfig struct {
	// Flavor picks the markup dialect ("discord", "telegram", "slack").
	// Empty means the active platform's own dialect.
	Flavor         string `json:"flavor,omitempty"`
	LeadChannel    string `json:"lead_channel"`
	DefaultChannel string `json:"default_channel,omitempty"` // falls back to LeadChannel
	// ReferenceChannels routes messages that mention a tracked reference
	// kind ("task", "notification") to a dedicated channel.
	ReferenceChannels map[string]string `json:"reference_channels,omitempty"`
}

// GatewayConfig controls the inbound pipeline and the HTTP server.
type GatewayConfig struct {
	Host               string  `json:"host"`
	Port               int     `json:"port"`
	Token              string  `json:"-"` // from env AICIB_GATEWAY_TOKEN only
	DebounceMS         int     `json:"debounce_ms"`
	ConfirmTimeoutSec  int     `json:"confirm_timeout_sec"`
	LockWaitTimeoutSec int     `json:"lock_wait_timeout_sec"` // chat turns waiting on the lead session
	DeliveryRPS        float64 `json:"delivery_rps"`          // outbound platform calls per second
	MaxMessageChars    int     `json:"max_message_chars"`
	// AllowedOrigins restricts browser WebSocket clients. Empty allows all.
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
	// RateLimitPerMinute applies to the HTTP relay endpoints per remote
	// address. Zero selects 30.
	RateLimitPerMinute int `json:"rate_limit_per_minute,omitempty"`
}

// EngineConfig configures the Claude Code CLI engine.
type EngineConfig struct {
	Binary          string `json:"binary,omitempty"`
	WorkDir         string `json:"work_dir,omitempty"`
	PermissionMode  string `json:"permission_mode,omitempty"`
	BootstrapPrompt string `json:"bootstrap_prompt,omitempty"`
}

// CostsConfig holds spend ceilings checked before each directive.
// Zero means no ceiling.
type CostsConfig struct {
	DailyLimitUSD   float64 `json:"daily_limit_usd"`
	MonthlyLimitUSD float64 `json:"monthly_limit_usd"`
}

// ClassifierConfig tunes the message classifier.
type ClassifierConfig struct {
	Model      string  `json:"model"`
	BudgetUSD  float64 `json:"budget_usd"`
	TimeoutSec int     `json:"timeout_sec"`

	EmojiMaxWords      int      `json:"emoji_max_words,omitempty"`
	LongMessageWords   int      `json:"long_message_words,omitempty"`
	ChatPrefixMaxWords int      `json:"chat_prefix_max_words,omitempty"`
	QuestionMaxWords   int      `json:"question_max_words,omitempty"`
	ExtraWorkVerbs     []string `json:"extra_work_verbs,omitempty"`
	ExtraChatTokens    []string `json:"extra_chat_tokens,omitempty"`
	ExtraUrgency       []string `json:"extra_urgency,omitempty"`
}

// DatabaseConfig selects the storage backend.
// PostgresDSN is NEVER read from config.json (secret), only from env AICIB_POSTGRES_DSN.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`
	Mode        string `json:"mode,omitempty"` // "standalone" (default) or "managed"
	SQLitePath  string `json:"sqlite_path,omitempty"`
}

// IsManagedMode returns true if the gateway stores state in Postgres.
func (c *Config) IsManagedMode() bool {
	return c.Database.Mode == "managed" && c.Database.PostgresDSN != ""
}

// TelemetryConfig configures OpenTelemetry export for traces and spans.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"` // e.g. "localhost:4317"
	Protocol    string            `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"` // default "aicib-gateway"
	Headers     map[string]string `json:"headers,omitempty"`
}

// DigestConfig schedules the cost digest.
type DigestConfig struct {
	Enabled  bool   `json:"enabled,omitempty"`
	Schedule string `json:"schedule,omitempty"` // cron expression, default "0 18 * * *"
	Channel  string `json:"channel,omitempty"`  // default: routing lead channel
}

// ResolveAgent returns the agent with defaults applied. ok is false for
// an unknown key.
func (c *Config) ResolveAgent(key string) (ResolvedAgent, bool) {
	spec, ok := c.Agents.List[key]
	if !ok {
		return ResolvedAgent{}, false
	}
	d := c.Agents.Defaults
	r := ResolvedAgent{
		Key:          key,
		Role:         spec.Role,
		DisplayName:  spec.DisplayName,
		Enabled:      spec.Enabled == nil || *spec.Enabled,
		Model:        d.Model,
		MaxTurns:     d.MaxTurns,
		MaxBudgetUSD: d.MaxBudgetUSD,
		Tools:        d.Tools,
		Channel:      spec.Channel,
		SystemPrompt: spec.SystemPrompt,
	}
	if spec.Model != "" {
		r.Model = spec.Model
	}
	if spec.MaxTurns > 0 {
		r.MaxTurns = spec.MaxTurns
	}
	if spec.MaxBudgetUSD > 0 {
		r.MaxBudgetUSD = spec.MaxBudgetUSD
	}
	if len(spec.Tools) > 0 {
		r.Tools = spec.Tools
	}
	if r.DisplayName == "" {
		r.DisplayName = key
	}
	r.IdentityName = r.DisplayName
	if spec.Identity != nil {
		if spec.Identity.Name != "" {
			r.IdentityName = spec.Identity.Name
		}
		r.IconEmoji = spec.Identity.Emoji
		r.IconURL = spec.Identity.IconURL
	}
	return r, true
}

// Lead returns the resolved lead agent.
func (c *Config) Lead() ResolvedAgent {
	r, _ := c.ResolveAgent(c.Agents.Lead)
	return r
}

// AgentKeys returns every configured agent key, sorted.
func (c *Config) AgentKeys() []string {
	keys := make([]string, 0, len(c.Agents.List))
	for k := range c.Agents.List {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ResolveDisplayName returns the display name for an agent key, or the key
// itself when none is configured.
func (c *Config) ResolveDisplayName(key string) string {
	if r, ok := c.ResolveAgent(key); ok {
		return r.DisplayName
	}
	return key
}

// DebounceWindow returns the directive coalescing interval.
func (c *Config) DebounceWindow() time.Duration {
	return time.Duration(c.Gateway.DebounceMS) * time.Millisecond
}

// ConfirmTimeout returns how long a confirmation prompt stays open.
func (c *Config) ConfirmTimeout() time.Duration {
	return time.Duration(c.Gateway.ConfirmTimeoutSec) * time.Second
}

// ClassifyTimeout bounds a tier-2 classification, lock wait included.
func (c *Config) ClassifyTimeout() time.Duration {
	return time.Duration(c.Classifier.TimeoutSec) * time.Second
}

// LockWaitTimeout bounds how long a lead chat turn waits for the session.
func (c *Config) LockWaitTimeout() time.Duration {
	return time.Duration(c.Gateway.LockWaitTimeoutSec) * time.Second
}

// DefaultChannel returns the fallback destination.
func (c *Config) DefaultChannel() string {
	if c.Routing.DefaultChannel != "" {
		return c.Routing.DefaultChannel
	}
	return c.Routing.LeadChannel
}

// Validate reports configuration that cannot run.
func (c *Config) Validate() error {
	if _, ok := c.Agents.List[c.Agents.Lead]; !ok {
		return fmt.Errorf("agents.lead %q is not in agents.list", c.Agents.Lead)
	}
	switch c.Channels.Active {
	case "discord", "telegram", "":
	default:
		return fmt.Errorf("channels.active must be \"discord\" or \"telegram\", got %q", c.Channels.Active)
	}
	switch c.Routing.Flavor {
	case "", "discord", "telegram", "slack":
	default:
		return fmt.Errorf("routing.flavor %q is not supported", c.Routing.Flavor)
	}
	if c.Database.Mode == "managed" && c.Database.PostgresDSN == "" {
		return fmt.Errorf("database.mode is managed but AICIB_POSTGRES_DSN is not set")
	}
	return nil
}
