package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/joingate/internal/history"
	"github.com/haasonsaas/joingate/internal/resolver"
)

// Platform names accepted by the platform key.
const (
	PlatformOneBot   = "onebot"
	PlatformTelegram = "telegram"
)

// Config is the main configuration structure for joingate.
type Config struct {
	Version  int            `yaml:"version"`
	Platform string         `yaml:"platform"`
	OneBot   OneBotConfig   `yaml:"onebot"`
	Telegram TelegramConfig `yaml:"telegram"`
	Review   ReviewConfig   `yaml:"review"`
	Resolver ResolverConfig `yaml:"resolver"`
	Notify   NotifyConfig   `yaml:"notify"`
	History  HistoryConfig  `yaml:"history"`
	Audit    AuditConfig    `yaml:"audit"`
	Logging  LoggingConfig  `yaml:"logging"`
	Server   ServerConfig   `yaml:"server"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

type OneBotConfig struct {
	// URL is the forward websocket endpoint, e.g. ws://127.0.0.1:3001.
	URL           string          `yaml:"url"`
	AccessToken   string          `yaml:"access_token"`
	ActionTimeout time.Duration   `yaml:"action_timeout"`
	Reconnect     ReconnectConfig `yaml:"reconnect"`
	Poll          PollConfig      `yaml:"poll"`
}

type ReconnectConfig struct {
	// MaxAttempts of zero retries forever.
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// PollConfig enables get_group_system_msg polling for implementations that
// drop request events.
type PollConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
}

type TelegramConfig struct {
	BotToken  string `yaml:"bot_token"`
	ServerURL string `yaml:"server_url"`
}

type ReviewConfig struct {
	// SourceGroups limits which groups' join requests are reviewed. Empty
	// reviews every group the bot administers.
	SourceGroups        []string      `yaml:"source_groups"`
	ReviewGroup         string        `yaml:"review_group"`
	// Reviewers are the user ids allowed to decide. Empty allows nobody.
	Reviewers           []string      `yaml:"reviewers"`
	AutoApproveAfter    time.Duration `yaml:"auto_approve_after"`
	DisableAutoApprove  bool          `yaml:"disable_auto_approve"`
	ReadmitCooldown     time.Duration `yaml:"readmit_cooldown"`
	DefaultRejectReason string        `yaml:"default_reject_reason"`
}

type ResolverConfig struct {
	CandidateOrder     []string      `yaml:"candidate_order"`
	CompositeSeparator string        `yaml:"composite_separator"`
	MaxAttempts        int           `yaml:"max_attempts"`
	InitialBackoff     time.Duration `yaml:"initial_backoff"`
	MaxBackoff         time.Duration `yaml:"max_backoff"`
	AttemptTimeout     time.Duration `yaml:"attempt_timeout"`
}

type NotifyConfig struct {
	RatePerSecond  float64           `yaml:"rate_per_second"`
	Burst          int               `yaml:"burst"`
	DisableWelcome bool              `yaml:"disable_welcome"`
	Templates      map[string]string `yaml:"templates"`
}

type HistoryConfig struct {
	Capacity int `yaml:"capacity"`
	// DSN mirrors resolutions to SQL: a postgres:// URL or a sqlite path.
	DSN string `yaml:"dsn"`
}

type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
	Output  string `yaml:"output"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ServerConfig struct {
	// Addr is the admin HTTP listen address. Empty disables the server.
	Addr string `yaml:"addr"`
}

type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

// ConfigValidationError lists every problem found in a configuration.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return "invalid config"
	}
	return "invalid config:\n  - " + strings.Join(e.Issues, "\n  - ")
}

// Load reads, defaults and validates the configuration file.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	if err := ValidateVersion(cfg.Version); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Platform == "" {
		cfg.Platform = PlatformOneBot
	}
	if cfg.OneBot.ActionTimeout == 0 {
		cfg.OneBot.ActionTimeout = 10 * time.Second
	}
	if cfg.OneBot.Reconnect.InitialDelay == 0 {
		cfg.OneBot.Reconnect.InitialDelay = 2 * time.Second
	}
	if cfg.OneBot.Reconnect.MaxDelay == 0 {
		cfg.OneBot.Reconnect.MaxDelay = time.Minute
	}
	if cfg.OneBot.Poll.Enabled && cfg.OneBot.Poll.Schedule == "" {
		cfg.OneBot.Poll.Schedule = "@every 30s"
	}
	if cfg.Review.AutoApproveAfter == 0 && !cfg.Review.DisableAutoApprove {
		cfg.Review.AutoApproveAfter = time.Hour
	}
	if cfg.Review.ReadmitCooldown == 0 {
		cfg.Review.ReadmitCooldown = 10 * time.Minute
	}
	if cfg.Review.DefaultRejectReason == "" {
		cfg.Review.DefaultRejectReason = "request rejected"
	}
	if len(cfg.Resolver.CandidateOrder) == 0 {
		for _, kind := range resolver.DefaultOrder {
			cfg.Resolver.CandidateOrder = append(cfg.Resolver.CandidateOrder, string(kind))
		}
	}
	if cfg.Resolver.CompositeSeparator == "" {
		cfg.Resolver.CompositeSeparator = resolver.DefaultCompositeSeparator
	}
	if cfg.Resolver.MaxAttempts == 0 {
		cfg.Resolver.MaxAttempts = 3
	}
	if cfg.Resolver.InitialBackoff == 0 {
		cfg.Resolver.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.Resolver.MaxBackoff == 0 {
		cfg.Resolver.MaxBackoff = 5 * time.Second
	}
	if cfg.Resolver.AttemptTimeout == 0 {
		cfg.Resolver.AttemptTimeout = 10 * time.Second
	}
	if cfg.Notify.RatePerSecond == 0 {
		cfg.Notify.RatePerSecond = 1
	}
	if cfg.Notify.Burst == 0 {
		cfg.Notify.Burst = 5
	}
	if cfg.History.Capacity == 0 {
		cfg.History.Capacity = history.DefaultCapacity
	}
	if cfg.Audit.Level == "" {
		cfg.Audit.Level = "info"
	}
	if cfg.Audit.Format == "" {
		cfg.Audit.Format = "json"
	}
	if cfg.Audit.Output == "" {
		cfg.Audit.Output = "stdout"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Tracing.Endpoint != "" && cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1
	}
}

// Countdown returns the auto-approval delay, zero when disabled.
func (r ReviewConfig) Countdown() time.Duration {
	if r.DisableAutoApprove {
		return 0
	}
	return r.AutoApproveAfter
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var issues []string
	add := func(format string, args ...any) {
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	switch c.Platform {
	case PlatformOneBot:
		if strings.TrimSpace(c.OneBot.URL) == "" {
			add("onebot.url is required when platform is onebot")
		} else if !strings.HasPrefix(c.OneBot.URL, "ws://") && !strings.HasPrefix(c.OneBot.URL, "wss://") {
			add("onebot.url must be a ws:// or wss:// url")
		}
		if c.OneBot.Reconnect.MaxAttempts < 0 {
			add("onebot.reconnect.max_attempts must not be negative")
		}
	case PlatformTelegram:
		if strings.TrimSpace(c.Telegram.BotToken) == "" {
			add("telegram.bot_token is required when platform is telegram")
		}
	default:
		add("platform must be %q or %q, got %q", PlatformOneBot, PlatformTelegram, c.Platform)
	}

	if strings.TrimSpace(c.Review.ReviewGroup) == "" {
		add("review.review_group is required")
	}
	for _, g := range c.Review.SourceGroups {
		if g == c.Review.ReviewGroup && g != "" {
			add("review.source_groups must not contain the review group %q", g)
		}
	}
	if c.Review.AutoApproveAfter < 0 {
		add("review.auto_approve_after must not be negative")
	}
	if c.Review.ReadmitCooldown < 0 {
		add("review.readmit_cooldown must not be negative")
	}

	seen := make(map[resolver.CandidateKind]bool, len(c.Resolver.CandidateOrder))
	for _, raw := range c.Resolver.CandidateOrder {
		kind, err := resolver.ParseKind(raw)
		if err != nil {
			add("resolver.candidate_order: %v", err)
			continue
		}
		if seen[kind] {
			add("resolver.candidate_order lists %q twice", raw)
		}
		seen[kind] = true
	}
	if c.Resolver.MaxAttempts < 1 {
		add("resolver.max_attempts must be at least 1")
	}
	if c.Resolver.MaxBackoff < c.Resolver.InitialBackoff {
		add("resolver.max_backoff must not be below resolver.initial_backoff")
	}

	if c.Notify.RatePerSecond < 0 || c.Notify.Burst < 0 {
		add("notify.rate_per_second and notify.burst must not be negative")
	}
	if c.History.Capacity < 0 {
		add("history.capacity must not be negative")
	}
	if c.History.DSN != "" {
		if _, _, err := history.ParseDSN(c.History.DSN); err != nil {
			add("history.dsn: %v", err)
		}
	}

	if !oneOf(c.Logging.Level, "debug", "info", "warn", "error") {
		add("logging.level must be debug, info, warn or error")
	}
	if !oneOf(c.Logging.Format, "json", "text") {
		add("logging.format must be json or text")
	}
	if c.Audit.Enabled {
		if !oneOf(c.Audit.Level, "debug", "info", "warn", "error") {
			add("audit.level must be debug, info, warn or error")
		}
		if !oneOf(c.Audit.Format, "json", "text") {
			add("audit.format must be json or text")
		}
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		add("tracing.sampling_rate must be between 0 and 1")
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}

func oneOf(value string, allowed ...string) bool {
	for _, a := range allowed {
		if strings.EqualFold(value, a) {
			return true
		}
	}
	return false
}
