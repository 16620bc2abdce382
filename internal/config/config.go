package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Browser   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot" yaml:"snapshot"`
	Stability StabilityConfig `mapstructure:"stability" yaml:"stability"`
	Policy    PolicyConfig    `mapstructure:"policy" yaml:"policy"`
	Agent     AgentConfig     `mapstructure:"agent" yaml:"agent"`
	Services  ServicesConfig  `mapstructure:"services" yaml:"services"`
	Gateway   GatewayConfig   `mapstructure:"gateway" yaml:"gateway"`
}

// LoggerConfig controls the global zap logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig controls the Chrome session.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	ViewportWidth     int64         `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight    int64         `mapstructure:"viewport_height" yaml:"viewport_height"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	ProxyURL          string        `mapstructure:"proxy_url" yaml:"proxy_url"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	DownloadDir       string        `mapstructure:"download_dir" yaml:"download_dir"`
}

// SnapshotConfig controls interactive-element collection.
type SnapshotConfig struct {
	// OffscreenBufferPx extends the visibility window beyond the viewport so
	// lazy-loaded and virtualized list items are still collected.
	OffscreenBufferPx int `mapstructure:"offscreen_buffer_px" yaml:"offscreen_buffer_px"`
	MaxElements       int `mapstructure:"max_elements" yaml:"max_elements"`
	MaxTextLength     int `mapstructure:"max_text_length" yaml:"max_text_length"`
}

// StabilityConfig controls the page-stability detector.
type StabilityConfig struct {
	QuietWindow  time.Duration `mapstructure:"quiet_window" yaml:"quiet_window"`
	HardTimeout  time.Duration `mapstructure:"hard_timeout" yaml:"hard_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// PolicyConfig controls per-action retry accounting and heuristics.
type PolicyConfig struct {
	MaxRetriesPerAction int `mapstructure:"max_retries_per_action" yaml:"max_retries_per_action"`
	// ScrollRetryActions lists the action types that get one scroll-then-retry
	// recovery after an element-not-found failure.
	ScrollRetryActions []string      `mapstructure:"scroll_retry_actions" yaml:"scroll_retry_actions"`
	ScrollRetryAmount  float64       `mapstructure:"scroll_retry_amount" yaml:"scroll_retry_amount"`
	ScrollSettleDelay  time.Duration `mapstructure:"scroll_settle_delay" yaml:"scroll_settle_delay"`
}

// AgentConfig controls the autonomous step loop.
type AgentConfig struct {
	MaxSteps         int           `mapstructure:"max_steps" yaml:"max_steps"`
	InterActionDelay time.Duration `mapstructure:"inter_action_delay" yaml:"inter_action_delay"`
	PromptTimeout    time.Duration `mapstructure:"prompt_timeout" yaml:"prompt_timeout"`
	// EscapeURL is the neutral page the loop navigates to after a
	// permission-denied failure on a restricted scheme.
	EscapeURL string `mapstructure:"escape_url" yaml:"escape_url"`
}

// ServicesConfig locates the external decision and resolution services.
type ServicesConfig struct {
	DecisionURL    string        `mapstructure:"decision_url" yaml:"decision_url"`
	ResolutionURL  string        `mapstructure:"resolution_url" yaml:"resolution_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// GatewayConfig controls the websocket control channel.
type GatewayConfig struct {
	Enabled    bool          `mapstructure:"enabled" yaml:"enabled"`
	ListenAddr string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	PingPeriod time.Duration `mapstructure:"ping_period" yaml:"ping_period"`
	PongWait   time.Duration `mapstructure:"pong_wait" yaml:"pong_wait"`
	WriteWait  time.Duration `mapstructure:"write_wait" yaml:"write_wait"`
}

// NewDefaultConfig returns a configuration populated with defaults only.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Defaults are authored in this file; failing to unmarshal them is a
		// programming error, not a runtime condition.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values on the given viper instance.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "foxxy")
	v.SetDefault("logger.log_file", "foxxy.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 800)
	v.SetDefault("browser.navigation_timeout", "45s")
	v.SetDefault("browser.download_dir", "downloads")

	// -- Snapshot --
	v.SetDefault("snapshot.offscreen_buffer_px", 2000)
	v.SetDefault("snapshot.max_elements", 120)
	v.SetDefault("snapshot.max_text_length", 80)

	// -- Stability --
	v.SetDefault("stability.quiet_window", "500ms")
	v.SetDefault("stability.hard_timeout", "8s")
	v.SetDefault("stability.poll_interval", "100ms")

	// -- Policy --
	v.SetDefault("policy.max_retries_per_action", 2)
	v.SetDefault("policy.scroll_retry_actions", []string{"click"})
	v.SetDefault("policy.scroll_retry_amount", 400.0)
	v.SetDefault("policy.scroll_settle_delay", "600ms")

	// -- Agent --
	v.SetDefault("agent.max_steps", 40)
	v.SetDefault("agent.inter_action_delay", "1s")
	v.SetDefault("agent.prompt_timeout", "120s")
	v.SetDefault("agent.escape_url", "about:blank")

	// -- Services --
	v.SetDefault("services.decision_url", "http://localhost:8090")
	v.SetDefault("services.resolution_url", "http://localhost:8090")
	v.SetDefault("services.request_timeout", "60s")

	// -- Gateway --
	v.SetDefault("gateway.enabled", false)
	v.SetDefault("gateway.listen_addr", "127.0.0.1:8765")
	v.SetDefault("gateway.ping_period", "54s")
	v.SetDefault("gateway.pong_wait", "60s")
	v.SetDefault("gateway.write_wait", "10s")
}

// NewConfigFromViper unmarshals and validates a configuration from viper.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Browser.ViewportWidth <= 0 || c.Browser.ViewportHeight <= 0 {
		return fmt.Errorf("browser.viewport_width and browser.viewport_height must be positive")
	}
	if c.Snapshot.OffscreenBufferPx < 0 {
		return fmt.Errorf("snapshot.offscreen_buffer_px must not be negative")
	}
	if c.Snapshot.MaxElements <= 0 {
		return fmt.Errorf("snapshot.max_elements must be a positive integer")
	}
	if err := c.Stability.Validate(); err != nil {
		return fmt.Errorf("stability configuration invalid: %w", err)
	}
	if c.Policy.MaxRetriesPerAction <= 0 {
		return fmt.Errorf("policy.max_retries_per_action must be a positive integer")
	}
	if c.Agent.MaxSteps <= 0 {
		return fmt.Errorf("agent.max_steps must be a positive integer")
	}
	if c.Agent.InterActionDelay < 0 {
		return fmt.Errorf("agent.inter_action_delay must not be negative")
	}
	for _, raw := range []struct {
		key   string
		value string
	}{
		{"services.decision_url", c.Services.DecisionURL},
		{"services.resolution_url", c.Services.ResolutionURL},
	} {
		u, err := url.Parse(raw.value)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", raw.key, raw.value)
		}
	}
	return nil
}

// Validate checks the stability detector settings.
func (s *StabilityConfig) Validate() error {
	if s.QuietWindow <= 0 {
		return fmt.Errorf("quiet_window must be a positive duration")
	}
	if s.HardTimeout < s.QuietWindow {
		return fmt.Errorf("hard_timeout must be at least quiet_window")
	}
	if s.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be a positive duration")
	}
	return nil
}
