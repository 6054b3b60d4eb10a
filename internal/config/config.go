// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration. It is unmarshaled once
// from viper at startup; nothing mutates it afterwards. Per-run knobs live
// in RunConfig, which each run copies by value.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Oracle  OracleConfig  `mapstructure:"oracle" yaml:"oracle"`
	Run     RunConfig     `mapstructure:"run" yaml:"run"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Proxy   ProxyConfig   `mapstructure:"proxy" yaml:"proxy"`
	Publish PublishConfig `mapstructure:"publish" yaml:"publish"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the console color per log level.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
	Fatal string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the headless browser instances.
type BrowserConfig struct {
	// Binding selects the page automation binding: "chromedp" or "playwright".
	Binding         string   `mapstructure:"binding" yaml:"binding"`
	Headless        bool     `mapstructure:"headless" yaml:"headless"`
	DisableCache    bool     `mapstructure:"disable_cache" yaml:"disable_cache"`
	IgnoreTLSErrors bool     `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	UserAgent       string   `mapstructure:"user_agent" yaml:"user_agent"`
	Args            []string `mapstructure:"args" yaml:"args"`
	// ProxyAddress, when set, routes all page traffic through the given
	// forward proxy (typically the local rotator, see ProxyConfig).
	ProxyAddress string `mapstructure:"proxy_address" yaml:"proxy_address"`
}

// OracleProviderName identifies a decision-oracle backend.
type OracleProviderName string

const (
	ProviderOpenAI OracleProviderName = "openai"
	ProviderGemini OracleProviderName = "gemini"
)

// OracleConfig defines the decision oracle connection.
type OracleConfig struct {
	Provider    OracleProviderName `mapstructure:"provider" yaml:"provider"`
	Model       string             `mapstructure:"model" yaml:"model"`
	APIKey      string             `mapstructure:"api_key" yaml:"-"`
	Endpoint    string             `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration      `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32            `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int                `mapstructure:"max_tokens" yaml:"max_tokens"`
	// RequestsPerMinute rate-limits oracle calls per run. Zero disables.
	RequestsPerMinute float64 `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// RunConfig is the per-run budget and policy value object. It is created
// once per run from defaults plus caller overrides and treated as read-only
// during the loop; only ContextChars and DepthLevel are escalated by the
// progress tracker.
type RunConfig struct {
	MaxSteps int `mapstructure:"max_steps" yaml:"max_steps"`

	// Context budget.
	BaseContextChars     int `mapstructure:"base_context_chars" yaml:"base_context_chars"`
	ContextGrowthPerStep int `mapstructure:"context_growth_per_step" yaml:"context_growth_per_step"`
	MaxContextChars      int `mapstructure:"max_context_chars" yaml:"max_context_chars"`
	DOMPreviewChars      int `mapstructure:"dom_preview_chars" yaml:"dom_preview_chars"`
	DOMPreviewMaxChars   int `mapstructure:"dom_preview_max_chars" yaml:"dom_preview_max_chars"`

	// Stall policy.
	StallLimit   int `mapstructure:"stall_limit" yaml:"stall_limit"`
	MaxSameError int `mapstructure:"max_same_error" yaml:"max_same_error"`

	// Timeouts.
	ClickTimeout      time.Duration `mapstructure:"click_timeout" yaml:"click_timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	OracleTimeout     time.Duration `mapstructure:"oracle_timeout" yaml:"oracle_timeout"`
	ToolTimeout       time.Duration `mapstructure:"tool_timeout" yaml:"tool_timeout"`

	// RefineInstruction enables the one-time pre-loop instruction rewrite.
	RefineInstruction bool `mapstructure:"refine_instruction" yaml:"refine_instruction"`

	// ScreenshotDir receives terminal screenshots; empty disables capture.
	ScreenshotDir string `mapstructure:"screenshot_dir" yaml:"screenshot_dir"`

	// ContextChars and DepthLevel are the two fields the progress tracker
	// escalates mid-run. They start at BaseContextChars and 1.
	ContextChars int `mapstructure:"-" yaml:"-"`
	DepthLevel   int `mapstructure:"-" yaml:"-"`
}

// StoreConfig enables optional persistence of run results to Postgres.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	URL     string `mapstructure:"url" yaml:"-"`
}

// ProxyConfig configures the local rotating forward proxy.
type ProxyConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Listen is the local address the rotator binds.
	Listen string `mapstructure:"listen" yaml:"listen"`
	// Upstreams is the rotation pool of upstream proxy URLs.
	Upstreams []string `mapstructure:"upstreams" yaml:"upstreams"`
	// CounterFile persists the rotation counter across processes.
	CounterFile string `mapstructure:"counter_file" yaml:"counter_file"`
}

// PublishConfig configures the WordPress publishing collaborator.
type PublishConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"-"`
}

// SetDefaults registers every default value with the given viper instance.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "webpilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.binding", "chromedp")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_cache", true)
	v.SetDefault("browser.ignore_tls_errors", false)

	// -- Oracle --
	v.SetDefault("oracle.provider", "openai")
	v.SetDefault("oracle.model", "gpt-4o-mini")
	v.SetDefault("oracle.api_timeout", "30s")
	v.SetDefault("oracle.temperature", 0.2)
	v.SetDefault("oracle.max_tokens", 1024)
	v.SetDefault("oracle.requests_per_minute", 30.0)

	// -- Run budgets --
	v.SetDefault("run.max_steps", 15)
	v.SetDefault("run.base_context_chars", 4000)
	v.SetDefault("run.context_growth_per_step", 1000)
	v.SetDefault("run.max_context_chars", 16000)
	v.SetDefault("run.dom_preview_chars", 2500)
	v.SetDefault("run.dom_preview_max_chars", 12000)
	v.SetDefault("run.stall_limit", 3)
	v.SetDefault("run.max_same_error", 2)
	v.SetDefault("run.click_timeout", "10s")
	v.SetDefault("run.navigation_timeout", "45s")
	v.SetDefault("run.oracle_timeout", "30s")
	v.SetDefault("run.tool_timeout", "20s")
	v.SetDefault("run.refine_instruction", false)
	v.SetDefault("run.screenshot_dir", "screenshots")

	// -- Store --
	v.SetDefault("store.enabled", false)

	// -- Proxy --
	v.SetDefault("proxy.enabled", false)
	v.SetDefault("proxy.listen", "127.0.0.1:18080")
	v.SetDefault("proxy.counter_file", ".webpilot-proxy-counter.json")

	// -- Publish --
	v.SetDefault("publish.enabled", false)
}

// NewDefaultConfig returns a Config populated with the registered defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Defaults are static; a failure here is programmer error.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	cfg.Run = cfg.Run.Normalized()
	return &cfg
}

// NewConfigFromViper unmarshals and validates a Config from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	v.BindEnv("oracle.api_key", "WEBPILOT_ORACLE_API_KEY")
	v.BindEnv("store.url", "WEBPILOT_STORE_URL")
	v.BindEnv("publish.password", "WEBPILOT_PUBLISH_PASSWORD")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.Run = cfg.Run.Normalized()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Normalized returns a copy with the runtime-escalated fields initialized
// and degenerate budget values clamped to usable minimums.
func (rc RunConfig) Normalized() RunConfig {
	out := rc
	if out.MaxSteps <= 0 {
		out.MaxSteps = 15
	}
	if out.BaseContextChars <= 0 {
		out.BaseContextChars = 4000
	}
	if out.MaxContextChars < out.BaseContextChars {
		out.MaxContextChars = out.BaseContextChars
	}
	if out.DOMPreviewChars <= 0 {
		out.DOMPreviewChars = 2500
	}
	if out.DOMPreviewMaxChars < out.DOMPreviewChars {
		out.DOMPreviewMaxChars = out.DOMPreviewChars
	}
	if out.StallLimit <= 0 {
		out.StallLimit = 3
	}
	if out.MaxSameError <= 0 {
		out.MaxSameError = 2
	}
	out.ContextChars = out.BaseContextChars
	out.DepthLevel = 1
	return out
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch c.Browser.Binding {
	case "", "chromedp", "playwright":
	default:
		return fmt.Errorf("browser.binding must be \"chromedp\" or \"playwright\", got %q", c.Browser.Binding)
	}
	switch c.Oracle.Provider {
	case ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("oracle.provider must be \"openai\" or \"gemini\", got %q", c.Oracle.Provider)
	}
	if c.Run.ContextGrowthPerStep < 0 {
		return fmt.Errorf("run.context_growth_per_step must not be negative")
	}
	if c.Store.Enabled && c.Store.URL == "" {
		return fmt.Errorf("store.url is required when store.enabled is true (set WEBPILOT_STORE_URL)")
	}
	if c.Proxy.Enabled && len(c.Proxy.Upstreams) == 0 {
		return fmt.Errorf("proxy.upstreams must list at least one upstream when proxy.enabled is true")
	}
	if c.Publish.Enabled && c.Publish.Endpoint == "" {
		return fmt.Errorf("publish.endpoint is required when publish.enabled is true")
	}
	return nil
}
