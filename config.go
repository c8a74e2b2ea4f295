package sel4

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sel4go/sel4/provision"
)

// RunnerConfig is the complete run configuration: which browser to drive,
// how its sessions look, and where outcomes are mirrored.
type RunnerConfig struct {
	Browser        string   `mapstructure:"browser"`
	BrowserVersion string   `mapstructure:"browser_version"`
	Platform       string   `mapstructure:"platform"`
	Headless       bool     `mapstructure:"headless"`
	WindowSize     string   `mapstructure:"window_size"`
	Proxy          string   `mapstructure:"proxy"`
	ExtraArgs      []string `mapstructure:"extra_args"`
	BrowserLog     string   `mapstructure:"browser_log"`

	CacheDir         string `mapstructure:"cache_dir"`
	ReadyTimeoutSecs int    `mapstructure:"ready_timeout"`
	RetryMax         int    `mapstructure:"retry_max"`

	Logging LoggingConfig `mapstructure:"logging"`
	Zephyr  ZephyrConfig  `mapstructure:"zephyr"`
}

// LoggingConfig controls the runner's own log output.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ZephyrConfig configures outcome mirroring. Mirroring is off when Endpoint
// is empty.
type ZephyrConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	APIToken string `mapstructure:"api_token"`
	Cycle    string `mapstructure:"cycle"`
}

func (c *RunnerConfig) ReadyTimeout() time.Duration {
	return time.Duration(c.ReadyTimeoutSecs) * time.Second
}

// DefaultRunnerConfig returns a configuration with default values.
func DefaultRunnerConfig() *RunnerConfig {
	return &RunnerConfig{
		Browser:          provision.Chromium,
		BrowserVersion:   "latest",
		Platform:         provision.Linux64,
		Headless:         true,
		ReadyTimeoutSecs: 30,
		RetryMax:         2,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig reads configuration from an optional file and SEL4_-prefixed
// environment variables.
func LoadConfig(configPath string) (*RunnerConfig, error) {
	config := DefaultRunnerConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("sel4")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/sel4")
	}

	v.SetEnvPrefix("SEL4")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, config)

	if err := v.ReadInConfig(); err != nil {
		if configPath != "" {
			return nil, &ConfigError{Key: "config", Reason: fmt.Sprintf("reading %s: %v", configPath, err)}
		}
		// No file found; defaults and environment carry the run.
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, &ConfigError{Key: "config", Reason: err.Error()}
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func setDefaults(v *viper.Viper, config *RunnerConfig) {
	v.SetDefault("browser", config.Browser)
	v.SetDefault("browser_version", config.BrowserVersion)
	v.SetDefault("platform", config.Platform)
	v.SetDefault("headless", config.Headless)
	v.SetDefault("ready_timeout", config.ReadyTimeoutSecs)
	v.SetDefault("retry_max", config.RetryMax)
	v.SetDefault("logging.level", config.Logging.Level)
	v.SetDefault("logging.format", config.Logging.Format)
}

// Validate checks the configuration. A run drives exactly one browser; the
// browser name decides which driver family the whole run provisions.
func (c *RunnerConfig) Validate() error {
	switch c.Browser {
	case provision.Chromium, provision.Firefox:
	case "":
		return &ConfigError{Key: "browser", Reason: "browser cannot be empty"}
	default:
		return &ConfigError{Key: "browser", Reason: fmt.Sprintf("unsupported browser %q", c.Browser)}
	}

	switch c.Platform {
	case provision.Linux64, provision.Mac64, provision.Win32:
	default:
		return &ConfigError{Key: "platform", Reason: fmt.Sprintf("unsupported platform %q", c.Platform)}
	}

	if c.ReadyTimeoutSecs <= 0 {
		return &ConfigError{Key: "ready_timeout", Reason: "ready_timeout must be positive"}
	}
	if c.RetryMax < 0 {
		return &ConfigError{Key: "retry_max", Reason: "retry_max cannot be negative"}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return &ConfigError{Key: "logging.level", Reason: fmt.Sprintf("invalid log level %q", c.Logging.Level)}
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return &ConfigError{Key: "logging.format", Reason: fmt.Sprintf("invalid log format %q", c.Logging.Format)}
	}

	if c.Zephyr.Endpoint != "" && c.Zephyr.Cycle == "" {
		return &ConfigError{Key: "zephyr.cycle", Reason: "cycle is required when mirroring is enabled"}
	}
	return nil
}

// Options builds the session option set this configuration describes. All
// session-level keys go through the same validation as ad-hoc option maps.
func (c *RunnerConfig) Options() (*Options, error) {
	raw := map[string]interface{}{
		"browser":  c.Browser,
		"headless": c.Headless,
	}
	if c.BrowserVersion != "" {
		raw["browserVersion"] = c.BrowserVersion
	}
	if c.Platform != "" {
		raw["platform"] = c.Platform
	}
	if c.WindowSize != "" {
		raw["windowSize"] = c.WindowSize
	}
	if c.Proxy != "" {
		raw["proxy"] = c.Proxy
	}
	if len(c.ExtraArgs) > 0 {
		raw["extraArgs"] = c.ExtraArgs
	}
	if c.BrowserLog != "" {
		raw["logLevel"] = c.BrowserLog
	}
	return ParseOptions(raw)
}

// DriverSpec returns the driver identity this configuration resolves to.
func (c *RunnerConfig) DriverSpec() *provision.DriverSpec {
	return &provision.DriverSpec{
		Browser:    c.Browser,
		Constraint: c.BrowserVersion,
		Platform:   c.Platform,
	}
}
