package sel4

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sel4go/sel4/provision"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, provision.Chromium, cfg.Browser)
	assert.Equal(t, provision.Linux64, cfg.Platform)
	assert.True(t, cfg.Headless)
	assert.Equal(t, 2, cfg.RetryMax)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sel4.yaml")
	content := `
browser: firefox
browser_version: ">=115.0.0"
headless: false
window_size: 1920x1080
retry_max: 5
logging:
  level: debug
  format: json
zephyr:
  endpoint: https://zephyr.example.com/executions
  cycle: CYCLE-1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, provision.Firefox, cfg.Browser)
	assert.Equal(t, ">=115.0.0", cfg.BrowserVersion)
	assert.False(t, cfg.Headless)
	assert.Equal(t, 5, cfg.RetryMax)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "CYCLE-1", cfg.Zephyr.Cycle)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("SEL4_BROWSER", "firefox")
	t.Setenv("SEL4_RETRY_MAX", "7")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, provision.Firefox, cfg.Browser)
	assert.Equal(t, 7, cfg.RetryMax)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestRunnerConfigValidate(t *testing.T) {
	tests := []struct {
		desc    string
		mutate  func(*RunnerConfig)
		wantKey string
	}{
		{
			desc:   "defaults are valid",
			mutate: func(c *RunnerConfig) {},
		},
		{
			desc:    "one browser per run",
			mutate:  func(c *RunnerConfig) { c.Browser = "safari" },
			wantKey: "browser",
		},
		{
			desc:    "empty browser",
			mutate:  func(c *RunnerConfig) { c.Browser = "" },
			wantKey: "browser",
		},
		{
			desc:    "unsupported platform",
			mutate:  func(c *RunnerConfig) { c.Platform = "plan9" },
			wantKey: "platform",
		},
		{
			desc:    "non-positive ready timeout",
			mutate:  func(c *RunnerConfig) { c.ReadyTimeoutSecs = 0 },
			wantKey: "ready_timeout",
		},
		{
			desc:    "negative retry budget",
			mutate:  func(c *RunnerConfig) { c.RetryMax = -1 },
			wantKey: "retry_max",
		},
		{
			desc:    "bad log level",
			mutate:  func(c *RunnerConfig) { c.Logging.Level = "chatty" },
			wantKey: "logging.level",
		},
		{
			desc:    "zephyr endpoint without cycle",
			mutate:  func(c *RunnerConfig) { c.Zephyr.Endpoint = "https://z.example.com" },
			wantKey: "zephyr.cycle",
		},
	}

	for _, test := range tests {
		cfg := DefaultRunnerConfig()
		test.mutate(cfg)
		err := cfg.Validate()
		if test.wantKey == "" {
			assert.NoError(t, err, test.desc)
			continue
		}
		var cfgErr *ConfigError
		if !errors.As(err, &cfgErr) {
			t.Errorf("%s: Validate = %v, want *ConfigError", test.desc, err)
			continue
		}
		assert.Equal(t, test.wantKey, cfgErr.Key, test.desc)
	}
}

func TestRunnerConfigOptions(t *testing.T) {
	cfg := DefaultRunnerConfig()
	cfg.WindowSize = "1280x720"
	cfg.ExtraArgs = []string{"--lang=en"}
	cfg.BrowserLog = "severe"

	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, provision.Chromium, opts.Browser)
	assert.True(t, opts.Headless)
	assert.Equal(t, 1280, opts.WindowWidth)
	assert.Equal(t, 720, opts.WindowHeight)
	assert.Equal(t, []string{"--lang=en"}, opts.ExtraArgs)
}

func TestRunnerConfigDriverSpec(t *testing.T) {
	cfg := DefaultRunnerConfig()
	spec := cfg.DriverSpec()
	assert.Equal(t, cfg.Browser, spec.Browser)
	assert.Equal(t, cfg.BrowserVersion, spec.Constraint)
	assert.Equal(t, cfg.Platform, spec.Platform)
}
