package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/trafficlab/internal/behavior"
	"github.com/dgnsrekt/trafficlab/internal/types"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.35, cfg.WatchProb)
	assert.Equal(t, 0.45, cfg.HalfWatchProb)
	assert.Equal(t, 120.0, cfg.MaxDurationSeconds)
	assert.Equal(t, 30.0, cfg.FallbackDurationSeconds)
	assert.Equal(t, "udp port 1194", cfg.Filter)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RunConfig)
		field  string
	}{
		{"zero_cycles", func(c *RunConfig) { c.Cycles = 0 }, "cycles"},
		{"zero_items", func(c *RunConfig) { c.ItemsPerCycle = 0 }, "items_per_cycle"},
		{"watch_prob_above_one", func(c *RunConfig) { c.WatchProb = 1.01 }, "watch_prob"},
		{"half_watch_prob_negative", func(c *RunConfig) { c.HalfWatchProb = -0.1 }, "half_watch_prob"},
		{"watch_prob_nan", func(c *RunConfig) { c.WatchProb = math.NaN() }, "watch_prob"},
		{"max_below_fallback", func(c *RunConfig) { c.MaxDurationSeconds = 10; c.FallbackDurationSeconds = 20 }, "max_duration_seconds"},
		{"negative_fallback", func(c *RunConfig) { c.FallbackDurationSeconds = -1 }, "fallback_duration_seconds"},
		{"empty_interface", func(c *RunConfig) { c.Interface = " " }, "interface"},
		{"prefix_with_separator", func(c *RunConfig) { c.Prefix = "a/b" }, "prefix"},
		{"zero_stop_timeout", func(c *RunConfig) { c.StopTimeout = 0 }, "stop_timeout"},
		{"stop_timeout_not_above_poll", func(c *RunConfig) { c.PollInterval = time.Second; c.StopTimeout = 300 * time.Millisecond }, "stop_timeout"},
		{"stop_timeout_equal_poll", func(c *RunConfig) { c.PollInterval = time.Second; c.StopTimeout = time.Second }, "stop_timeout"},
		{"infinite_max_duration", func(c *RunConfig) { c.MaxDurationSeconds = math.Inf(1) }, "max_duration_seconds"},
		{"infinite_fallback", func(c *RunConfig) { c.FallbackDurationSeconds = math.Inf(1); c.MaxDurationSeconds = math.Inf(1) }, "fallback_duration_seconds"},
		{"huge_max_duration", func(c *RunConfig) { c.MaxDurationSeconds = 1e12 }, "max_duration_seconds"},
		{"infinite_idle_range", func(c *RunConfig) { c.Idle = behavior.Range{Min: 1, Max: math.Inf(1)} }, "idle"},
		{"zero_poll_interval", func(c *RunConfig) { c.PollInterval = 0 }, "poll_interval"},
		{"inverted_range", func(c *RunConfig) { c.Idle = behavior.Range{Min: 5, Max: 1} }, "idle"},
		{"unknown_driver", func(c *RunConfig) { c.Driver = "selenium" }, "driver"},
		{"bad_cdp_port", func(c *RunConfig) { c.CDPPort = 0 }, "cdp_port"},
		{"bad_status_addr", func(c *RunConfig) { c.StatusAddr = "localhost" }, "status_addr"},
		{"negative_status_fallback", func(c *RunConfig) { c.StatusFallback = -1 }, "status_fallback"},
		{"bad_log_level", func(c *RunConfig) { c.LogLevel = "trace" }, "log_level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, types.IsCode(err, types.CodeConfigValidation))
			assert.Contains(t, err.Error(), tt.field+":")
		})
	}
}

func TestValidateReportsEveryField(t *testing.T) {
	cfg := Default()
	cfg.Cycles = 0
	cfg.WatchProb = 2
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycles:")
	assert.Contains(t, err.Error(), "watch_prob:")
}

func TestIdleDriverSkipsBrowserChecks(t *testing.T) {
	cfg := Default()
	cfg.Driver = DriverIdle
	cfg.CDPPort = 0
	cfg.StartURL = ""
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("COLLECTOR_CYCLES", "3")
	t.Setenv("COLLECTOR_WATCH_PROB", "0.9")
	t.Setenv("COLLECTOR_STOP_TIMEOUT", "4s")
	t.Setenv("COLLECTOR_HEADLESS", "true")
	t.Setenv("COLLECTOR_SEED", "42")
	t.Setenv("COLLECTOR_DRIVER", "IDLE")
	t.Setenv("COLLECTOR_ITEMS_PER_CYCLE", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Cycles)
	assert.Equal(t, 0.9, cfg.WatchProb)
	assert.Equal(t, 4*time.Second, cfg.StopTimeout)
	assert.True(t, cfg.Headless)
	assert.Equal(t, uint64(42), cfg.Seed)
	assert.Equal(t, DriverIdle, cfg.Driver)
	assert.Equal(t, 20, cfg.ItemsPerCycle, "unparsable values keep the default")
}

func TestProfileOverridesEnvironment(t *testing.T) {
	t.Setenv("COLLECTOR_CYCLES", "3")
	t.Setenv("COLLECTOR_PREFIX", "from_env")

	path := filepath.Join(t.TempDir(), "profile.yaml")
	profile := `
cycles: 7
interface: wg0
stop_timeout: 15s
between_items:
  min: 1
  max: 2
`
	require.NoError(t, os.WriteFile(path, []byte(profile), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Cycles)
	assert.Equal(t, "wg0", cfg.Interface)
	assert.Equal(t, "from_env", cfg.Prefix)
	assert.Equal(t, 15*time.Second, cfg.StopTimeout)
	assert.Equal(t, behavior.Range{Min: 1, Max: 2}, cfg.BetweenItems)
	assert.Equal(t, behavior.Range{Min: 2, Max: 4.5}, cfg.PageLoad)
}

func TestProfileErrors(t *testing.T) {
	t.Run("missing_file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("malformed_yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("cycles: [1, 2"), 0o644))
		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestYAMLRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Seed = 99
	data, err := cfg.YAML()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "effective.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	loaded := &RunConfig{}
	require.NoError(t, loaded.overlayProfile(path))
	assert.Equal(t, cfg, loaded)
}

func TestParams(t *testing.T) {
	cfg := Default()
	p := cfg.BehaviorParams()
	assert.Equal(t, cfg.WatchProb, p.WatchProb)
	assert.Equal(t, cfg.FallbackDurationSeconds, p.FallbackDurationSeconds)

	pp := cfg.PacingParams()
	assert.Equal(t, cfg.IdleProbability, pp.IdleProbability)
	assert.Equal(t, cfg.PageLoad, pp.PageLoad)
}
