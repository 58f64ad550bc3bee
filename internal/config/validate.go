package config

import (
	"errors"
	"fmt"
	"math"
	"net"
	"strings"

	"github.com/dgnsrekt/trafficlab/internal/behavior"
	"github.com/dgnsrekt/trafficlab/internal/types"
)

var logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// maxSeconds bounds every duration given in seconds. A day is far beyond any item or
// pause and keeps conversions to time.Duration well away from overflow.
const maxSeconds = 24 * 60 * 60

func finiteSeconds(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v <= maxSeconds
}

// Validate checks every field and returns a CONFIG_VALIDATION error naming each
// offending field, or nil.
func (c *RunConfig) Validate() error {
	var errs []error
	fail := func(field, format string, args ...any) {
		errs = append(errs, fmt.Errorf("%s: %s", field, fmt.Sprintf(format, args...)))
	}

	if c.Cycles < 1 {
		fail("cycles", "must be >= 1, got %d", c.Cycles)
	}
	if c.ItemsPerCycle < 1 {
		fail("items_per_cycle", "must be >= 1, got %d", c.ItemsPerCycle)
	}
	if strings.TrimSpace(c.Interface) == "" {
		fail("interface", "must not be empty")
	}
	if strings.TrimSpace(c.OutDir) == "" {
		fail("outdir", "must not be empty")
	}
	if c.Prefix == "" || strings.ContainsAny(c.Prefix, `/\`) {
		fail("prefix", "must be a non-empty file name prefix, got %q", c.Prefix)
	}

	checkProb := func(field string, p float64) {
		if !(p >= 0 && p <= 1) {
			fail(field, "must be within [0.0, 1.0], got %v", p)
		}
	}
	checkProb("watch_prob", c.WatchProb)
	checkProb("half_watch_prob", c.HalfWatchProb)
	checkProb("idle_probability", c.IdleProbability)

	if !(c.FallbackDurationSeconds >= 0) || !finiteSeconds(c.FallbackDurationSeconds) {
		fail("fallback_duration_seconds", "must be within [0, %d], got %v", maxSeconds, c.FallbackDurationSeconds)
	}
	if !finiteSeconds(c.MaxDurationSeconds) {
		fail("max_duration_seconds", "must be finite and <= %d, got %v", maxSeconds, c.MaxDurationSeconds)
	} else if !(c.MaxDurationSeconds >= c.FallbackDurationSeconds) {
		fail("max_duration_seconds", "must be >= fallback_duration_seconds (%v), got %v",
			c.FallbackDurationSeconds, c.MaxDurationSeconds)
	}

	if c.PollInterval <= 0 {
		fail("poll_interval", "must be > 0, got %s", c.PollInterval)
	}
	if c.StopTimeout <= 0 {
		fail("stop_timeout", "must be > 0, got %s", c.StopTimeout)
	} else if c.PollInterval > 0 && c.StopTimeout <= c.PollInterval {
		// The capture worker notices a stop request only between reads.
		fail("stop_timeout", "must be greater than poll_interval (%s), got %s", c.PollInterval, c.StopTimeout)
	}
	if c.CaptureWarmup < 0 {
		fail("capture_warmup", "must be >= 0, got %s", c.CaptureWarmup)
	}
	if c.CyclePause < 0 {
		fail("cycle_pause", "must be >= 0, got %s", c.CyclePause)
	}
	if c.StimulusGrace < 0 {
		fail("stimulus_grace", "must be >= 0, got %s", c.StimulusGrace)
	}
	if c.SnapLen <= 0 {
		fail("snaplen", "must be > 0, got %d", c.SnapLen)
	}

	checkRange := func(field string, r behavior.Range) {
		if !(r.Min >= 0 && r.Max >= r.Min) || !finiteSeconds(r.Max) {
			fail(field, "needs 0 <= min <= max <= %d, got [%v, %v]", maxSeconds, r.Min, r.Max)
		}
	}
	checkRange("page_load", c.PageLoad)
	checkRange("between_items", c.BetweenItems)
	checkRange("idle", c.Idle)

	switch c.Driver {
	case DriverShorts:
		if c.CDPPort < 1 || c.CDPPort > 65535 {
			fail("cdp_port", "must be within [1, 65535], got %d", c.CDPPort)
		}
		if c.StartURL == "" {
			fail("start_url", "must not be empty for the %s driver", DriverShorts)
		}
		if c.ProfileDir == "" {
			fail("profile_dir", "must not be empty for the %s driver", DriverShorts)
		}
	case DriverIdle:
	default:
		fail("driver", "must be %q or %q, got %q", DriverShorts, DriverIdle, c.Driver)
	}

	if c.StatusAddr != "" {
		if _, _, err := net.SplitHostPort(c.StatusAddr); err != nil {
			fail("status_addr", "must be host:port, got %q", c.StatusAddr)
		}
	}
	if c.StatusFallback < 0 {
		fail("status_fallback", "must be >= 0, got %d", c.StatusFallback)
	}
	if !logLevels[c.LogLevel] {
		fail("log_level", "must be one of debug, info, warn, error, got %q", c.LogLevel)
	}

	if len(errs) == 0 {
		return nil
	}
	return types.NewError(types.CodeConfigValidation, "invalid run configuration", errors.Join(errs...))
}
