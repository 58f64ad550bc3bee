package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dgnsrekt/trafficlab/internal/behavior"
)

const (
	DriverShorts = "shorts"
	DriverIdle   = "idle"
)

// RunConfig holds every setting of one collection run. It is validated once and then
// treated as read-only.
type RunConfig struct {
	// Cycle layout
	Cycles        int    `yaml:"cycles" json:"cycles"`
	ItemsPerCycle int    `yaml:"items_per_cycle" json:"items_per_cycle"`
	Interface     string `yaml:"interface" json:"interface"`
	Filter        string `yaml:"filter" json:"filter"`
	OutDir        string `yaml:"outdir" json:"outdir"`
	Prefix        string `yaml:"prefix" json:"prefix"`

	// Behavior model
	WatchProb               float64 `yaml:"watch_prob" json:"watch_prob"`
	HalfWatchProb           float64 `yaml:"half_watch_prob" json:"half_watch_prob"`
	MaxDurationSeconds      float64 `yaml:"max_duration_seconds" json:"max_duration_seconds"`
	FallbackDurationSeconds float64 `yaml:"fallback_duration_seconds" json:"fallback_duration_seconds"`
	Seed                    uint64  `yaml:"seed" json:"seed"`

	// Capture
	PollInterval  time.Duration `yaml:"poll_interval" json:"poll_interval"`
	StopTimeout   time.Duration `yaml:"stop_timeout" json:"stop_timeout"`
	CaptureWarmup time.Duration `yaml:"capture_warmup" json:"capture_warmup"`
	CyclePause    time.Duration `yaml:"cycle_pause" json:"cycle_pause"`
	SnapLen       int           `yaml:"snaplen" json:"snaplen"`
	Promiscuous   bool          `yaml:"promiscuous" json:"promiscuous"`

	// Stimulus
	Driver          string         `yaml:"driver" json:"driver"`
	Headless        bool           `yaml:"headless" json:"headless"`
	StimulusGrace   time.Duration  `yaml:"stimulus_grace" json:"stimulus_grace"`
	StartURL        string         `yaml:"start_url" json:"start_url"`
	ChromePath      string         `yaml:"chrome_path" json:"chrome_path"`
	CDPPort         int            `yaml:"cdp_port" json:"cdp_port"`
	ProfileDir      string         `yaml:"profile_dir" json:"profile_dir"`
	Language        string         `yaml:"language" json:"language"`
	PageLoad        behavior.Range `yaml:"page_load" json:"page_load"`
	BetweenItems    behavior.Range `yaml:"between_items" json:"between_items"`
	IdleProbability float64        `yaml:"idle_probability" json:"idle_probability"`
	Idle            behavior.Range `yaml:"idle" json:"idle"`

	// Surfaces
	StatusAddr     string `yaml:"status_addr" json:"status_addr"`
	StatusFallback int    `yaml:"status_fallback" json:"status_fallback"`
	NotifyURL      string `yaml:"notify_url" json:"notify_url"`
	LogLevel       string `yaml:"log_level" json:"log_level"`
	LogFile        string `yaml:"log_file" json:"log_file"`
}

// Default returns the built-in configuration.
func Default() *RunConfig {
	return &RunConfig{
		Cycles:                  5,
		ItemsPerCycle:           20,
		Interface:               "enp0s8",
		Filter:                  "udp port 1194",
		OutDir:                  "capturas",
		Prefix:                  "shorts_traffic",
		WatchProb:               0.35,
		HalfWatchProb:           0.45,
		MaxDurationSeconds:      120,
		FallbackDurationSeconds: 30,
		PollInterval:            time.Second,
		StopTimeout:             10 * time.Second,
		CaptureWarmup:           2 * time.Second,
		CyclePause:              3 * time.Second,
		SnapLen:                 65535,
		Promiscuous:             true,
		Driver:                  DriverShorts,
		StimulusGrace:           10 * time.Second,
		StartURL:                "https://www.youtube.com/shorts",
		CDPPort:                 9230,
		ProfileDir:              "./chrome_profile",
		Language:                "pt-BR",
		PageLoad:                behavior.Range{Min: 2, Max: 4.5},
		BetweenItems:            behavior.Range{Min: 0.8, Max: 2.5},
		IdleProbability:         0.12,
		Idle:                    behavior.Range{Min: 2, Max: 6},
		StatusFallback:          5,
		LogLevel:                "info",
		LogFile:                 "logs/collector.log",
	}
}

// Load builds the configuration from defaults, an optional .env file and COLLECTOR_*
// environment variables, then overlays the YAML profile when profilePath is set.
func Load(profilePath string) (*RunConfig, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := Default()
	cfg.applyEnv()

	if profilePath != "" {
		if err := cfg.overlayProfile(profilePath); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (c *RunConfig) applyEnv() {
	c.Cycles = getEnvIntOrDefault("COLLECTOR_CYCLES", c.Cycles)
	c.ItemsPerCycle = getEnvIntOrDefault("COLLECTOR_ITEMS_PER_CYCLE", c.ItemsPerCycle)
	c.Interface = getEnvOrDefault("COLLECTOR_INTERFACE", c.Interface)
	c.Filter = getEnvOrDefault("COLLECTOR_FILTER", c.Filter)
	c.OutDir = getEnvOrDefault("COLLECTOR_OUTDIR", c.OutDir)
	c.Prefix = getEnvOrDefault("COLLECTOR_PREFIX", c.Prefix)

	c.WatchProb = getEnvFloatOrDefault("COLLECTOR_WATCH_PROB", c.WatchProb)
	c.HalfWatchProb = getEnvFloatOrDefault("COLLECTOR_HALF_WATCH_PROB", c.HalfWatchProb)
	c.MaxDurationSeconds = getEnvFloatOrDefault("COLLECTOR_MAX_DURATION", c.MaxDurationSeconds)
	c.FallbackDurationSeconds = getEnvFloatOrDefault("COLLECTOR_FALLBACK_DURATION", c.FallbackDurationSeconds)
	c.Seed = getEnvUintOrDefault("COLLECTOR_SEED", c.Seed)

	c.PollInterval = getEnvDurationOrDefault("COLLECTOR_POLL_INTERVAL", c.PollInterval)
	c.StopTimeout = getEnvDurationOrDefault("COLLECTOR_STOP_TIMEOUT", c.StopTimeout)
	c.CaptureWarmup = getEnvDurationOrDefault("COLLECTOR_CAPTURE_WARMUP", c.CaptureWarmup)
	c.CyclePause = getEnvDurationOrDefault("COLLECTOR_CYCLE_PAUSE", c.CyclePause)
	c.SnapLen = getEnvIntOrDefault("COLLECTOR_SNAPLEN", c.SnapLen)
	c.Promiscuous = getEnvBoolOrDefault("COLLECTOR_PROMISC", c.Promiscuous)

	c.Driver = strings.ToLower(getEnvOrDefault("COLLECTOR_DRIVER", c.Driver))
	c.Headless = getEnvBoolOrDefault("COLLECTOR_HEADLESS", c.Headless)
	c.StimulusGrace = getEnvDurationOrDefault("COLLECTOR_STIMULUS_GRACE", c.StimulusGrace)
	c.StartURL = getEnvOrDefault("COLLECTOR_START_URL", c.StartURL)
	c.ChromePath = getEnvOrDefault("COLLECTOR_CHROME_PATH", c.ChromePath)
	c.CDPPort = getEnvIntOrDefault("CHROMIUM_CDP_PORT", c.CDPPort)
	c.ProfileDir = getEnvOrDefault("COLLECTOR_PROFILE_DIR", c.ProfileDir)
	c.Language = getEnvOrDefault("COLLECTOR_LANGUAGE", c.Language)

	c.StatusAddr = getEnvOrDefault("COLLECTOR_STATUS_ADDR", c.StatusAddr)
	c.StatusFallback = getEnvIntOrDefault("COLLECTOR_STATUS_FALLBACK", c.StatusFallback)
	c.NotifyURL = getEnvOrDefault("COLLECTOR_NOTIFY_URL", c.NotifyURL)
	c.LogLevel = strings.ToLower(getEnvOrDefault("COLLECTOR_LOG_LEVEL", c.LogLevel))
	c.LogFile = getEnvOrDefault("COLLECTOR_LOG_FILE", c.LogFile)
}

// BehaviorParams returns the behavior model parameters.
func (c *RunConfig) BehaviorParams() behavior.Params {
	return behavior.Params{
		WatchProb:               c.WatchProb,
		HalfWatchProb:           c.HalfWatchProb,
		MaxDurationSeconds:      c.MaxDurationSeconds,
		FallbackDurationSeconds: c.FallbackDurationSeconds,
	}
}

// PacingParams returns the pause distributions used around items.
func (c *RunConfig) PacingParams() behavior.PacingParams {
	return behavior.PacingParams{
		PageLoad:        c.PageLoad,
		BetweenItems:    c.BetweenItems,
		IdleProbability: c.IdleProbability,
		Idle:            c.Idle,
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvUintOrDefault(key string, defaultVal uint64) uint64 {
	if val := os.Getenv(key); val != "" {
		if u, err := strconv.ParseUint(val, 10, 64); err == nil {
			return u
		}
	}
	return defaultVal
}

func getEnvFloatOrDefault(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
