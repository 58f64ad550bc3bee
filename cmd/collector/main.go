package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/trafficlab/internal/config"
)

const Version = "1.0.0"

// cliFlags mirrors the subset of RunConfig that can be set on the command line.
type cliFlags struct {
	profile string

	iface            string
	filter           string
	cycles           int
	items            int
	outdir           string
	prefix           string
	headless         bool
	chromePath       string
	driver           string
	watchProb        float64
	halfWatchProb    float64
	maxDuration      float64
	fallbackDuration float64
	seed             uint64
	statusAddr       string
	notifyURL        string
	logLevel         string
}

func (f *cliFlags) register(fs *pflag.FlagSet) {
	d := config.Default()
	fs.StringVar(&f.profile, "config", "", "YAML run profile overlaid on environment settings")
	fs.StringVarP(&f.iface, "interface", "i", d.Interface, "Capture interface")
	fs.StringVar(&f.filter, "filter", d.Filter, "BPF capture filter")
	fs.IntVarP(&f.cycles, "cycles", "c", d.Cycles, "Number of capture cycles")
	fs.IntVarP(&f.items, "items", "p", d.ItemsPerCycle, "Items presented per cycle")
	fs.StringVar(&f.outdir, "outdir", d.OutDir, "Output directory for captures")
	fs.StringVar(&f.prefix, "prefix", d.Prefix, "Capture file name prefix")
	fs.BoolVar(&f.headless, "headless", d.Headless, "Run the browser headless")
	fs.StringVar(&f.chromePath, "chrome-path", d.ChromePath, "Browser binary (auto-detected when empty)")
	fs.StringVar(&f.driver, "driver", d.Driver, "Stimulus driver (shorts, idle)")
	fs.Float64Var(&f.watchProb, "watch-prob", d.WatchProb, "Probability of watching an item")
	fs.Float64Var(&f.halfWatchProb, "half-watch-prob", d.HalfWatchProb, "Probability a watched item is cut in half")
	fs.Float64Var(&f.maxDuration, "max-duration", d.MaxDurationSeconds, "Upper bound on watch time in seconds")
	fs.Float64Var(&f.fallbackDuration, "fallback-duration", d.FallbackDurationSeconds, "Watch time when the item duration is unknown")
	fs.Uint64Var(&f.seed, "seed", d.Seed, "Random seed (0 picks one and logs it)")
	fs.StringVar(&f.statusAddr, "status-addr", d.StatusAddr, "Status API address, empty disables it")
	fs.StringVar(&f.notifyURL, "notify-url", d.NotifyURL, "Endpoint that receives the end-of-run summary")
	fs.StringVar(&f.logLevel, "log-level", d.LogLevel, "Log level (debug, info, warn, error)")
}

// apply copies only the flags the user set, so environment and profile values survive.
func (f *cliFlags) apply(fs *pflag.FlagSet, cfg *config.RunConfig) {
	set := func(name string, fn func()) {
		if fs.Changed(name) {
			fn()
		}
	}
	set("interface", func() { cfg.Interface = f.iface })
	set("filter", func() { cfg.Filter = f.filter })
	set("cycles", func() { cfg.Cycles = f.cycles })
	set("items", func() { cfg.ItemsPerCycle = f.items })
	set("outdir", func() { cfg.OutDir = f.outdir })
	set("prefix", func() { cfg.Prefix = f.prefix })
	set("headless", func() { cfg.Headless = f.headless })
	set("chrome-path", func() { cfg.ChromePath = f.chromePath })
	set("driver", func() { cfg.Driver = f.driver })
	set("watch-prob", func() { cfg.WatchProb = f.watchProb })
	set("half-watch-prob", func() { cfg.HalfWatchProb = f.halfWatchProb })
	set("max-duration", func() { cfg.MaxDurationSeconds = f.maxDuration })
	set("fallback-duration", func() { cfg.FallbackDurationSeconds = f.fallbackDuration })
	set("seed", func() { cfg.Seed = f.seed })
	set("status-addr", func() { cfg.StatusAddr = f.statusAddr })
	set("notify-url", func() { cfg.NotifyURL = f.notifyURL })
	set("log-level", func() { cfg.LogLevel = f.logLevel })
}

// load resolves defaults, .env, environment, profile and flags, then validates.
func (f *cliFlags) load(fs *pflag.FlagSet) (*config.RunConfig, error) {
	cfg, err := config.Load(f.profile)
	if err != nil {
		return nil, err
	}
	f.apply(fs, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newRootCmd() *cobra.Command {
	flags := &cliFlags{}

	rootCmd := &cobra.Command{
		Use:           "collector",
		Short:         "Capture labeled encrypted traffic while driving a scripted viewer",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the capture cycles",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd.Flags())
			if err != nil {
				return err
			}
			if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
				return fmt.Errorf("logger setup failed: %w", err)
			}
			return run(cmd.Context(), cfg)
		},
	}
	flags.register(runCmd.Flags())

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the effective configuration and print it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd.Flags())
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	flags.register(validateCmd.Flags())

	rootCmd.AddCommand(runCmd, validateCmd)
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "collector: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("stderr write failed", "error", writeErr)
		}
		os.Exit(1)
	}
}

func setupLogger(level, filename string) error {
	writers := []io.Writer{os.Stdout}
	if filename != "" {
		if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
			return err
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   filename,
			MaxSize:    25,
			MaxBackups: 10,
			MaxAge:     14,
			Compress:   true,
		})
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(writers...), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
