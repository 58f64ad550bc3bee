package main

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/dgnsrekt/trafficlab/internal/api"
	"github.com/dgnsrekt/trafficlab/internal/behavior"
	"github.com/dgnsrekt/trafficlab/internal/browser"
	"github.com/dgnsrekt/trafficlab/internal/capture"
	"github.com/dgnsrekt/trafficlab/internal/config"
	"github.com/dgnsrekt/trafficlab/internal/metrics"
	"github.com/dgnsrekt/trafficlab/internal/netutil"
	"github.com/dgnsrekt/trafficlab/internal/notify"
	"github.com/dgnsrekt/trafficlab/internal/orchestrator"
	"github.com/dgnsrekt/trafficlab/internal/relay"
	"github.com/dgnsrekt/trafficlab/internal/stimulus"
	"github.com/dgnsrekt/trafficlab/internal/storage"
	"github.com/dgnsrekt/trafficlab/internal/types"
)

const (
	modelStream = 1
	pacerStream = 2

	summaryBuffer    = 64
	summaryMaxSizeMB = 100
	notifyTimeout    = 10 * time.Second
	shutdownTimeout  = 5 * time.Second
)

// resolveSeed replaces seed 0 with a random non-zero seed so every run is reproducible
// from its logs and manifests.
func resolveSeed(seed uint64) uint64 {
	for seed == 0 {
		seed = rand.Uint64()
	}
	return seed
}

func newDriver(cfg *config.RunConfig, pacer *behavior.Pacer, logger *slog.Logger) stimulus.Driver {
	if cfg.Driver == config.DriverIdle {
		return stimulus.IdleDriver{}
	}
	launcher := browser.NewLauncher(browser.Config{
		ChromePath: cfg.ChromePath,
		CDPPort:    cfg.CDPPort,
		ProfileDir: cfg.ProfileDir,
		Headless:   cfg.Headless,
		Language:   cfg.Language,
	}, logger)
	return stimulus.NewShortsDriver(stimulus.ShortsConfig{
		StartURL: cfg.StartURL,
		PageLoad: pacer.PageLoad,
	}, launcher, logger)
}

func run(parent context.Context, cfg *config.RunConfig) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg.Seed = resolveSeed(cfg.Seed)
	runID := uuid.NewString()
	logger := slog.Default().With("run_id", runID)

	logger.Info("collector config loaded",
		"interface", cfg.Interface,
		"filter", cfg.Filter,
		"cycles", cfg.Cycles,
		"items_per_cycle", cfg.ItemsPerCycle,
		"outdir", cfg.OutDir,
		"prefix", cfg.Prefix,
		"driver", cfg.Driver,
		"seed", cfg.Seed,
		"status_addr", cfg.StatusAddr,
		"log_level", cfg.LogLevel,
	)

	if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
		return err
	}
	summary, err := storage.NewSummaryWriter(storage.SummaryPath(cfg.OutDir, cfg.Prefix), summaryBuffer, summaryMaxSizeMB, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := summary.Close(); err != nil {
			logger.Error("summary close failed", "path", summary.Path(), "error", err)
		}
	}()
	manifests, err := storage.NewManifestStore(cfg.OutDir)
	if err != nil {
		return err
	}

	m := metrics.NewMetrics()
	broker := relay.NewBroker()
	tracker := api.NewTracker(api.RunInfo{
		RunID:         runID,
		Seed:          cfg.Seed,
		Driver:        cfg.Driver,
		Interface:     cfg.Interface,
		Filter:        cfg.Filter,
		OutDir:        cfg.OutDir,
		Prefix:        cfg.Prefix,
		Cycles:        cfg.Cycles,
		ItemsPerCycle: cfg.ItemsPerCycle,
	})

	if cfg.StatusAddr != "" {
		srv, err := startStatusServer(cfg, api.Deps{
			Tracker:   tracker,
			Manifests: manifests,
			Metrics:   m.Handler(),
			Broker:    broker,
			Logger:    logger,
		}, logger)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("status server shutdown failed", "error", err)
			}
		}()
	}

	pacer := behavior.NewPacer(cfg.PacingParams(), behavior.NewSeededRand(cfg.Seed, pacerStream))
	orch := orchestrator.New(orchestrator.Options{
		RunID:         runID,
		Cycles:        cfg.Cycles,
		ItemsPerCycle: cfg.ItemsPerCycle,
		Interface:     cfg.Interface,
		Filter:        cfg.Filter,
		OutDir:        cfg.OutDir,
		Prefix:        cfg.Prefix,
		StopTimeout:   cfg.StopTimeout,
		CaptureWarmup: cfg.CaptureWarmup,
		CyclePause:    cfg.CyclePause,
		StimulusGrace: cfg.StimulusGrace,
	}, orchestrator.Deps{
		Opener: capture.PcapOpener{
			SnapLen:      cfg.SnapLen,
			Promiscuous:  cfg.Promiscuous,
			PollInterval: cfg.PollInterval,
		},
		Driver:    newDriver(cfg, pacer, logger),
		Model:     behavior.NewModel(cfg.BehaviorParams(), behavior.NewSeededRand(cfg.Seed, modelStream)),
		Pacer:     pacer,
		Logger:    logger,
		Observers: []orchestrator.Observer{m, relay.NewPublisher(broker, logger), tracker},
	})

	for result := range orch.Run(ctx) {
		if err := summary.Write(result); err != nil {
			logger.Error("summary write failed", "cycle", result.CycleIndex, "error", err)
		}
		if result.Outcome == types.OutcomeFailed {
			// Capture never started, so there is no file to label.
			continue
		}
		err := manifests.Save(storage.Manifest{
			RunID:     runID,
			Label:     cfg.Prefix,
			Seed:      cfg.Seed,
			Interface: cfg.Interface,
			Filter:    cfg.Filter,
			Driver:    cfg.Driver,
			Result:    result,
		})
		if err != nil {
			logger.Error("manifest save failed", "cycle", result.CycleIndex, "path", result.OutputPath, "error", err)
		}
	}

	results := orch.Summary()
	state := api.RunStateFinished
	if ctx.Err() != nil {
		state = api.RunStateCancelled
	}
	tracker.Finish(state)
	logger.Info("collector finished", "state", state, "summary", notify.Summary(runID, results))

	if cfg.NotifyURL != "" {
		notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := notify.SendSummary(notifyCtx, nil, cfg.NotifyURL, runID, results); err != nil {
			logger.Warn("run notification failed", "url", cfg.NotifyURL, "error", err)
		}
	}
	return nil
}

func startStatusServer(cfg *config.RunConfig, deps api.Deps, logger *slog.Logger) (*http.Server, error) {
	bindAddr, err := netutil.SelectBindAddr(cfg.StatusAddr, cfg.StatusFallback)
	if err != nil {
		logger.Error("failed to select status bind address", "preferred", cfg.StatusAddr, "error", err)
		return nil, err
	}

	srv := &http.Server{Addr: bindAddr, Handler: api.NewServer(deps)}
	go func() {
		logger.Info("status api listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status server failed", "error", err)
		}
	}()
	return srv, nil
}
