// Package orchestrator sequences capture cycles: one capture session per cycle,
// with the stimulus items of that cycle presented strictly between its start and stop.
package orchestrator

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dgnsrekt/trafficlab/internal/behavior"
	"github.com/dgnsrekt/trafficlab/internal/capture"
	"github.com/dgnsrekt/trafficlab/internal/stimulus"
	"github.com/dgnsrekt/trafficlab/internal/storage"
	"github.com/dgnsrekt/trafficlab/internal/types"
)

// Options describe the cycle layout of one run.
type Options struct {
	RunID         string
	Cycles        int
	ItemsPerCycle int
	Interface     string
	Filter        string
	OutDir        string
	Prefix        string

	StopTimeout   time.Duration
	CaptureWarmup time.Duration
	CyclePause    time.Duration
	// StimulusGrace bounds every driver call beyond its own wait. Zero disables the bound.
	StimulusGrace time.Duration
}

// Deps are the collaborators of a run. Pacer, Logger, Observers and Now are optional.
type Deps struct {
	Opener    capture.Opener
	Driver    stimulus.Driver
	Model     *behavior.Model
	Pacer     *behavior.Pacer
	Logger    *slog.Logger
	Observers []Observer
	Now       func() time.Time
}

// CycleEvent announces a cycle whose capture is about to start.
type CycleEvent struct {
	RunID      string    `json:"run_id"`
	CycleIndex int       `json:"cycle_index"`
	Cycles     int       `json:"cycles"`
	OutputPath string    `json:"output_path"`
	StartedAt  time.Time `json:"started_at"`
}

// Observer receives progress from the run goroutine. Implementations must not block.
type Observer interface {
	CycleStarted(ev CycleEvent)
	ItemFinished(cycle int, rec types.ItemRecord)
	CycleFinished(result types.CycleResult)
}

// Orchestrator runs the cycles of exactly one run.
type Orchestrator struct {
	opts   Options
	deps   Deps
	logger *slog.Logger

	used atomic.Bool
	// dirErr is set once by Run when the output directory cannot be created.
	dirErr error

	mu      sync.Mutex
	results []types.CycleResult
}

func New(opts Options, deps Deps) *Orchestrator {
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Orchestrator{
		opts:   opts,
		deps:   deps,
		logger: deps.Logger.With("run_id", opts.RunID),
	}
}

func (o *Orchestrator) RunID() string { return o.opts.RunID }

// Run returns the lazily produced cycle results. Cycles execute while the sequence is
// ranged over; breaking out of the loop ends the run after the cycle just yielded.
// The sequence can be consumed once. Cancelling ctx stops the in-flight cycle's
// capture, yields its result and ends the run.
func (o *Orchestrator) Run(ctx context.Context) iter.Seq[types.CycleResult] {
	return func(yield func(types.CycleResult) bool) {
		if !o.used.CompareAndSwap(false, true) {
			o.logger.Warn("orchestrator already ran, construct a new one to run again")
			return
		}

		if err := os.MkdirAll(o.opts.OutDir, 0o755); err != nil {
			o.logger.Error("create output directory failed", "outdir", o.opts.OutDir, "error", err)
			o.dirErr = types.NewError(types.CodeCaptureStart, "create output directory "+o.opts.OutDir, err)
		}
		o.logger.Info("run started",
			"cycles", o.opts.Cycles,
			"items_per_cycle", o.opts.ItemsPerCycle,
			"interface", o.opts.Interface,
			"filter", o.opts.Filter,
			"outdir", o.opts.OutDir,
		)

		for i := 0; i < o.opts.Cycles; i++ {
			if ctx.Err() != nil {
				o.logger.Warn("run cancelled before cycle", "cycle", i)
				return
			}

			result := o.runCycle(ctx, i)
			o.record(result)
			if !yield(result) {
				return
			}
			if ctx.Err() != nil {
				o.logger.Warn("run cancelled", "after_cycle", i)
				return
			}

			if i < o.opts.Cycles-1 {
				if err := sleepCtx(ctx, o.opts.CyclePause); err != nil {
					o.logger.Warn("run cancelled during cycle pause", "after_cycle", i)
					return
				}
			}
		}
		o.logger.Info("run finished", "cycles", o.opts.Cycles)
	}
}

// Summary returns the results emitted so far, in cycle order.
func (o *Orchestrator) Summary() []types.CycleResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]types.CycleResult, len(o.results))
	copy(out, o.results)
	return out
}

func (o *Orchestrator) record(result types.CycleResult) {
	o.mu.Lock()
	o.results = append(o.results, result)
	o.mu.Unlock()

	for _, obs := range o.deps.Observers {
		obs.CycleFinished(result)
	}

	attrs := []any{
		"cycle", result.CycleIndex,
		"outcome", string(result.Outcome),
		"output_path", result.OutputPath,
		"packets", result.PacketsCaptured,
		"watched", result.ItemsWatched,
		"skipped", result.ItemsSkipped,
		"failed_items", result.ItemsFailed,
	}
	if result.Error != "" {
		attrs = append(attrs, "error", result.Error)
	}
	if result.Outcome == types.OutcomeCompleted {
		o.logger.Info("cycle finished", attrs...)
	} else {
		o.logger.Warn("cycle finished", attrs...)
	}
}

func (o *Orchestrator) runCycle(ctx context.Context, i int) types.CycleResult {
	log := o.logger.With("cycle", i)
	result := types.CycleResult{
		RunID:          o.opts.RunID,
		CycleIndex:     i,
		ItemsRequested: o.opts.ItemsPerCycle,
		StartedAt:      o.deps.Now(),
	}

	if o.dirErr != nil {
		return failed(result, o.dirErr)
	}

	path, err := storage.CyclePath(o.opts.OutDir, o.opts.Prefix, i, result.StartedAt)
	if err != nil {
		return failed(result, types.NewError(types.CodeCaptureStart, "choose output path", err))
	}
	result.OutputPath = path

	for _, obs := range o.deps.Observers {
		obs.CycleStarted(CycleEvent{
			RunID:      o.opts.RunID,
			CycleIndex: i,
			Cycles:     o.opts.Cycles,
			OutputPath: path,
			StartedAt:  result.StartedAt,
		})
	}

	sess := capture.NewSession(capture.Spec{
		Interface:  o.opts.Interface,
		Filter:     o.opts.Filter,
		OutputPath: path,
	}, o.deps.Opener, log)
	if err := sess.Start(); err != nil {
		return failed(result, err)
	}
	result.StartedAt = sess.StartedAt()

	stimErr := o.present(ctx, log, i, &result)

	stopBegin := time.Now()
	stopErr := sess.Stop(o.opts.StopTimeout)
	result.StopSeconds = time.Since(stopBegin).Seconds()
	result.PacketsCaptured = sess.PacketCount()
	result.StoppedAt = sess.StoppedAt()

	switch {
	case stopErr != nil:
		result.Outcome = types.OutcomePartialFailure
		result.Error = errors.Join(stopErr, stimErr).Error()
	case stimErr != nil:
		result.Outcome = types.OutcomePartialFailure
		result.Error = stimErr.Error()
	default:
		result.Outcome = types.OutcomeCompleted
	}
	return result
}

// present runs the stimulus part of a cycle while the capture is running. It returns
// a CANCELED error when ctx ended before all items were presented.
func (o *Orchestrator) present(ctx context.Context, log *slog.Logger, cycle int, result *types.CycleResult) error {
	if err := sleepCtx(ctx, o.opts.CaptureWarmup); err != nil {
		return types.NewError(types.CodeCanceled, "cancelled during capture warmup", err)
	}

	var beginErr error
	hooks, hasHooks := o.deps.Driver.(stimulus.CycleHooks)
	if hasHooks && o.opts.ItemsPerCycle > 0 {
		if err := hooks.BeginCycle(ctx, cycle); err != nil {
			beginErr = stimulusError("begin cycle", err)
			log.Error("stimulus session failed to start, skipping items", "error", err)
		}
		defer o.endCycle(ctx, log, hooks)
		if beginErr == nil {
			o.maybeIdle(ctx, log)
		}
	}

	for j := 0; j < o.opts.ItemsPerCycle; j++ {
		if ctx.Err() != nil {
			return types.NewError(types.CodeCanceled, "cancelled during stimulus", ctx.Err())
		}

		rec := o.runItem(ctx, log, j, beginErr)
		result.Items = append(result.Items, rec)
		switch {
		case rec.Failed():
			result.ItemsFailed++
		case rec.Plan.WillWatch:
			result.ItemsWatched++
		default:
			result.ItemsSkipped++
		}
		for _, obs := range o.deps.Observers {
			obs.ItemFinished(cycle, rec)
		}

		if beginErr == nil && o.deps.Pacer != nil {
			if err := sleepCtx(ctx, o.deps.Pacer.BetweenItems()); err != nil {
				continue
			}
			o.maybeIdle(ctx, log)
		}
	}
	if ctx.Err() != nil {
		return types.NewError(types.CodeCanceled, "cancelled during stimulus", ctx.Err())
	}
	return nil
}

func (o *Orchestrator) endCycle(ctx context.Context, log *slog.Logger, hooks stimulus.CycleHooks) {
	grace := o.opts.StimulusGrace
	if grace <= 0 {
		grace = 10 * time.Second
	}
	endCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer cancel()
	if err := hooks.EndCycle(endCtx); err != nil {
		log.Warn("stimulus session teardown failed", "error", err)
	}
}

func (o *Orchestrator) maybeIdle(ctx context.Context, log *slog.Logger) {
	if o.deps.Pacer == nil {
		return
	}
	if d, ok := o.deps.Pacer.Idle(); ok {
		log.Debug("idle pause", "duration", d)
		_ = sleepCtx(ctx, d)
	}
}

// runItem plans and executes one item. The plan is drawn even when the driver is
// unusable so that plan sequences stay aligned with item indices.
func (o *Orchestrator) runItem(ctx context.Context, log *slog.Logger, item int, beginErr error) types.ItemRecord {
	if beginErr != nil {
		return types.ItemRecord{Plan: o.deps.Model.Plan(item, behavior.Unavailable), Error: beginErr.Error()}
	}

	pctx, cancel := o.bound(ctx, 0)
	nominal, err := o.deps.Driver.Probe(pctx, item)
	cancel()
	if err != nil {
		rec := types.ItemRecord{Plan: o.deps.Model.Plan(item, behavior.Unavailable), Error: stimulusError("probe", err).Error()}
		log.Warn("probe failed, skipping item", "item", item, "error", err)
		o.skip(ctx, log, item)
		return rec
	}

	rec := types.ItemRecord{Plan: o.deps.Model.Plan(item, nominal)}
	if rec.Plan.WillWatch {
		wait := secondsToDuration(rec.Plan.TargetDurationSeconds)
		ictx, cancel := o.bound(ctx, wait)
		observed, err := o.deps.Driver.Present(ictx, item, wait)
		cancel()
		rec.ObservedSeconds = observed.Seconds()
		if err != nil {
			rec.Error = stimulusError("present", err).Error()
		}
	} else if err := o.skipErr(ctx, item); err != nil {
		rec.Error = stimulusError("skip", err).Error()
	}

	attrs := []any{
		"item", item,
		"action", rec.Plan.Action(),
		"nominal_available", nominal.Available,
		"target_s", rec.Plan.TargetDurationSeconds,
		"observed_s", rec.ObservedSeconds,
	}
	if rec.Failed() {
		log.Warn("item failed", append(attrs, "error", rec.Error)...)
	} else {
		log.Info("item finished", attrs...)
	}
	return rec
}

func (o *Orchestrator) skip(ctx context.Context, log *slog.Logger, item int) {
	if err := o.skipErr(ctx, item); err != nil {
		log.Debug("skip after failure also failed", "item", item, "error", err)
	}
}

func (o *Orchestrator) skipErr(ctx context.Context, item int) error {
	sctx, cancel := o.bound(ctx, 0)
	defer cancel()
	return o.deps.Driver.Skip(sctx, item)
}

// bound limits a driver call to wait plus the stimulus grace.
func (o *Orchestrator) bound(ctx context.Context, wait time.Duration) (context.Context, context.CancelFunc) {
	if o.opts.StimulusGrace <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, wait+o.opts.StimulusGrace)
}

func stimulusError(op string, err error) error {
	if types.IsCode(err, types.CodeStimulus) {
		return err
	}
	return types.NewError(types.CodeStimulus, op, err)
}

// maxWait keeps float second conversions clear of time.Duration overflow.
const maxWait = time.Duration(math.MaxInt64 / 2)

// secondsToDuration converts a plan target, saturating instead of overflowing.
// Non-finite and negative values become zero.
func secondsToDuration(s float64) time.Duration {
	switch {
	case math.IsNaN(s) || s <= 0:
		return 0
	case s >= maxWait.Seconds():
		return maxWait
	}
	return time.Duration(s * float64(time.Second))
}

func failed(result types.CycleResult, err error) types.CycleResult {
	result.Outcome = types.OutcomeFailed
	result.Error = err.Error()
	return result
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
