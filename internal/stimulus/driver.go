// Package stimulus contains the browsing drivers that generate traffic while a
// capture cycle is running.
package stimulus

import (
	"context"
	"time"

	"github.com/dgnsrekt/trafficlab/internal/behavior"
	"github.com/dgnsrekt/trafficlab/internal/types"
)

// Driver presents stimulus items. Each call must return within a bounded time;
// callers bound it further through ctx.
type Driver interface {
	// Probe reports the nominal duration of the current item, or behavior.Unavailable.
	Probe(ctx context.Context, itemIndex int) (behavior.Nominal, error)
	// Present plays the current item for about wait, advances past it and returns the time spent.
	Present(ctx context.Context, itemIndex int, wait time.Duration) (time.Duration, error)
	// Skip advances past the current item immediately.
	Skip(ctx context.Context, itemIndex int) error
}

// CycleHooks is implemented by drivers that hold per-cycle state such as a browser session.
type CycleHooks interface {
	BeginCycle(ctx context.Context, cycle int) error
	EndCycle(ctx context.Context) error
}

// IdleDriver generates no stimulus. Present only waits, which records background
// traffic on the same schedule a real driver would follow.
type IdleDriver struct{}

func (IdleDriver) Probe(context.Context, int) (behavior.Nominal, error) {
	return behavior.Unavailable, nil
}

func (IdleDriver) Present(ctx context.Context, _ int, wait time.Duration) (time.Duration, error) {
	start := time.Now()
	if err := sleepCtx(ctx, wait); err != nil {
		return time.Since(start), types.NewError(types.CodeStimulus, "present interrupted", err)
	}
	return time.Since(start), nil
}

func (IdleDriver) Skip(context.Context, int) error { return nil }

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
