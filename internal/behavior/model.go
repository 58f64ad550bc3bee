// Package behavior holds the watch/skip decision logic. It performs no I/O and
// draws all randomness from injected generators so a run can be replayed from its seed.
package behavior

import (
	"math"
	"math/rand/v2"

	"github.com/dgnsrekt/trafficlab/internal/types"
)

// Params are the pre-validated probabilities and duration bounds used by Model.
type Params struct {
	WatchProb               float64
	HalfWatchProb           float64
	MaxDurationSeconds      float64
	FallbackDurationSeconds float64
}

// Nominal is a stimulus duration as reported by the driver's probe step.
// The zero value is Unavailable.
type Nominal struct {
	Seconds   float64
	Available bool
}

// Unavailable is the probe result for an item whose duration could not be read.
var Unavailable = Nominal{}

// Known wraps a probed duration.
func Known(seconds float64) Nominal {
	return Nominal{Seconds: seconds, Available: true}
}

// Model produces one WatchPlan per stimulus item.
type Model struct {
	p   Params
	rng *rand.Rand
}

// NewModel returns a Model drawing from rng. rng must not be shared with other consumers
// if plan sequences are expected to be reproducible.
func NewModel(p Params, rng *rand.Rand) *Model {
	return &Model{p: p, rng: rng}
}

// NewSeededRand returns the generator used for a given seed and stream.
func NewSeededRand(seed uint64, stream uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, stream))
}

// Plan decides how item itemIndex is consumed.
func (m *Model) Plan(itemIndex int, nominal Nominal) types.WatchPlan {
	plan := types.WatchPlan{ItemIndex: itemIndex}
	if m.rng.Float64() >= m.p.WatchProb {
		return plan
	}
	plan.WillWatch = true
	plan.IsHalfWatch = m.rng.Float64() < m.p.HalfWatchProb

	target := m.BaseDuration(nominal)
	if plan.IsHalfWatch {
		target /= 2
	}
	plan.TargetDurationSeconds = math.Max(0, math.Min(target, m.p.MaxDurationSeconds))
	return plan
}

// BaseDuration resolves the duration before halving and clamping. Non-finite and
// non-positive probe values count as unavailable.
func (m *Model) BaseDuration(nominal Nominal) float64 {
	s := nominal.Seconds
	if !nominal.Available || math.IsNaN(s) || math.IsInf(s, 0) || s <= 0 {
		return m.p.FallbackDurationSeconds
	}
	return s
}
