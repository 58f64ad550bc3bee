package behavior

import (
	"math/rand/v2"
	"time"
)

// Range is an inclusive-exclusive span of seconds.
type Range struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// PacingParams describe the human-like pauses around stimulus items.
type PacingParams struct {
	PageLoad        Range
	BetweenItems    Range
	IdleProbability float64
	Idle            Range
}

// Pacer draws pause lengths from its own generator, so pacing never perturbs WatchPlan sequences.
type Pacer struct {
	p   PacingParams
	rng *rand.Rand
}

func NewPacer(p PacingParams, rng *rand.Rand) *Pacer {
	return &Pacer{p: p, rng: rng}
}

// PageLoad is the settle time after opening the start page.
func (p *Pacer) PageLoad() time.Duration { return p.uniform(p.p.PageLoad) }

// BetweenItems is the pause after advancing to the next item.
func (p *Pacer) BetweenItems() time.Duration { return p.uniform(p.p.BetweenItems) }

// Idle returns an occasional extra pause; ok is false when no idle was drawn.
func (p *Pacer) Idle() (time.Duration, bool) {
	if p.rng.Float64() >= p.p.IdleProbability {
		return 0, false
	}
	return p.uniform(p.p.Idle), true
}

func (p *Pacer) uniform(r Range) time.Duration {
	lo, hi := r.Min, r.Max
	if hi < lo {
		lo, hi = hi, lo
	}
	s := lo + p.rng.Float64()*(hi-lo)
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}
