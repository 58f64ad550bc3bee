package behavior

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPacerRanges(t *testing.T) {
	p := NewPacer(PacingParams{
		PageLoad:        Range{Min: 2, Max: 4.5},
		BetweenItems:    Range{Min: 0.8, Max: 2.5},
		IdleProbability: 0.12,
		Idle:            Range{Min: 2, Max: 6},
	}, NewSeededRand(11, 2))

	idles := 0
	for i := 0; i < 1000; i++ {
		d := p.BetweenItems()
		assert.GreaterOrEqual(t, d, 800*time.Millisecond)
		assert.LessOrEqual(t, d, 2500*time.Millisecond)

		pl := p.PageLoad()
		assert.GreaterOrEqual(t, pl, 2*time.Second)
		assert.LessOrEqual(t, pl, 4500*time.Millisecond)

		if idle, ok := p.Idle(); ok {
			idles++
			assert.GreaterOrEqual(t, idle, 2*time.Second)
			assert.LessOrEqual(t, idle, 6*time.Second)
		}
	}
	assert.Greater(t, idles, 0)
	assert.Less(t, idles, 1000)
}

func TestPacerZeroRangesAndNoIdle(t *testing.T) {
	p := NewPacer(PacingParams{}, NewSeededRand(1, 2))
	assert.Zero(t, p.BetweenItems())
	assert.Zero(t, p.PageLoad())
	_, ok := p.Idle()
	assert.False(t, ok)
}

func TestPacerDoesNotShareModelStream(t *testing.T) {
	params := Params{WatchProb: 0.5, HalfWatchProb: 0.5, MaxDurationSeconds: 120, FallbackDurationSeconds: 30}

	plain := NewModel(params, NewSeededRand(8, 1))
	paced := NewModel(params, NewSeededRand(8, 1))
	pacer := NewPacer(PacingParams{BetweenItems: Range{Min: 1, Max: 2}, IdleProbability: 0.5, Idle: Range{Min: 1, Max: 2}}, NewSeededRand(8, 2))

	for i := 0; i < 100; i++ {
		want := plain.Plan(i, Known(40))
		got := paced.Plan(i, Known(40))
		pacer.BetweenItems()
		pacer.Idle()
		assert.Equal(t, want, got)
	}
}
