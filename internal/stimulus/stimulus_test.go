package stimulus

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/trafficlab/internal/behavior"
	"github.com/dgnsrekt/trafficlab/internal/types"
)

func TestDecodeEnvelope(t *testing.T) {
	t.Run("ok_with_data", func(t *testing.T) {
		var st videoState
		err := decodeEnvelope(`{"ok":true,"data":{"present":true,"duration":31.5,"current_time":2,"paused":false,"ended":false}}`, &st)
		require.NoError(t, err)
		assert.True(t, st.Present)
		require.NotNil(t, st.Duration)
		assert.Equal(t, 31.5, *st.Duration)
		assert.Equal(t, behavior.Known(31.5), st.nominal())
	})

	t.Run("ok_without_out", func(t *testing.T) {
		assert.NoError(t, decodeEnvelope(`{"ok":true}`, nil))
	})

	t.Run("script_error", func(t *testing.T) {
		err := decodeEnvelope(`{"ok":false,"error_code":"EVAL_FAILURE","error_message":"boom"}`, nil)
		require.Error(t, err)
		assert.True(t, types.IsCode(err, types.CodeStimulus))
		assert.Contains(t, err.Error(), "boom")
	})

	t.Run("invalid_json", func(t *testing.T) {
		err := decodeEnvelope(`not json`, nil)
		require.Error(t, err)
		assert.True(t, types.IsCode(err, types.CodeStimulus))
	})
}

func TestVideoStateNominal(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	tests := []struct {
		name string
		st   videoState
		want behavior.Nominal
	}{
		{"no_video", videoState{}, behavior.Unavailable},
		{"metadata_not_loaded", videoState{Present: true}, behavior.Unavailable},
		{"zero_duration", videoState{Present: true, Duration: f(0)}, behavior.Unavailable},
		{"negative_duration", videoState{Present: true, Duration: f(-3)}, behavior.Unavailable},
		{"known", videoState{Present: true, Duration: f(12.25)}, behavior.Known(12.25)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.st.nominal())
		})
	}
}

func TestScripts(t *testing.T) {
	assert.True(t, strings.HasPrefix(jsVideoState(), "(function(){\ntry {"))
	assert.True(t, strings.HasPrefix(jsEnsurePlaying(), "(async function(){\ntry {"))
	assert.Contains(t, jsEnsurePlaying(), "v.muted = true")
	assert.Contains(t, jsAcceptConsent(), `"aceitar"`)
	assert.Contains(t, jsAcceptConsent(), `"accept"`)
	for _, js := range []string{jsVideoState(), jsEnsurePlaying(), jsAcceptConsent()} {
		assert.Contains(t, js, `error_code:"EVAL_FAILURE"`)
	}
}

func TestIdleDriver(t *testing.T) {
	var d Driver = IdleDriver{}

	n, err := d.Probe(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, behavior.Unavailable, n)
	assert.NoError(t, d.Skip(context.Background(), 0))

	t.Run("present_waits", func(t *testing.T) {
		got, err := d.Present(context.Background(), 1, 30*time.Millisecond)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, got, 30*time.Millisecond)
	})

	t.Run("present_honors_cancel", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		got, err := d.Present(ctx, 2, 5*time.Second)
		require.Error(t, err)
		assert.True(t, types.IsCode(err, types.CodeStimulus))
		assert.Less(t, got, time.Second)
	})
}

type stubBrowser struct {
	stops int
}

func (b *stubBrowser) Launch(context.Context) error { return nil }
func (b *stubBrowser) CDPURL() string               { return "http://127.0.0.1:1" }
func (b *stubBrowser) Stop()                        { b.stops++ }

func TestShortsDriverWithoutSession(t *testing.T) {
	b := &stubBrowser{}
	d := NewShortsDriver(ShortsConfig{}, b, nil)
	ctx := context.Background()

	_, err := d.Probe(ctx, 0)
	assert.True(t, types.IsCode(err, types.CodeStimulus))

	err = d.Skip(ctx, 0)
	assert.True(t, types.IsCode(err, types.CodeStimulus))

	_, err = d.Present(ctx, 0, 10*time.Millisecond)
	assert.True(t, types.IsCode(err, types.CodeStimulus))

	require.NoError(t, d.EndCycle(ctx))
	assert.Equal(t, 1, b.stops)
	assert.Equal(t, DefaultStartURL, d.cfg.StartURL)
}
