package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/dgnsrekt/trafficlab/internal/config"
	"github.com/dgnsrekt/trafficlab/internal/types"
)

func TestValidatePrintsEffectiveConfig(t *testing.T) {
	t.Setenv("COLLECTOR_INTERFACE", "eth9")
	t.Setenv("COLLECTOR_CYCLES", "8")

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"validate", "--cycles", "3", "--driver", "idle", "--seed", "42"})
	require.NoError(t, cmd.Execute())

	var got config.RunConfig
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, 3, got.Cycles, "flag wins over environment")
	assert.Equal(t, "eth9", got.Interface, "unset flag keeps environment value")
	assert.Equal(t, config.DriverIdle, got.Driver)
	assert.Equal(t, uint64(42), got.Seed)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"validate", "--cycles", "0", "--watch-prob", "2"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.CodeConfigValidation))
	assert.Contains(t, err.Error(), "cycles")
	assert.Contains(t, err.Error(), "watch_prob")
}

func TestResolveSeed(t *testing.T) {
	assert.Equal(t, uint64(7), resolveSeed(7))
	assert.NotZero(t, resolveSeed(0))
}
