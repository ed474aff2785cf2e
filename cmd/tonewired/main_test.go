package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestRootCmdFlags(t *testing.T) {
	cmd := newRootCmd()

	for _, name := range []string{"config", "storage-dir", "debug"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "flag --%s", name)
	}
	assert.Equal(t, "false", cmd.Flags().Lookup("debug").DefValue)
}

func TestBuildLoggerLevels(t *testing.T) {
	prod, err := buildLogger(false)
	require.NoError(t, err)
	assert.False(t, prod.Core().Enabled(zapcore.DebugLevel))

	dev, err := buildLogger(true)
	require.NoError(t, err)
	assert.True(t, dev.Core().Enabled(zapcore.DebugLevel))
}
