package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/banshee-data/simlidar/internal/simlidar"
)

func TestAttachStreams_RoutesAndFlushesOnClose(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	ls := attachStreams(zap.New(core), false)
	t.Cleanup(func() { simlidar.SetLogWriters(simlidar.LogWriters{}) })

	simlidar.Opsf("engine %d closed", 3)
	simlidar.Diagf("cycle %d delivered", 9)
	simlidar.Tracef("not routed")

	_, err := ls.writers[0].Write([]byte("last words"))
	require.NoError(t, err)
	assert.Equal(t, 2, logs.Len(), "partial line is buffered until Close")

	ls.Close()
	simlidar.Opsf("after close")

	entries := logs.AllUntimed()
	require.Len(t, entries, 3)
	assert.Equal(t, "ops", entries[0].LoggerName)
	assert.Equal(t, "[simlidar] engine 3 closed", entries[0].Message)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "diag", entries[1].LoggerName)
	assert.Equal(t, zapcore.DebugLevel, entries[1].Level)
	assert.Equal(t, "last words", entries[2].Message)
	assert.False(t, simlidar.Enabled(simlidar.StreamOps))
}

func TestAttachStreams_Trace(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	ls := attachStreams(zap.New(core), true)
	defer ls.Close()

	simlidar.Tracef("cast dispatched")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "trace", logs.All()[0].LoggerName)
}
