package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"mailsweep/pkg/config"
	"mailsweep/pkg/trace"
)

func TestWithTraceAddsFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	ctx := trace.WithContext(context.Background(), "t-1")
	ctx = WithOperation(ctx, "op-9")
	WithTrace(ctx, base).Info("hello")
	WithTrace(context.Background(), base).Info("bare")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "t-1", entries[0].ContextMap()["trace_id"])
	assert.Equal(t, "op-9", entries[0].ContextMap()["op_id"])
	assert.Empty(t, entries[1].ContextMap())
}

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	_, err := NewLogger(config.LogConfig{Level: "loud"})
	assert.Error(t, err)

	l, err := NewLogger(config.LogConfig{Development: true, Level: "debug"})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zap.DebugLevel))
}
