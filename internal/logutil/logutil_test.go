package logutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestValues(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	zap.New(core).Info("grouped", Values(zap.String("table", "books"), zap.Int("rows", 3)))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, map[string]interface{}{"table": "books", "rows": int64(3)}, fields["values"])
}

func TestRow(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	zap.New(core).Debug("row", Row([]string{"id", "title"}, []any{int64(3), "Emma"}))

	fields := logs.All()[0].ContextMap()
	assert.Equal(t, map[string]interface{}{"id": int64(3), "title": "Emma"}, fields["row"])
}

func TestNew(t *testing.T) {
	l, err := New("debug", true)
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	l, err = New("warn", false)
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))

	_, err = New("loud", false)
	assert.Error(t, err)
}

func TestContextLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	ctx := WithLogger(context.Background(), zap.New(core))
	L(ctx).Info("hello")
	assert.Equal(t, 1, logs.Len())

	assert.NotNil(t, L(context.Background()))
}
