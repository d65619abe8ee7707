package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFieldConstructors(t *testing.T) {
	assert.Equal(t, Field{Key: "k", Value: "v"}, String("k", "v"))
	assert.Equal(t, Field{Key: "n", Value: 7}, Int("n", 7))
	assert.Equal(t, Field{Key: "d", Value: time.Second}, Duration("d", time.Second))
	assert.Equal(t, Field{Key: "error", Value: "<nil>"}, Err(nil))
}

func TestNewLogger_Defaults(t *testing.T) {
	l, err := NewLogger(LogConfig{})
	require.NoError(t, err)
	require.NotNil(t, l)
}

func TestZapLogger_EmitsFields(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	l := NewLoggerFromCore(core)

	l.Info("job started", String("job_id", "j1"), Int("attempt", 2))

	entries := observed.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "job started", entries[0].Message)
	fields := entries[0].ContextMap()
	assert.Equal(t, "j1", fields["job_id"])
	assert.EqualValues(t, 2, fields["attempt"])
}

func TestWith_DoesNotMutateParent(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	parent := NewLoggerFromCore(core)
	child := parent.With(String("stage", "mapping"))

	parent.Info("parent entry")
	child.Info("child entry")

	entries := observed.All()
	require.Len(t, entries, 2)
	assert.NotContains(t, entries[0].ContextMap(), "stage")
	assert.Equal(t, "mapping", entries[1].ContextMap()["stage"])
}

func TestDefault_Swap(t *testing.T) {
	orig := Default()
	defer SetDefault(orig)

	nop := NewNopLogger()
	SetDefault(nop)
	assert.Equal(t, nop, Default())

	// nil is ignored
	SetDefault(nil)
	assert.Equal(t, nop, Default())
}
