package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestInitLogger(t *testing.T) {
	restore := SetLogger(zap.NewNop())
	defer restore()

	require.NoError(t, InitLogger(Options{Level: "debug"}))
	assert.True(t, Logger.Core().Enabled(zapcore.DebugLevel))

	require.NoError(t, InitLogger(Options{Development: true}))
	assert.False(t, Logger.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, Logger.Core().Enabled(zapcore.InfoLevel))

	assert.Error(t, InitLogger(Options{Level: "loud"}))
}

func TestSetLoggerRestores(t *testing.T) {
	prev := Logger
	l := zap.NewExample()
	restore := SetLogger(l)
	assert.Same(t, l, Logger)
	restore()
	assert.Same(t, prev, Logger)
}
