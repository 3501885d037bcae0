package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"":        zapcore.InfoLevel,
		"debug":   zapcore.DebugLevel,
		" INFO ":  zapcore.InfoLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestLogger_SetLevel(t *testing.T) {
	l, err := New("info", false)
	require.NoError(t, err)
	defer l.Sync()

	child := l.Named("monitor")
	assert.False(t, child.Core().Enabled(zapcore.DebugLevel))

	require.NoError(t, l.SetLevel("debug"))
	assert.Equal(t, zapcore.DebugLevel, l.Level())
	assert.True(t, child.Core().Enabled(zapcore.DebugLevel), "derived loggers follow the shared level")

	assert.Error(t, l.SetLevel("loud"))
	assert.Equal(t, zapcore.DebugLevel, l.Level())
}

func TestNew_Development(t *testing.T) {
	l, err := New("warn", true)
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, l.Level())

	_, err = New("nope", true)
	assert.Error(t, err)
}
