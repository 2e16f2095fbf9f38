package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLevels(t *testing.T) {
	for _, tc := range []struct {
		level string
		dev   bool
		want  zapcore.Level
	}{
		{"", false, zapcore.InfoLevel},
		{"debug", true, zapcore.DebugLevel},
		{"warn", false, zapcore.WarnLevel},
		{"error", true, zapcore.ErrorLevel},
	} {
		logger, err := New(Options{Level: tc.level, Development: tc.dev})
		require.NoError(t, err)
		require.True(t, logger.Core().Enabled(tc.want))
		if tc.want > zapcore.DebugLevel {
			require.False(t, logger.Core().Enabled(tc.want-1))
		}
	}
}

func TestNewInvalidLevel(t *testing.T) {
	_, err := New(Options{Level: "loud"})
	require.Error(t, err)
}

func TestComponentNil(t *testing.T) {
	require.NotNil(t, Component(nil, "server"))
}
