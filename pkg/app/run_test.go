package app

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestLogger(t *testing.T) {
	tests := []struct {
		level string
		want  zapcore.Level
	}{
		{level: "INFO", want: zapcore.InfoLevel},
		{level: "debug", want: zapcore.DebugLevel},
		{level: "WARN", want: zapcore.WarnLevel},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			lg := Logger(tt.level)
			require.True(t, lg.Core().Enabled(tt.want))
			require.False(t, lg.Core().Enabled(tt.want-1))
		})
	}
	require.Panics(t, func() { Logger("loud") })
}
