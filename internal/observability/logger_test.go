package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		want    zapcore.Level
		wantErr bool
	}{
		{"console info", "info", "console", zapcore.InfoLevel, false},
		{"default format", "debug", "", zapcore.DebugLevel, false},
		{"json warn", "warn", "json", zapcore.WarnLevel, false},
		{"upper case format", "error", "JSON", zapcore.ErrorLevel, false},
		{"bad level", "loud", "console", 0, true},
		{"bad format", "info", "xml", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.level, tt.format)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.want))
			if tt.want > zapcore.DebugLevel {
				assert.False(t, logger.Core().Enabled(tt.want-1))
			}
		})
	}
}

func TestInitCLILogger(t *testing.T) {
	orig := CLILogger
	defer func() { CLILogger = orig }()

	CLILogger = zap.NewNop()
	require.Error(t, InitCLILogger("loud", "console"))
	assert.Equal(t, zap.NewNop().Core().Enabled(zapcore.ErrorLevel), CLILogger.Core().Enabled(zapcore.ErrorLevel), "unchanged on error")

	require.NoError(t, InitCLILogger("warn", "json"))
	assert.True(t, CLILogger.Core().Enabled(zapcore.WarnLevel))
	assert.False(t, CLILogger.Core().Enabled(zapcore.InfoLevel))
}
