package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Additional-Code/storefront/internal/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel(" warn "))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("chatty"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel(""))
}

func TestBuildHonoursLevel(t *testing.T) {
	for _, encoding := range []string{"json", "console"} {
		logger, err := Build(config.Observability{
			ServiceName: "storefront",
			Environment: "test",
			LogLevel:    "warn",
			LogEncoding: encoding,
		})
		require.NoError(t, err, encoding)
		assert.False(t, logger.Core().Enabled(zapcore.InfoLevel), encoding)
		assert.True(t, logger.Core().Enabled(zapcore.WarnLevel), encoding)
	}
}

func TestFxLoggerDemotesEvents(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewFxLogger(zap.New(core))

	l.LogEvent(&fxevent.Started{})
	l.LogEvent(&fxevent.Started{Err: assert.AnError})

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "fx", entries[0].LoggerName)
}
