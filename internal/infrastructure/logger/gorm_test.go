package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func newObservedGormLogger(t *testing.T, level gormlogger.LogLevel, opts ...GormLoggerOption) (*GormLogger, *observer.ObservedLogs) {
	t.Helper()
	core, recorded := observer.New(zapcore.DebugLevel)
	return NewGormLogger(zap.New(core), level, opts...), recorded
}

func TestNewGormLogger_Options(t *testing.T) {
	gl, _ := newObservedGormLogger(t, gormlogger.Info,
		WithSlowThreshold(500*time.Millisecond),
		WithSkipNotFound(false),
	)

	assert.Equal(t, 500*time.Millisecond, gl.slowThreshold)
	assert.False(t, gl.skipNotFound)
}

func TestGormLogger_LogMode(t *testing.T) {
	gl, _ := newObservedGormLogger(t, gormlogger.Info)

	clone := gl.LogMode(gormlogger.Warn)

	assert.Equal(t, gormlogger.Info, gl.logLevel)
	cloned, ok := clone.(*GormLogger)
	require.True(t, ok)
	assert.Equal(t, gormlogger.Warn, cloned.logLevel)
}

func TestGormLogger_Levels(t *testing.T) {
	t.Run("info passes at info level", func(t *testing.T) {
		gl, recorded := newObservedGormLogger(t, gormlogger.Info)
		gl.Info(context.Background(), "migrating %s", "sale_records")

		logs := recorded.All()
		require.Len(t, logs, 1)
		assert.Contains(t, logs[0].Message, "migrating sale_records")
	})

	t.Run("silent suppresses everything", func(t *testing.T) {
		gl, recorded := newObservedGormLogger(t, gormlogger.Silent)
		gl.Info(context.Background(), "hidden")
		gl.Warn(context.Background(), "hidden")
		gl.Error(context.Background(), "hidden")

		assert.Empty(t, recorded.All())
	})
}

func TestGormLogger_Trace(t *testing.T) {
	query := func(sql string, rows int64) func() (string, int64) {
		return func() (string, int64) { return sql, rows }
	}

	t.Run("failed query logged with error", func(t *testing.T) {
		gl, recorded := newObservedGormLogger(t, gormlogger.Error)
		gl.Trace(context.Background(), time.Now(), query("INSERT INTO sale_records", 0), errors.New("duplicate key"))

		logs := recorded.All()
		require.Len(t, logs, 1)
		assert.Equal(t, "query failed", logs[0].Message)
		assert.Equal(t, zapcore.ErrorLevel, logs[0].Level)
	})

	t.Run("record-not-found skipped by default", func(t *testing.T) {
		gl, recorded := newObservedGormLogger(t, gormlogger.Error)
		gl.Trace(context.Background(), time.Now(), query("SELECT * FROM integration_settings", 0), gormlogger.ErrRecordNotFound)

		assert.Empty(t, recorded.All())
	})

	t.Run("slow query logged at warn", func(t *testing.T) {
		gl, recorded := newObservedGormLogger(t, gormlogger.Warn, WithSlowThreshold(time.Nanosecond))
		gl.Trace(context.Background(), time.Now().Add(-time.Second), query("SELECT * FROM sale_records", 10), nil)

		logs := recorded.All()
		require.Len(t, logs, 1)
		assert.Contains(t, logs[0].Message, "slow query")
		assert.Equal(t, zapcore.WarnLevel, logs[0].Level)
	})

	t.Run("ordinary query logged at debug", func(t *testing.T) {
		gl, recorded := newObservedGormLogger(t, gormlogger.Info)
		gl.Trace(context.Background(), time.Now(), query("SELECT * FROM sync_runs", 3), nil)

		logs := recorded.All()
		require.Len(t, logs, 1)
		assert.Equal(t, "query", logs[0].Message)
	})

	t.Run("silent traces nothing", func(t *testing.T) {
		gl, recorded := newObservedGormLogger(t, gormlogger.Silent)
		gl.Trace(context.Background(), time.Now(), query("SELECT 1", 1), nil)

		assert.Empty(t, recorded.All())
	})

	t.Run("request id from context is attached", func(t *testing.T) {
		gl, recorded := newObservedGormLogger(t, gormlogger.Info)
		ctx := ContextWithRequestID(context.Background(), "req-7")

		gl.Trace(ctx, time.Now(), query("SELECT * FROM sync_runs", 1), nil)

		logs := recorded.All()
		require.Len(t, logs, 1)
		fields := logs[0].ContextMap()
		assert.Equal(t, "req-7", fields["request_id"])
	})
}

func TestMapGormLogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected gormlogger.LogLevel
	}{
		{"silent", gormlogger.Silent},
		{"error", gormlogger.Error},
		{"warn", gormlogger.Warn},
		{"info", gormlogger.Info},
		{"debug", gormlogger.Info},
		{"unknown", gormlogger.Warn},
		{"", gormlogger.Warn},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expected, MapGormLogLevel(tt.level))
		})
	}
}
