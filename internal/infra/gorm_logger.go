package infra

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

// sqlLogger 把 GORM 的日志桥接到全局 zap。
// 工单系统的 SQL 多且规律，默认只记慢查询与错误，避免日志被冲刷。
type sqlLogger struct {
	zap           *zap.Logger
	level         gormlogger.LogLevel
	slowThreshold time.Duration
}

func newSQLLogger(l *zap.Logger, slowThreshold time.Duration) *sqlLogger {
	if slowThreshold <= 0 {
		slowThreshold = 200 * time.Millisecond
	}
	return &sqlLogger{
		zap:           l,
		level:         gormlogger.Warn,
		slowThreshold: slowThreshold,
	}
}

func (l *sqlLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *sqlLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Info {
		l.zap.Sugar().Infof(msg, args...)
	}
}

func (l *sqlLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Warn {
		l.zap.Sugar().Warnf(msg, args...)
	}
}

func (l *sqlLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Error {
		l.zap.Sugar().Errorf(msg, args...)
	}
}

// Trace 记录单条 SQL 的耗时与行数。
// ErrRecordNotFound 是业务层的正常分支，不当错误记。
func (l *sqlLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.Int64("rows", rows),
		zap.String("sql", sql),
	}

	switch {
	case err != nil && !errors.Is(err, gormlogger.ErrRecordNotFound):
		l.zap.Error("SQL 执行失败", append(fields, zap.Error(err))...)
	case elapsed > l.slowThreshold:
		l.zap.Warn("SQL 慢查询", fields...)
	case l.level >= gormlogger.Info:
		l.zap.Debug("SQL 执行", fields...)
	}
}
