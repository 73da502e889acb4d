package logger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type SQLLoggerConfig struct {
	Level         gormlogger.LogLevel
	SlowThreshold time.Duration
}

func DefaultSQLLoggerConfig() SQLLoggerConfig {
	return SQLLoggerConfig{
		Level:         gormlogger.Warn,
		SlowThreshold: 200 * time.Millisecond,
	}
}

// SQLLogger routes gorm output through the request-scoped zap logger.
// Bound parameters are never logged; they carry user ids and provider payloads.
type SQLLogger struct {
	cfg SQLLoggerConfig
}

func NewSQLLogger(cfg SQLLoggerConfig) *SQLLogger {
	return &SQLLogger{cfg: cfg}
}

func (l *SQLLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *l
	next.cfg.Level = level
	return &next
}

func (l *SQLLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.cfg.Level >= gormlogger.Info {
		FromContext(ctx).Info(fmt.Sprintf(msg, data...), zap.String("component", "gorm"))
	}
}

func (l *SQLLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.cfg.Level >= gormlogger.Warn {
		FromContext(ctx).Warn(fmt.Sprintf(msg, data...), zap.String("component", "gorm"))
	}
}

func (l *SQLLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.cfg.Level >= gormlogger.Error {
		FromContext(ctx).Error(fmt.Sprintf(msg, data...), zap.String("component", "gorm"))
	}
}

// Trace logs failed and slow statements. Missing rows are how repositories
// report "no subscription", and duplicate inserts are how the processed-event
// log detects redelivery, so neither is logged as an error.
func (l *SQLLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.cfg.Level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	slow := l.cfg.SlowThreshold > 0 && elapsed > l.cfg.SlowThreshold

	switch {
	case err != nil && errors.Is(err, gormlogger.ErrRecordNotFound):
		if l.cfg.Level >= gormlogger.Info {
			FromContext(ctx).Debug("sql.query", l.fields(fc, elapsed, nil)...)
		}
	case err != nil && errors.Is(err, gorm.ErrDuplicatedKey):
		FromContext(ctx).Debug("sql.query", l.fields(fc, elapsed, err)...)
	case err != nil && l.cfg.Level >= gormlogger.Error:
		FromContext(ctx).Error("sql.query", l.fields(fc, elapsed, err)...)
	case slow && l.cfg.Level >= gormlogger.Warn:
		FromContext(ctx).Warn("sql.slow_query", l.fields(fc, elapsed, nil)...)
	case l.cfg.Level >= gormlogger.Info:
		FromContext(ctx).Debug("sql.query", l.fields(fc, elapsed, nil)...)
	}
}

func (l *SQLLogger) ParamsFilter(_ context.Context, sql string, _ ...interface{}) (string, []interface{}) {
	return sql, nil
}

func (l *SQLLogger) fields(fc func() (string, int64), elapsed time.Duration, err error) []zap.Field {
	sql, rows := fc()
	stmt := describeStatement(sql)
	fields := []zap.Field{
		zap.String("component", "gorm"),
		zap.String("operation", stmt.operation),
		zap.String("table", stmt.table),
		zap.Bool("row_lock", stmt.locking),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
		zap.String("sql", strings.TrimSpace(sql)),
	}
	if rows >= 0 {
		fields = append(fields, zap.Int64("rows_affected", rows))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	return fields
}

type statement struct {
	operation string
	table     string
	locking   bool
}

// describeStatement pulls the verb and the first table out of a statement
// without a full parse.
func describeStatement(sql string) statement {
	tokens := strings.Fields(strings.ToUpper(sql))
	stmt := statement{operation: "UNKNOWN", table: "unknown"}
	for i, token := range tokens {
		token = strings.Trim(token, "();")
		switch token {
		case "SELECT", "INSERT", "UPDATE", "DELETE":
			if stmt.operation == "UNKNOWN" {
				stmt.operation = token
			}
			if token == "UPDATE" && i > 0 && tokens[i-1] == "FOR" {
				stmt.locking = true
			} else if token == "UPDATE" && stmt.table == "unknown" && i+1 < len(tokens) {
				stmt.table = tableName(tokens[i+1])
			}
		case "FROM", "INTO":
			if stmt.table == "unknown" && i+1 < len(tokens) {
				stmt.table = tableName(tokens[i+1])
			}
		}
	}
	return stmt
}

func tableName(token string) string {
	return strings.ToLower(strings.Trim(token, "\"`();"))
}

var _ gormlogger.Interface = (*SQLLogger)(nil)
