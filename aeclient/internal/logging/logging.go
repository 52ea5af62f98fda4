// Package logging provides structured logging for the demo driver and its backends.
// It includes a GORM logger adapter used by the emulated store and a per-step operation logger.
package logging

import (
	"context"
	"fmt"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gorm.io/gorm/logger"
)

// LogLevel represents the logging level for database operations
type LogLevel int

const (
	// Silent disables all logging
	Silent LogLevel = iota + 1
	// Error only logs errors
	Error
	// Warn logs warnings and errors
	Warn
	// Info logs info, warnings and errors
	Info
)

// Logger interface defines the logging methods used across the client
type Logger interface {
	Trace(msg string, fields ...LogField)
	Debug(msg string, fields ...LogField)
	Info(msg string, fields ...LogField)
	Warn(msg string, fields ...LogField)
	Error(msg string, fields ...LogField)
	Fatal(msg string, fields ...LogField)
	With(fields ...LogField) Logger
}

// LogField represents a structured log field
type LogField struct {
	Key   string
	Value interface{}
}

// Field helper functions
func String(key string, value string) LogField {
	return LogField{Key: key, Value: value}
}

func Int(key string, value int) LogField {
	return LogField{Key: key, Value: value}
}

func Int64(key string, value int64) LogField {
	return LogField{Key: key, Value: value}
}

func Bool(key string, value bool) LogField {
	return LogField{Key: key, Value: value}
}

func Duration(key string, value time.Duration) LogField {
	return LogField{Key: key, Value: value}
}

func ErrorField(err error) LogField {
	return LogField{Key: "error", Value: err}
}

func Any(key string, value interface{}) LogField {
	return LogField{Key: key, Value: value}
}

// DBLogger adapts Logger to gorm's logger.Interface
type DBLogger struct {
	logger               Logger
	logLevel             LogLevel
	ignoreRecordNotFound bool
	slowThreshold        time.Duration
	sourceField          string
}

// LoggerConfig holds configuration for the database logger
type LoggerConfig struct {
	LogLevel             LogLevel
	IgnoreRecordNotFound bool
	SlowThreshold        time.Duration
	SourceField          string
}

// DefaultLoggerConfig returns a default logger configuration
func DefaultLoggerConfig() LoggerConfig {
	return LoggerConfig{
		LogLevel:             Warn,
		IgnoreRecordNotFound: true,
		SlowThreshold:        200 * time.Millisecond,
		SourceField:          "source",
	}
}

// NewDBLogger creates a new database logger
func NewDBLogger(logger Logger, config LoggerConfig) *DBLogger {
	return &DBLogger{
		logger:               logger,
		logLevel:             config.LogLevel,
		ignoreRecordNotFound: config.IgnoreRecordNotFound,
		slowThreshold:        config.SlowThreshold,
		sourceField:          config.SourceField,
	}
}

// LogMode implements logger.Interface
func (l *DBLogger) LogMode(level logger.LogLevel) logger.Interface {
	newLogger := *l
	switch level {
	case logger.Silent:
		newLogger.logLevel = Silent
	case logger.Error:
		newLogger.logLevel = Error
	case logger.Warn:
		newLogger.logLevel = Warn
	case logger.Info:
		newLogger.logLevel = Info
	}
	return &newLogger
}

// Info implements logger.Interface
func (l *DBLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.logLevel >= Info {
		l.logger.Info(msg, l.dataFields(ctx, data)...)
	}
}

// Warn implements logger.Interface
func (l *DBLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.logLevel >= Warn {
		l.logger.Warn(msg, l.dataFields(ctx, data)...)
	}
}

// Error implements logger.Interface
func (l *DBLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.logLevel >= Error {
		l.logger.Error(msg, l.dataFields(ctx, data)...)
	}
}

func (l *DBLogger) dataFields(ctx context.Context, data []interface{}) []LogField {
	fields := l.extractContextFields(ctx)
	if len(data) > 0 {
		fields = append(fields, Any("data", data))
	}
	return fields
}

// Trace implements logger.Interface for SQL tracing. Statements that complete
// under the slow threshold are logged at debug level.
func (l *DBLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.logLevel <= Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	fields := l.extractContextFields(ctx)
	fields = append(fields,
		Duration("elapsed", elapsed),
		String("sql", l.sanitizeSQL(sql)),
		Int64("rows_affected", rows),
	)

	if l.sourceField != "" {
		if file, line := l.getCallerInfo(4); file != "" {
			fields = append(fields, String(l.sourceField, fmt.Sprintf("%s:%d", file, line)))
		}
	}

	switch {
	case err != nil && l.logLevel >= Error && (!l.ignoreRecordNotFound || !isRecordNotFoundError(err)):
		fields = append(fields, ErrorField(err))
		l.logger.Error("Database query failed", fields...)
	case elapsed > l.slowThreshold && l.logLevel >= Warn:
		l.logger.Warn("Slow SQL query detected", fields...)
	case l.logLevel >= Info:
		l.logger.Debug("Database query executed", fields...)
	}
}

// extractContextFields extracts relevant fields from context
func (l *DBLogger) extractContextFields(ctx context.Context) []LogField {
	var fields []LogField

	if runID := RunIDFromContext(ctx); runID != "" {
		fields = append(fields, String("run_id", runID))
	}

	if scenario := ScenarioFromContext(ctx); scenario != "" {
		fields = append(fields, String("scenario", scenario))
	}

	return fields
}

var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(password\s*=\s*['"])[^'"]*(['"])`),
	regexp.MustCompile(`(?i)(secret\s*=\s*['"])[^'"]*(['"])`),
	regexp.MustCompile(`(?i)(key\s*=\s*['"])[^'"]*(['"])`),
}

// sanitizeSQL removes sensitive information from SQL queries for logging
func (l *DBLogger) sanitizeSQL(sql string) string {
	sanitized := sql
	for _, re := range sensitivePatterns {
		sanitized = re.ReplaceAllString(sanitized, "${1}***${2}")
	}

	const maxSQLLength = 1000
	if len(sanitized) > maxSQLLength {
		sanitized = sanitized[:maxSQLLength] + "... (truncated)"
	}

	return sanitized
}

// getCallerInfo returns the file and line number of the caller
func (l *DBLogger) getCallerInfo(skip int) (string, int) {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "", 0
	}

	parts := strings.Split(file, "/")
	if len(parts) > 0 {
		file = parts[len(parts)-1]
	}

	return file, line
}

type contextKey string

const (
	runIDKey    contextKey = "run_id"
	scenarioKey contextKey = "scenario"
)

// WithRunID returns a context carrying the demo run identifier
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// WithScenario returns a context carrying the current scenario name
func WithScenario(ctx context.Context, scenario string) context.Context {
	return context.WithValue(ctx, scenarioKey, scenario)
}

// RunIDFromContext extracts the run identifier, or "" when absent
func RunIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, runIDKey)
}

// ScenarioFromContext extracts the scenario name, or "" when absent
func ScenarioFromContext(ctx context.Context) string {
	return stringFromContext(ctx, scenarioKey)
}

func stringFromContext(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	if val, ok := ctx.Value(key).(string); ok {
		return val
	}
	return ""
}

// isRecordNotFoundError checks if the error is a "record not found" error
func isRecordNotFoundError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "record not found") ||
		strings.Contains(errStr, "no rows")
}

// OperationLogger provides structured logging for a single demo step
type OperationLogger struct {
	logger    Logger
	operation string
	scenario  string
	startTime time.Time
	fields    []LogField
}

// NewOperationLogger creates a new operation logger
func NewOperationLogger(logger Logger, operation, scenario string) *OperationLogger {
	return &OperationLogger{
		logger:    logger,
		operation: operation,
		scenario:  scenario,
		startTime: time.Now(),
		fields:    make([]LogField, 0),
	}
}

// WithField adds a field to the operation logger
func (ol *OperationLogger) WithField(key string, value interface{}) *OperationLogger {
	ol.fields = append(ol.fields, LogField{Key: key, Value: value})
	return ol
}

// WithFields adds multiple fields to the operation logger
func (ol *OperationLogger) WithFields(fields ...LogField) *OperationLogger {
	ol.fields = append(ol.fields, fields...)
	return ol
}

// Elapsed returns the time since the operation started
func (ol *OperationLogger) Elapsed() time.Duration {
	return time.Since(ol.startTime)
}

func (ol *OperationLogger) withStatus(status string) []LogField {
	fields := make([]LogField, 0, len(ol.fields)+4)
	fields = append(fields, ol.fields...)
	return append(fields,
		String("operation", ol.operation),
		String("scenario", ol.scenario),
		Duration("duration", ol.Elapsed()),
		String("status", status),
	)
}

// Success logs a successful operation
func (ol *OperationLogger) Success(message string) {
	ol.logger.Info(message, ol.withStatus("success")...)
}

// Failure logs an operation that failed the way it was expected to
func (ol *OperationLogger) Failure(message string, err error) {
	ol.logger.Info(message, append(ol.withStatus("failed"), ErrorField(err))...)
}

// Error logs a failed operation
func (ol *OperationLogger) Error(message string, err error) {
	ol.logger.Error(message, append(ol.withStatus("error"), ErrorField(err))...)
}

// Warn logs a warning for an operation
func (ol *OperationLogger) Warn(message string) {
	ol.logger.Warn(message, ol.withStatus("warning")...)
}
