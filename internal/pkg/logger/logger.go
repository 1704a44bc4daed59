package logger

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var zapLevels = map[Level]zapcore.Level{
	DEBUG: zapcore.DebugLevel,
	INFO:  zapcore.InfoLevel,
	WARN:  zapcore.WarnLevel,
	ERROR: zapcore.ErrorLevel,
}

// ParseLevel maps "debug", "info", "warn" and "error" to a Level. Unknown
// values default to INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	}
	return INFO
}

// Logger provides structured logging with optional PII redaction.
type Logger struct {
	mu        sync.RWMutex
	level     zap.AtomicLevel
	base      *zap.Logger
	redactPII bool
}

var defaultLogger = newLogger(false)

func newLogger(development bool) *Logger {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	cfg := zap.Config{
		Level:            level,
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	if development {
		cfg.Development = true
		cfg.Encoding = "console"
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	base, err := cfg.Build(zap.AddCallerSkip(2))
	if err != nil {
		base = zap.NewNop()
	}
	return &Logger{level: level, base: base, redactPII: true}
}

// Configure replaces the default logger. development switches to the
// human-readable console encoder.
func Configure(level Level, development, redactPII bool) {
	l := newLogger(development)
	l.level.SetLevel(zapLevels[level])
	l.redactPII = redactPII
	defaultLogger = l
}

// SetLevel sets the minimum log level for the default logger.
func SetLevel(l Level) { defaultLogger.level.SetLevel(zapLevels[l]) }

// SetRedactPII enables or disables PII redaction for the default logger.
func SetRedactPII(r bool) {
	defaultLogger.mu.Lock()
	defaultLogger.redactPII = r
	defaultLogger.mu.Unlock()
}

// Sync flushes buffered entries.
func Sync() { _ = defaultLogger.base.Sync() }

// Zap exposes the underlying logger for libraries that take a *zap.Logger.
func Zap() *zap.Logger { return defaultLogger.base }

// Debug emits a DEBUG-level structured log entry.
func Debug(msg string, fields ...interface{}) { defaultLogger.log(DEBUG, msg, fields...) }

// Info emits an INFO-level structured log entry.
func Info(msg string, fields ...interface{}) { defaultLogger.log(INFO, msg, fields...) }

// Warn emits a WARN-level structured log entry.
func Warn(msg string, fields ...interface{}) { defaultLogger.log(WARN, msg, fields...) }

// Error emits an ERROR-level structured log entry.
func Error(msg string, fields ...interface{}) { defaultLogger.log(ERROR, msg, fields...) }

func (l *Logger) log(level Level, msg string, fields ...interface{}) {
	zl := zapLevels[level]
	if !l.level.Enabled(zl) {
		return
	}

	l.mu.RLock()
	redact := l.redactPII
	l.mu.RUnlock()

	// Parse key-value pairs from fields
	zf := make([]zap.Field, 0, len(fields)/2)
	for i := 0; i < len(fields)-1; i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		switch v := fields[i+1].(type) {
		case error:
			val := v.Error()
			if redact {
				val = redactPIIValue(key, val)
			}
			zf = append(zf, zap.String(key, val))
		case string:
			if redact {
				v = redactPIIValue(key, v)
			}
			zf = append(zf, zap.String(key, v))
		case int, int64, float64, bool:
			zf = append(zf, zap.Any(key, v))
		default:
			val := fmt.Sprintf("%v", v)
			if redact {
				val = redactPIIValue(key, val)
			}
			zf = append(zf, zap.String(key, val))
		}
	}

	if ce := l.base.Check(zl, msg); ce != nil {
		ce.Write(zf...)
	}
}

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

func redactPIIValue(key, val string) string {
	key = strings.ToLower(key)
	// Redact email fields
	if strings.Contains(key, "email") {
		return RedactEmail(val)
	}
	// Redact any embedded emails in generic fields
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}
