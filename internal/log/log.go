// Package log provides structured logging for the task dispatch core.
// It wraps go.uber.org/zap with category-tagged levels and publishes
// every entry on an in-process broker so admin tooling can tail logs
// live, mirroring the category/level taxonomy of the original
// bubbletea-backed logger this package was adapted from.
package log

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/zjrosen/taskcore/internal/pubsub"
)

// Level represents log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelInfo:
		return zapcore.InfoLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Category groups related log messages by subsystem.
type Category string

const (
	CatStore    Category = "store"    // Task Store transactional operations
	CatBus      Category = "bus"      // Event bus publish/subscribe
	CatIntake   Category = "intake"   // Intake API
	CatAssign   Category = "assign"   // Assigner tick
	CatDeadline Category = "deadline" // Deadline monitor sweep
	CatWarning  Category = "warning"  // Pre-warning emitter
	CatGateway  Category = "gateway"  // Reviewer gateway sessions
	CatConfig   Category = "config"   // Configuration loading/reload
	CatCache    Category = "cache"    // presence cache / dedup locks
	CatNotify   Category = "notify"   // outbound notifications (Slack, auto-apply forward)
	CatMetrics  Category = "metrics"  // metrics/tracing plumbing
)

// Entry is a single structured log record, published to subscribers
// for live tailing.
type Entry struct {
	Level   Level
	Cat     Category
	Message string
	Fields  map[string]any
}

// Logger wraps a zap core with category tagging and a fan-out broker.
type Logger struct {
	mu       sync.Mutex
	zl       *zap.Logger
	minLevel Level
	broker   *pubsub.Broker[Entry]
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Config controls how the global logger is constructed.
type Config struct {
	// JSON selects JSON encoding (production); otherwise a
	// human-readable console encoder is used (development).
	JSON bool
	// MinLevel is the minimum level that reaches the sink.
	MinLevel Level
}

// Init initializes the global logger. Returns a flush/cleanup func.
func Init(cfg Config) (func(), error) {
	var initErr error
	once.Do(func() {
		defaultLogger, initErr = newLogger(cfg)
	})
	if initErr != nil {
		return nil, initErr
	}
	return func() {
		if defaultLogger != nil {
			_ = defaultLogger.zl.Sync()
		}
	}, nil
}

func newLogger(cfg Config) (*Logger, error) {
	zcfg := zap.NewProductionConfig()
	if !cfg.JSON {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(cfg.MinLevel.zapLevel())
	zl, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{
		zl:       zl,
		minLevel: cfg.MinLevel,
		broker:   pubsub.NewBroker[Entry](),
	}, nil
}

// SetMinLevel adjusts the minimum level at runtime.
func SetMinLevel(level Level) {
	if defaultLogger == nil {
		return
	}
	defaultLogger.mu.Lock()
	defaultLogger.minLevel = level
	defaultLogger.mu.Unlock()
}

// Debug logs at debug level.
func Debug(cat Category, msg string, fields ...any) { entry(LevelDebug, cat, msg, fields...) }

// Info logs at info level.
func Info(cat Category, msg string, fields ...any) { entry(LevelInfo, cat, msg, fields...) }

// Warn logs at warning level.
func Warn(cat Category, msg string, fields ...any) { entry(LevelWarn, cat, msg, fields...) }

// Error logs at error level.
func Error(cat Category, msg string, fields ...any) { entry(LevelError, cat, msg, fields...) }

// ErrorErr logs an error at error level with the error value attached.
func ErrorErr(cat Category, msg string, err error, fields ...any) {
	if err != nil {
		fields = append(fields, "error", err.Error())
	} else {
		fields = append(fields, "error", "<nil>")
	}
	entry(LevelError, cat, msg, fields...)
}

func entry(level Level, cat Category, msg string, fields ...any) {
	if defaultLogger == nil {
		return
	}
	defaultLogger.mu.Lock()
	min := defaultLogger.minLevel
	defaultLogger.mu.Unlock()
	if level < min {
		return
	}

	zfields := make([]zap.Field, 0, len(fields)/2+1)
	zfields = append(zfields, zap.String("category", string(cat)))
	fieldMap := make(map[string]any, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		key, _ := fields[i].(string)
		if key == "" {
			key = zap.Any("field", fields[i]).Key
		}
		zfields = append(zfields, zap.Any(key, fields[i+1]))
		fieldMap[key] = fields[i+1]
	}
	if len(fields)%2 != 0 {
		zfields = append(zfields, zap.Any("unpaired", fields[len(fields)-1]))
	}

	switch level {
	case LevelDebug:
		defaultLogger.zl.Debug(msg, zfields...)
	case LevelWarn:
		defaultLogger.zl.Warn(msg, zfields...)
	case LevelError:
		defaultLogger.zl.Error(msg, zfields...)
	default:
		defaultLogger.zl.Info(msg, zfields...)
	}

	defaultLogger.broker.Publish(pubsub.CreatedEvent, Entry{Level: level, Cat: cat, Message: msg, Fields: fieldMap})
}

// Tail subscribes to live log entries for admin tooling. The
// subscription is cleaned up when ctx is cancelled.
func Tail(ctx context.Context) <-chan pubsub.Event[Entry] {
	if defaultLogger == nil {
		ch := make(chan pubsub.Event[Entry])
		close(ch)
		return ch
	}
	return defaultLogger.broker.Subscribe(ctx)
}
