// File: internal/observability/logger.go
package observability

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/xkilldash9x/tms-executor/internal/config"
)

var (
	globalLogger atomic.Pointer[zap.Logger]
	once         sync.Once
)

const (
	colorGreen = "\x1b[32m"
	colorReset = "\x1b[0m"

	timeLayout = "2006-01-02T15:04:05.000Z07:00"
)

var ansi = map[string]string{
	"red":     "\x1b[31m",
	"green":   colorGreen,
	"yellow":  "\x1b[33m",
	"blue":    "\x1b[34m",
	"magenta": "\x1b[35m",
	"cyan":    "\x1b[36m",
	"white":   "\x1b[37m",
}

// NewLogger builds a logger from cfg that writes to consoleWriter and, when
// cfg.LogFile is set, to a rotating JSON file. It does not touch the globals.
func NewLogger(cfg config.LoggerConfig, consoleWriter zapcore.WriteSyncer) *zap.Logger {
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if cfg.Level != "" {
		_ = level.UnmarshalText([]byte(cfg.Level))
	}

	core := zapcore.NewCore(consoleEncoder(cfg), consoleWriter, level)
	if cfg.LogFile != "" {
		core = zapcore.NewTee(core, rotatingFileCore(cfg, level))
	}

	opts := []zap.Option{zap.AddStacktrace(zap.ErrorLevel)}
	if cfg.AddSource {
		opts = append(opts, zap.AddCaller())
	}
	logger := zap.New(core, opts...)
	if cfg.ServiceName != "" {
		logger = logger.Named(cfg.ServiceName)
	}
	return logger
}

// rotatingFileCore writes JSON regardless of the console format.
func rotatingFileCore(cfg config.LoggerConfig, level zapcore.LevelEnabler) zapcore.Core {
	sink := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
	return zapcore.NewCore(jsonEncoder(), zapcore.AddSync(sink), level)
}

// Initialize sets up the global logger exactly once.
func Initialize(cfg config.LoggerConfig, consoleWriter zapcore.WriteSyncer) {
	once.Do(func() {
		logger := NewLogger(cfg, consoleWriter)
		globalLogger.Store(logger)
		zap.ReplaceGlobals(logger)
		zap.RedirectStdLog(logger)
	})
}

// InitializeLogger is the production entry point; console output goes to a
// locked stderr so stdout stays clean for the run report.
func InitializeLogger(cfg config.LoggerConfig) {
	Initialize(cfg, zapcore.Lock(os.Stderr))
}

// ResetForTest clears the global logger. Tests only.
func ResetForTest() {
	globalLogger.Store(nil)
	once = sync.Once{}
}

func encoderConfig() zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.TimeEncoderOfLayout(timeLayout)
	return ec
}

func jsonEncoder() zapcore.Encoder {
	ec := encoderConfig()
	ec.EncodeLevel = zapcore.LowercaseLevelEncoder
	return zapcore.NewJSONEncoder(ec)
}

// consoleEncoder honours cfg.Format; anything but "console" is JSON.
func consoleEncoder(cfg config.LoggerConfig) zapcore.Encoder {
	if cfg.Format != "console" {
		return jsonEncoder()
	}
	ec := encoderConfig()
	ec.EncodeLevel = levelEncoder(cfg.Colors)
	// "tms-executor.login." reads apart from the message that follows.
	ec.EncodeName = func(name string, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(name + ".")
	}
	return zapcore.NewConsoleEncoder(ec)
}

// levelEncoder upper-cases the level and wraps it in the configured colour.
// Unknown colour names print plain.
func levelEncoder(colors config.ColorConfig) zapcore.LevelEncoder {
	byLevel := map[zapcore.Level]string{
		zapcore.DebugLevel:  ansi[colors.Debug],
		zapcore.InfoLevel:   ansi[colors.Info],
		zapcore.WarnLevel:   ansi[colors.Warn],
		zapcore.ErrorLevel:  ansi[colors.Error],
		zapcore.DPanicLevel: ansi[colors.DPanic],
		zapcore.PanicLevel:  ansi[colors.Panic],
		zapcore.FatalLevel:  ansi[colors.Fatal],
	}
	return func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		label := strings.ToUpper(level.String())
		if c := byLevel[level]; c != "" {
			label = c + label + colorReset
		}
		enc.AppendString(label)
	}
}

// GetLogger returns the global logger, or a development fallback if
// InitializeLogger has not run yet.
func GetLogger() *zap.Logger {
	if logger := globalLogger.Load(); logger != nil {
		return logger
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	l.Warn("Global logger requested before initialization; using fallback.")
	return l.Named("fallback")
}

// Sync flushes buffered entries. Call before exit.
func Sync() {
	logger := globalLogger.Load()
	if logger == nil {
		return
	}
	if err := logger.Sync(); err != nil && !unsyncableTerminal(err) {
		fmt.Fprintln(os.Stderr, "Error: failed to sync logger:", err)
	}
}

// unsyncableTerminal matches the errors fsync returns for ttys and pipes.
func unsyncableTerminal(err error) bool {
	return errors.Is(err, syscall.EINVAL) ||
		errors.Is(err, syscall.ENOTTY) ||
		errors.Is(err, syscall.ENOTSUP) ||
		strings.Contains(err.Error(), "sync /dev/std")
}
