// Package logging builds the structured loggers used across the runtime.
package logging

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/najoast/taskrt/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Names of the per-subsystem loggers.
const (
	KernelLogger = "kernel"
	TaskLogger   = "task"
	CommLogger   = "comm"
	MemLogger    = "mem"
	StdlibLogger = "stdlib"
)

var (
	logger     *zap.Logger
	loggerOnce sync.Once
	loggerMu   sync.Mutex
)

// Logger returns the process logger.
// It uses a no-op logger until SetLogger is called.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		loggerMu.Lock()
		if logger == nil {
			logger = zap.NewNop()
		}
		loggerMu.Unlock()
	})
	loggerMu.Lock()
	defer loggerMu.Unlock()
	return logger
}

// SetLogger replaces the process logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	loggerOnce.Do(func() {})
	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()
}

// Level converts a configured level into a zap level.
func Level(l config.LogLevel) (zapcore.Level, error) {
	switch l {
	case config.LogLevelDebug:
		return zapcore.DebugLevel, nil
	case config.LogLevelInfo, "":
		return zapcore.InfoLevel, nil
	case config.LogLevelWarn:
		return zapcore.WarnLevel, nil
	case config.LogLevelError:
		return zapcore.ErrorLevel, nil
	case config.LogLevelFatal:
		return zapcore.FatalLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("%w: %q", config.ErrInvalidLogLevel, l)
	}
}

// New builds a logger from cfg. The returned level can be changed at
// runtime to retune every logger derived from it.
func New(cfg config.LogConfig) (*zap.Logger, zap.AtomicLevel, error) {
	lvl, err := Level(cfg.Level)
	if err != nil {
		return nil, zap.AtomicLevel{}, err
	}
	level := zap.NewAtomicLevelAt(lvl)

	sink, err := openSink(cfg.Output)
	if err != nil {
		return nil, zap.AtomicLevel{}, err
	}

	core := zapcore.NewCore(newEncoder(cfg), sink, level)
	l := zap.New(core, zap.AddCaller(), zap.ErrorOutput(zapcore.Lock(os.Stderr)))
	if fields := staticFields(cfg.Fields); len(fields) > 0 {
		l = l.With(fields...)
	}
	return l, level, nil
}

// NewForConfig builds a logger from the log section of a full config.
func NewForConfig(cfg *config.Config) (*zap.Logger, zap.AtomicLevel, error) {
	l, level, err := New(cfg.Log)
	if err != nil {
		return nil, level, err
	}
	return l.With(zap.String("app", cfg.App.Name)), level, nil
}

// UpdateLevel applies the level of a reloaded config.
func UpdateLevel(level zap.AtomicLevel, l config.LogLevel) error {
	lvl, err := Level(l)
	if err != nil {
		return err
	}
	level.SetLevel(lvl)
	return nil
}

func newEncoder(cfg config.LogConfig) zapcore.Encoder {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Format == "json" {
		return zapcore.NewJSONEncoder(encCfg)
	}
	if cfg.Color {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	return zapcore.NewConsoleEncoder(encCfg)
}

func openSink(output string) (zapcore.WriteSyncer, error) {
	switch output {
	case "", "stdout":
		return zapcore.Lock(os.Stdout), nil
	case "stderr":
		return zapcore.Lock(os.Stderr), nil
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log output %s: %w", output, err)
		}
		return zapcore.Lock(f), nil
	}
}

// staticFields returns fields in key order so output is stable.
func staticFields(m map[string]interface{}) []zap.Field {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, zap.Any(k, m[k]))
	}
	return fields
}
