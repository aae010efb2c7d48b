// Package logging provides structured logging for the FieldCheck sync core.
package logging

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu     sync.RWMutex
	global *zap.Logger
)

// Options controls logger initialization.
type Options struct {
	Level string // debug, info, warn, error
	File  string // optional rotating log file; empty logs to stderr only
}

// Init initializes the global logger. Safe to call more than once; the
// last call wins. The host app calls this before opening the store.
func Init(opts Options) error {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		if err := level.Set(opts.Level); err != nil {
			return err
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	enc := zapcore.NewJSONEncoder(encCfg)

	sinks := []zapcore.WriteSyncer{zapcore.AddSync(os.Stderr)}
	if opts.File != "" {
		sinks = append(sinks, zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}))
	}

	core := zapcore.NewCore(enc, zapcore.NewMultiWriteSyncer(sinks...), level)

	mu.Lock()
	global = zap.New(core)
	mu.Unlock()
	return nil
}

// L returns the global logger, initializing a default one if needed.
func L() *zap.Logger {
	mu.RLock()
	l := global
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		_ = initLocked()
	}
	return global
}

func initLocked() error {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.AddSync(os.Stderr),
		zapcore.InfoLevel,
	)
	global = zap.New(core)
	return nil
}

// SetLogger replaces the global logger. Tests use this to capture output.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	global = l
	mu.Unlock()
}

// Sync flushes buffered log entries.
func Sync() {
	mu.RLock()
	l := global
	mu.RUnlock()
	if l != nil {
		_ = l.Sync()
	}
}
