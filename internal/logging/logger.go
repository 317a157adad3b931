package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ServiceName is stamped on every entry.
const ServiceName = "api-gateway"

var (
	globalLogger *zap.Logger
	globalMu     sync.RWMutex
)

func init() {
	// Default to a production logger until SetGlobal is called
	globalLogger, _ = zap.NewProduction()
}

// Config describes where log entries go.
type Config struct {
	Level string
	// OutFile receives debug, info and warn entries; stdout when empty.
	OutFile string
	// ErrFile receives error entries; stderr when empty.
	ErrFile string

	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
	LocalTime  bool

	// Bus, when set, receives a copy of every entry. It is best effort.
	Bus *Bus
}

// ParseLevel maps a config level string to a zap level. Unknown values
// fall back to info.
func ParseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error", "err":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// EncoderConfig returns the JSON layout shared by every sink:
// {"level","timestamp","message","service","params":{...}}.
func EncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		MessageKey:     "message",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    encodeLevel,
		EncodeTime:     encodeTime,
		EncodeDuration: zapcore.MillisDurationEncoder,
	}
}

// encodeLevel writes "err" for error and above.
func encodeLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if l >= zapcore.ErrorLevel {
		enc.AppendString("err")
		return
	}
	enc.AppendString(l.String())
}

func encodeTime(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.UTC().Format("2006-01-02T15:04:05.000Z07:00"))
}

// New builds a logger that splits entries between an out and an err
// destination. Each destination is owned by a single Writer goroutine.
// The returned closer flushes and releases every destination and the bus.
func New(cfg Config) (*zap.Logger, io.Closer, error) {
	minLevel := ParseLevel(cfg.Level)

	for _, path := range []string{cfg.OutFile, cfg.ErrFile} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("log directory for %s: %w", path, err)
		}
	}

	var tap func([]byte)
	if cfg.Bus != nil {
		tap = cfg.Bus.Offer
	}

	outDest, outFile := destination(cfg, cfg.OutFile, os.Stdout)
	errDest, errFile := destination(cfg, cfg.ErrFile, os.Stderr)
	outWriter := NewWriter(outDest, 0, tap)
	errWriter := NewWriter(errDest, 0, tap)

	enc := zapcore.NewJSONEncoder(EncoderConfig())
	outLevel := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l >= minLevel && l < zapcore.ErrorLevel
	})
	errLevel := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l >= minLevel && l >= zapcore.ErrorLevel
	})

	core := zapcore.NewTee(
		zapcore.NewCore(enc, outWriter, outLevel),
		zapcore.NewCore(enc.Clone(), errWriter, errLevel),
	)
	logger := zap.New(core).With(zap.String("service", ServiceName))

	closer := &closers{items: []io.Closer{outWriter, errWriter}}
	for _, f := range []*lumberjack.Logger{outFile, errFile} {
		if f != nil {
			closer.items = append(closer.items, f)
		}
	}
	if cfg.Bus != nil {
		closer.items = append(closer.items, cfg.Bus)
	}
	return logger, closer, nil
}

// destination returns a rotating file for path, or fallback when path is
// empty. The file is nil for the fallback, which is never closed.
func destination(cfg Config, path string, fallback io.Writer) (io.Writer, *lumberjack.Logger) {
	if path == "" {
		return fallback, nil
	}
	f := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
		LocalTime:  cfg.LocalTime,
	}
	return f, f
}

// closers closes writers before the files they own, then the bus.
type closers struct {
	items []io.Closer
	once  sync.Once
	err   error
}

func (c *closers) Close() error {
	c.once.Do(func() {
		var errs []error
		for _, item := range c.items {
			if err := item.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		c.err = errors.Join(errs...)
	})
	return c.err
}

// Global returns the global logger.
func Global() *zap.Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// SetGlobal sets the global logger.
func SetGlobal(l *zap.Logger) {
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
}
