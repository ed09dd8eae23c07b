// Package log builds the zap loggers used across sockspy.
package log

import (
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

// LogFileName is the default location of the rotating application log.
const LogFileName = "sockspy-logs.txt"

var (
	mu            sync.Mutex
	level         = zap.NewAtomicLevelAt(zap.InfoLevel)
	baseCore      zapcore.Core
	consoleWriter zapcore.WriteSyncer = zapcore.Lock(os.Stderr)
)

// SetConsoleWriter redirects console output, used by tests.
func SetConsoleWriter(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	consoleWriter = zapcore.AddSync(w)
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = customTimeEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder
	cfg.EncodeCaller = zapcore.ShortCallerEncoder
	return cfg
}

func customTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format(time.RFC3339))
}

// New builds the application logger. Console output is coloured; when logFile
// is not empty a plain copy goes to a size rotated file.
func New(logFile string) (*zap.Logger, io.Closer, error) {
	mu.Lock()
	defer mu.Unlock()

	consoleCfg := encoderConfig()
	consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cores := []zapcore.Core{
		zapcore.NewCore(NewColor(consoleCfg), consoleWriter, level),
	}

	var closer io.Closer = nopCloser{}
	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create the log directory: %w", err)
		}
		rotating := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
		}
		fileCfg := encoderConfig()
		fileCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(fileCfg), zapcore.AddSync(rotating), level))
		closer = rotating
	}

	baseCore = zapcore.NewTee(cores...)
	return zap.New(baseCore), closer, nil
}

// ChangeLogLevel switches the shared level and rebuilds the logger with opts.
func ChangeLogLevel(l zapcore.Level, opts ...zap.Option) (*zap.Logger, error) {
	mu.Lock()
	defer mu.Unlock()
	if baseCore == nil {
		return nil, fmt.Errorf("logger has not been initialised")
	}
	level.SetLevel(l)
	return zap.New(baseCore, opts...), nil
}

// Detailed annotates entries with the caller and errors with a stack trace.
func Detailed() []zap.Option {
	return []zap.Option{zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel)}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
