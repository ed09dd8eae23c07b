// Package recordlog writes and reads the JSON line traffic recordings.
package recordlog

import (
	"fmt"
	"os"
	"time"

	"go.sockspy.io/sockspy/pkg/models"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field names of a recorded line.
const (
	KeyTimestamp = "timestamp"
	KeyFields    = "fields"
	KeyType      = "type_"
	KeyID        = "id"
	KeyRun       = "run"
	KeyMessage   = "message"
)

// Recorder persists traffic records. Implementations must be safe for
// concurrent use and must never interleave two records.
type Recorder interface {
	Write(rec models.TrafficRecord) error
}

// Writer appends records to a file through a dedicated zap JSON core. The core
// encodes each entry in full before a single locked write, so concurrent
// forwarding tasks produce whole lines only.
type Writer struct {
	logger *zap.Logger
	runID  string
	file   *os.File
	core   zapcore.Core
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:    KeyTimestamp,
		LineEnding: zapcore.DefaultLineEnding,
		EncodeTime: func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(t.UTC().Format(timeLayout))
		},
		EncodeDuration: zapcore.StringDurationEncoder,
	}
}

const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// NewWriter opens path for appending, creating it when needed. runID is
// stamped on records that do not carry one.
func NewWriter(logger *zap.Logger, path, runID string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open the record log %s: %w", path, err)
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.Lock(f), zapcore.DebugLevel)
	logger.Debug("opened the record log", zap.String("path", path), zap.String("run", runID))
	return &Writer{logger: logger, runID: runID, file: f, core: core}, nil
}

// Write emits one line for rec.
func (w *Writer) Write(rec models.TrafficRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	runID := rec.RunID
	if runID == "" {
		runID = w.runID
	}
	fields := []zapcore.Field{
		zap.Namespace(KeyFields),
		zap.String(KeyType, string(rec.Direction)),
		zap.Uint64(KeyID, uint64(rec.ConnID)),
		zap.String(KeyRun, runID),
		zap.Binary(KeyMessage, rec.Payload),
	}
	if err := w.core.Write(zapcore.Entry{Level: zapcore.InfoLevel, Time: rec.Timestamp}, fields); err != nil {
		return fmt.Errorf("failed to write the traffic record: %w", err)
	}
	return nil
}

func (w *Writer) Sync() error {
	return w.core.Sync()
}

func (w *Writer) Close() error {
	if err := w.core.Sync(); err != nil {
		w.logger.Debug("failed to sync the record log", zap.Error(err))
	}
	return w.file.Close()
}
