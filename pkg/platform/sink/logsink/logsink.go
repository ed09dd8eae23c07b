// Package logsink writes UPDATE events to the application log.
package logsink

import (
	"context"

	"go.sockspy.io/sockspy/pkg/models"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Sink struct {
	logger *zap.Logger
	level  zapcore.Level
}

func New(logger *zap.Logger, level zapcore.Level) *Sink {
	return &Sink{logger: logger, level: level}
}

func (s *Sink) Open(context.Context) error { return nil }

func (s *Sink) Write(_ context.Context, ev models.UpdateEvent) error {
	if ce := s.logger.Check(s.level, "update"); ce != nil {
		ce.Write(
			zap.String("path", ev.Path),
			zap.Time("time", ev.Timestamp()),
			zap.Array("metrics", metrics(ev.Metrics)),
		)
	}
	return nil
}

func (s *Sink) Close(context.Context) error {
	return s.logger.Sync()
}

type metrics []*float64

func (m metrics) MarshalLogArray(enc zapcore.ArrayEncoder) error {
	for _, v := range m {
		if v == nil {
			enc.AppendString(models.UndefinedValue)
			continue
		}
		enc.AppendFloat64(*v)
	}
	return nil
}
