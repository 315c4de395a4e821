// Package sinks contains progress.Sink implementations.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/sitegrab/sitegrab/internal/progress"
)

// LogSink writes one structured log line per progress update.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink builds a LogSink; a nil logger means no-op.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Record logs the update at debug level, terminal transitions at info.
func (s *LogSink) Record(_ context.Context, upd progress.Update) error {
	fields := []zap.Field{
		zap.String("job_id", upd.JobID),
		zap.String("kind", upd.Kind),
		zap.String("status", string(upd.Snap.Status)),
		zap.Int("percent", upd.Snap.Percent),
		zap.String("message", upd.Snap.Message),
		zap.Int("current", upd.Snap.Current),
		zap.Int("total", upd.Snap.Total),
	}
	if upd.Snap.Status.Terminal() {
		s.logger.Info("job finished", fields...)
	} else {
		s.logger.Debug("job progress", fields...)
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
