package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/chapterharvest/internal/progress"
)

// LogSink writes progress events to a zap logger. Worker log lines keep their
// severity; everything else is logged at debug.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.Worker != "" {
			fields = append(fields, zap.String("worker", evt.Worker))
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL))
		}
		switch evt.Stage {
		case progress.StageLog:
			s.logger.Info(evt.Note, fields...)
		case progress.StageLogError:
			s.logger.Warn(evt.Note, fields...)
		case progress.StageRunDone:
			fields = append(fields,
				zap.String("result", string(evt.Outcome)),
				zap.Int("saved", evt.Value),
				zap.Duration("dur", evt.Dur),
			)
			s.logger.Info("run finished", fields...)
		default:
			fields = append(fields,
				zap.String("outcome", string(evt.Outcome)),
				zap.Int("value", evt.Value),
				zap.Int("total", evt.Total),
			)
			s.logger.Debug("progress event", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
