package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/storefinder/internal/progress"
)

// LogSink writes every event as a debug log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.logger.Debug("progress event",
			zap.Stringer("search_id", evt.SearchUUID()),
			zap.String("owner", evt.Owner),
			zap.String("stage", string(evt.Stage)),
			zap.String("term", evt.Term),
			zap.Int("page", evt.Page),
			zap.String("outcome", string(evt.Outcome)),
			zap.String("path", evt.Path),
			zap.Int("products", evt.Products),
			zap.Int("stores", evt.Stores),
			zap.Duration("dur", evt.Dur),
			zap.String("note", evt.Note),
		)
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
