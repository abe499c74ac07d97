// Package audit emits best-effort audit events for every scheduling state
// change. Sink failures are caught by callers and must never fail the
// operation that triggered the event.
package audit

import (
	"context"
	"log/slog"
)

// Sink receives audit events. Implementations should be fast; callers treat
// Log as fire-and-forget.
type Sink interface {
	Log(ctx context.Context, eventType string, fields map[string]any) error
}

// SlogSink writes audit events through the structured logger.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a logger-backed audit sink.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return &SlogSink{logger: logger}
}

func (s *SlogSink) Log(ctx context.Context, eventType string, fields map[string]any) error {
	attrs := make([]any, 0, len(fields)*2+2)
	attrs = append(attrs, slog.String("event", eventType))
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	s.logger.InfoContext(ctx, "Audit event", attrs...)
	return nil
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Log(context.Context, string, map[string]any) error {
	return nil
}
