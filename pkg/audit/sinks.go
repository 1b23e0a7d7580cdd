package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// LogSink writes events to a slog logger. Critical events are logged at
// error level, warnings at warn level, everything else at info.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a log sink. A nil logger uses slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "audit")}
}

// Emit logs the event.
func (s *LogSink) Emit(ctx context.Context, e Event) error {
	lvl := slog.LevelInfo
	switch e.Level {
	case LevelWarning:
		lvl = slog.LevelWarn
	case LevelError, LevelCritical:
		lvl = slog.LevelError
	}

	attrs := []any{
		"event_id", e.ID,
		"type", e.Type,
		"level", string(e.Level),
		"source", e.Source,
		"target", e.Target,
		"result", e.Result,
		"timestamp", e.Timestamp,
	}
	if len(e.Details) > 0 {
		group := make([]any, 0, len(e.Details)*2)
		for k, v := range e.Details {
			group = append(group, k, v)
		}
		attrs = append(attrs, slog.Group("details", group...))
	}
	s.logger.Log(ctx, lvl, "audit event", attrs...)
	return nil
}

// Close is a no-op.
func (s *LogSink) Close() error { return nil }

// MemorySink keeps events in memory.
type MemorySink struct {
	mu     sync.RWMutex
	events []Event
	closed bool
}

// NewMemorySink creates an empty memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Emit appends the event.
func (s *MemorySink) Emit(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	s.events = append(s.events, copyEvent(e))
	return nil
}

// Events returns a copy of the recorded events in emit order.
func (s *MemorySink) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, len(s.events))
	for i, e := range s.events {
		out[i] = copyEvent(e)
	}
	return out
}

// Len returns the number of recorded events.
func (s *MemorySink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Close marks the sink closed.
func (s *MemorySink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// MultiSink fans events out to every sink. Emit attempts all sinks and
// joins their errors.
type MultiSink []Sink

// Emit forwards the event to every sink.
func (m MultiSink) Emit(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func copyEvent(e Event) Event {
	if e.Details != nil {
		d := make(map[string]string, len(e.Details))
		for k, v := range e.Details {
			d[k] = v
		}
		e.Details = d
	}
	return e
}
