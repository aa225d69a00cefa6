package audit

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

// Entry represents one audited function request.
type Entry struct {
	RequestID  string
	TraceID    string
	Route      string
	Method     string
	SourceIP   string
	Caller     string // Name of the function key, empty for anonymous calls
	Outcome    string
	Status     int
	DurationMs int64
	Message    string
}

// Logger writes audit logs.
type Logger struct {
	log zerolog.Logger
}

// New creates a new audit logger writing to the given writer.
func New(w io.Writer) *Logger {
	log := zerolog.New(w).With().Str("log", "audit").Logger()
	return &Logger{log: log}
}

// Log writes an audit entry.
func (l *Logger) Log(e Entry) {
	event := l.log.Info().
		Str("ts", time.Now().UTC().Format(time.RFC3339)).
		Str("request_id", e.RequestID).
		Str("route", e.Route).
		Str("method", e.Method).
		Str("outcome", e.Outcome).
		Int("status", e.Status).
		Int64("duration_ms", e.DurationMs)

	if e.TraceID != "" {
		event = event.Str("trace_id", e.TraceID)
	}
	if e.SourceIP != "" {
		event = event.Str("source_ip", e.SourceIP)
	}
	if e.Caller != "" {
		event = event.Str("caller", e.Caller)
	}
	if e.Message != "" {
		event = event.Str("message", e.Message)
	}

	event.Send()
}
