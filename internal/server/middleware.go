package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/vaultfetch/vaultfetch/internal/audit"
	"github.com/vaultfetch/vaultfetch/internal/auth"
	"github.com/vaultfetch/vaultfetch/internal/metrics"
	"github.com/vaultfetch/vaultfetch/internal/tracing"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLen = 128

// requestID assigns an ID to every request, keeping a caller-supplied one
// when it is reasonably sized.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}
		r.Header.Set(RequestIDHeader, id)
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func auditMiddleware(logger *audit.Logger, m *metrics.Metrics, route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		// Only the key middleware may name the caller.
		r.Header.Del(auth.CallerHeader)

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		outcome := rw.outcome
		if outcome == "" {
			outcome = outcomeFromStatus(rw.status)
		}

		m.ObserveRequest(r.Method, rw.status)
		if logger == nil {
			return
		}
		logger.Log(audit.Entry{
			RequestID:  r.Header.Get(RequestIDHeader),
			TraceID:    tracing.TraceID(r.Context()),
			Route:      route,
			Method:     r.Method,
			SourceIP:   r.RemoteAddr,
			Caller:     r.Header.Get(auth.CallerHeader),
			Outcome:    outcome,
			Status:     rw.status,
			DurationMs: time.Since(start).Milliseconds(),
		})
	})
}

type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	outcome     string
}

func (rw *responseWriter) WriteHeader(status int) {
	if !rw.wroteHeader {
		rw.status = status
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// setOutcome records the outcome of the handler for the audit entry.
func setOutcome(w http.ResponseWriter, outcome string) {
	if rw, ok := w.(*responseWriter); ok {
		rw.outcome = outcome
	}
}

func outcomeFromStatus(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return "unauthorized"
	case status == http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case status >= 200 && status < 400:
		return "ok"
	default:
		return "error"
	}
}
