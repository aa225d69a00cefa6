package server

import (
	"context"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/vaultfetch/vaultfetch/internal/secrets"
)

// SecretFetcher returns the value of the configured secret.
type SecretFetcher interface {
	Fetch(ctx context.Context) (string, error)
}

// allowedMethods is sent in the Allow header of 405 responses.
const allowedMethods = "GET, POST"

// Handler serves the secret value over HTTP. Failures are answered with a
// generic message for their kind; the cause only reaches the log.
type Handler struct {
	fetcher SecretFetcher
	logger  zerolog.Logger
}

// NewHandler creates a handler backed by fetcher.
func NewHandler(fetcher SecretFetcher, logger zerolog.Logger) *Handler {
	return &Handler{
		fetcher: fetcher,
		logger:  logger.With().Str("component", "handler").Logger(),
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.Header().Set("Allow", allowedMethods)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	log := h.logger.With().Str("request_id", r.Header.Get(RequestIDHeader)).Logger()

	value, err := h.fetcher.Fetch(r.Context())
	w.Header().Set("Cache-Control", "no-store")
	if err != nil {
		kind := secrets.KindOf(err)
		status := StatusFor(kind)
		setOutcome(w, kind.String())

		log.Error().Err(err).
			Str("kind", kind.String()).
			Int("status", status).
			Msg("secret fetch failed")

		http.Error(w, messageFor(kind), status)
		return
	}

	setOutcome(w, "ok")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, value); err != nil {
		log.Warn().Err(err).Msg("write response")
	}
}

// StatusFor maps an error kind onto the HTTP status returned to callers.
// Credential problems are the service's own, so they surface as 500.
func StatusFor(kind secrets.Kind) int {
	switch kind {
	case secrets.KindNotFound:
		return http.StatusNotFound
	case secrets.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func messageFor(kind secrets.Kind) string {
	switch kind {
	case secrets.KindUnauthenticated:
		return "service could not authenticate to the secret store"
	case secrets.KindForbidden:
		return "service is not permitted to read the secret"
	case secrets.KindNotFound:
		return "secret not found"
	case secrets.KindUnavailable:
		return "secret store unavailable"
	default:
		return "internal server error"
	}
}
