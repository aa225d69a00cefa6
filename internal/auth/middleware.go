package auth

import (
	"crypto/subtle"
	"net/http"
	"os"

	"github.com/vaultfetch/vaultfetch/internal/config"
)

// Where callers present a function key, following the Functions host.
const (
	KeyHeader = "x-functions-key"
	KeyQuery  = "code"
)

// CallerHeader carries the name of the matched key to downstream handlers.
const CallerHeader = "X-Caller"

type functionKey struct {
	name  string
	value []byte
}

// FunctionKeyMiddleware requires a valid function key on every request.
type FunctionKeyMiddleware struct {
	keys []functionKey
	next http.Handler
}

// NewFunctionKeyMiddleware creates a new function key middleware. Keys whose
// environment variable is empty are skipped.
func NewFunctionKeyMiddleware(keys []config.KeyConfig, next http.Handler) *FunctionKeyMiddleware {
	var loaded []functionKey
	for _, k := range keys {
		value := os.Getenv(k.KeyEnv)
		if value != "" {
			loaded = append(loaded, functionKey{name: k.Name, value: []byte(value)})
		}
	}
	return &FunctionKeyMiddleware{
		keys: loaded,
		next: next,
	}
}

// Len returns the number of usable keys.
func (m *FunctionKeyMiddleware) Len() int {
	return len(m.keys)
}

// ServeHTTP implements http.Handler.
func (m *FunctionKeyMiddleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	presented := r.Header.Get(KeyHeader)
	if presented == "" {
		presented = r.URL.Query().Get(KeyQuery)
	}
	if presented == "" {
		http.Error(w, "missing function key", http.StatusUnauthorized)
		return
	}

	name, ok := m.match([]byte(presented))
	if !ok {
		http.Error(w, "invalid function key", http.StatusUnauthorized)
		return
	}

	// Keys stay out of downstream handlers and their logs.
	r.Header.Del(KeyHeader)
	if r.URL.Query().Has(KeyQuery) {
		q := r.URL.Query()
		q.Del(KeyQuery)
		r.URL.RawQuery = q.Encode()
	}

	r.Header.Set(CallerHeader, name)

	m.next.ServeHTTP(w, r)
}

// match compares against every key so timing does not reveal which matched.
func (m *FunctionKeyMiddleware) match(presented []byte) (string, bool) {
	var name string
	found := 0
	for _, k := range m.keys {
		if subtle.ConstantTimeCompare(presented, k.value) == 1 && found == 0 {
			name = k.name
			found = 1
		}
	}
	return name, found == 1
}
