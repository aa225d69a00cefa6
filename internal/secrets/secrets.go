package secrets

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	"github.com/vaultfetch/vaultfetch/internal/credential"
)

// Reference identifies a single secret in a vault.
type Reference struct {
	VaultURL string
	Name     string
	Version  string // empty means latest
}

// Validate reports whether the reference can be fetched.
func (r Reference) Validate() error {
	if strings.TrimSpace(r.VaultURL) == "" {
		return errors.New("secret vault url is required")
	}
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("secret name is required")
	}
	return nil
}

func (r Reference) String() string {
	if r.Version == "" {
		return r.Name
	}
	return r.Name + "/" + r.Version
}

// Store resolves secret references to plaintext values.
type Store interface {
	Get(ctx context.Context, ref Reference) (string, error)
}

// Kind classifies a failure for callers that must not see its detail.
type Kind int

const (
	KindUnknown Kind = iota
	KindUnauthenticated
	KindForbidden
	KindNotFound
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Error is a classified failure to obtain a secret.
type Error struct {
	Kind   Kind
	Op     string
	Secret string
	Err    error
}

func (e *Error) Error() string {
	if e.Secret == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Op, e.Secret, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind carried by err, classifying it when it is not a
// *Error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return Classify(err)
}

// Classify maps errors surfaced by the credential chain, the identity SDK and
// the Key Vault client onto a Kind.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var chainErr *credential.ChainError
	if errors.As(err, &chainErr) || errors.Is(err, credential.ErrNoSources) {
		return KindUnauthenticated
	}
	var authErr *azidentity.AuthenticationFailedError
	if errors.As(err, &authErr) {
		return KindUnauthenticated
	}

	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch {
		case respErr.StatusCode == http.StatusUnauthorized:
			return KindUnauthenticated
		case respErr.StatusCode == http.StatusForbidden:
			return KindForbidden
		case respErr.StatusCode == http.StatusNotFound:
			return KindNotFound
		case respErr.StatusCode == http.StatusRequestTimeout,
			respErr.StatusCode == http.StatusTooManyRequests,
			respErr.StatusCode >= 500:
			return KindUnavailable
		}
		return KindUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindUnavailable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindUnavailable
	}

	return KindUnknown
}

// ScopeFor returns the token scope for a vault URL: the vault host without
// its first label, e.g. https://vault.azure.net/.default for
// https://myvault.vault.azure.net/.
func ScopeFor(vaultURL string) (string, error) {
	u, err := url.Parse(vaultURL)
	if err != nil {
		return "", fmt.Errorf("parse vault url: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("vault url %q has no host", vaultURL)
	}

	domain := host
	if net.ParseIP(host) == nil {
		if i := strings.IndexByte(host, '.'); i > 0 && strings.Contains(host[i+1:], ".") {
			domain = host[i+1:]
		}
	}
	return "https://" + domain + "/.default", nil
}
