package secrets

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultfetch/vaultfetch/internal/credential"
)

func responseError(status int) *azcore.ResponseError {
	return &azcore.ResponseError{
		StatusCode: status,
		ErrorCode:  http.StatusText(status),
		RawResponse: &http.Response{
			StatusCode: status,
			Status:     http.StatusText(status),
			Request:    httptest.NewRequest(http.MethodGet, "https://kv.vault.azure.net/secrets/s", nil),
		},
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"chain exhausted", &credential.ChainError{Failures: []credential.SourceError{{Source: "environment", Err: errors.New("unset")}}}, KindUnauthenticated},
		{"wrapped chain", fmt.Errorf("resolve: %w", &credential.ChainError{}), KindUnauthenticated},
		{"no sources", credential.ErrNoSources, KindUnauthenticated},
		{"auth failed", &azidentity.AuthenticationFailedError{}, KindUnauthenticated},
		{"401", responseError(http.StatusUnauthorized), KindUnauthenticated},
		{"403", responseError(http.StatusForbidden), KindForbidden},
		{"404", responseError(http.StatusNotFound), KindNotFound},
		{"429", responseError(http.StatusTooManyRequests), KindUnavailable},
		{"503", responseError(http.StatusServiceUnavailable), KindUnavailable},
		{"400", responseError(http.StatusBadRequest), KindUnknown},
		{"deadline", fmt.Errorf("get: %w", context.DeadlineExceeded), KindUnavailable},
		{"dial", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, KindUnavailable},
		{"other", errors.New("something odd"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestKindOf_PrefersCarriedKind(t *testing.T) {
	err := fmt.Errorf("fetch: %w", &Error{Kind: KindNotFound, Op: "get secret", Secret: "s", Err: errors.New("x")})
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Equal(t, KindUnavailable, KindOf(context.DeadlineExceeded))
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "unauthenticated", KindUnauthenticated.String())
	assert.Equal(t, "forbidden", KindForbidden.String())
	assert.Equal(t, "not_found", KindNotFound.String())
	assert.Equal(t, "unavailable", KindUnavailable.String())
	assert.Equal(t, "unknown", Kind(42).String())
}

func TestError_Message(t *testing.T) {
	cause := errors.New("boom")
	err := &Error{Kind: KindUnknown, Op: "get secret", Secret: "mylittlesecret", Err: cause}
	assert.Equal(t, `get secret "mylittlesecret": boom`, err.Error())
	assert.ErrorIs(t, err, cause)

	err = &Error{Op: "resolve credential", Err: cause}
	assert.Equal(t, "resolve credential: boom", err.Error())
}

func TestReference(t *testing.T) {
	ref := Reference{VaultURL: "https://kv.vault.azure.net/", Name: "mylittlesecret"}
	assert.NoError(t, ref.Validate())
	assert.Equal(t, "mylittlesecret", ref.String())

	ref.Version = "abc123"
	assert.Equal(t, "mylittlesecret/abc123", ref.String())

	assert.Error(t, Reference{Name: "s"}.Validate())
	assert.Error(t, Reference{VaultURL: "https://kv.vault.azure.net/"}.Validate())
}

func TestScopeFor(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://azureidentityvault.vault.azure.net/", "https://vault.azure.net/.default"},
		{"https://kv.vault.azure.cn", "https://vault.azure.cn/.default"},
		{"https://kv.vault.usgovcloudapi.net:443/", "https://vault.usgovcloudapi.net/.default"},
		{"https://127.0.0.1:8443/", "https://127.0.0.1/.default"},
		{"https://localhost/", "https://localhost/.default"},
	}
	for _, tt := range tests {
		got, err := ScopeFor(tt.url)
		require.NoError(t, err, tt.url)
		assert.Equal(t, tt.want, got, tt.url)
	}

	_, err := ScopeFor("not a url")
	assert.Error(t, err)
}
