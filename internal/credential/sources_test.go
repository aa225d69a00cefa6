package credential

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultfetch/vaultfetch/internal/config"
)

func TestSources_FollowConfiguredOrder(t *testing.T) {
	cfg := &config.Config{Credential: config.CredentialConfig{
		TokenEnv:    "VAULTFETCH_TEST_TOKEN",
		Interactive: true,
	}}

	sources, err := Sources(cfg)
	require.NoError(t, err)

	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = s.Name()
	}
	assert.Equal(t, []string{
		config.SourceEnvToken,
		config.SourceEnvironment,
		config.SourceWorkloadIdentity,
		config.SourceManagedIdentity,
		config.SourceAzureCLI,
		config.SourceAzureDeveloperCLI,
		config.SourceInteractiveBrowser,
	}, names)
}

func TestSources_UnknownName(t *testing.T) {
	cfg := &config.Config{Credential: config.CredentialConfig{Sources: []string{"kerberos"}}}
	_, err := Sources(cfg)
	assert.ErrorContains(t, err, "kerberos")
}

func TestLazySource_BuildsOnceAndReportsBuildError(t *testing.T) {
	builds := 0
	src := newLazySource("environment", func() (azcore.TokenCredential, error) {
		builds++
		return nil, errors.New("missing AZURE_TENANT_ID")
	})

	for i := 0; i < 2; i++ {
		_, err := src.GetToken(context.Background(), policy.TokenRequestOptions{})
		assert.ErrorContains(t, err, "create credential: missing AZURE_TENANT_ID")
	}
	assert.Equal(t, 1, builds)
}

func TestLazySource_NotBuiltUntilReached(t *testing.T) {
	built := false
	lazy := newLazySource("azure_cli", func() (azcore.TokenCredential, error) {
		built = true
		return &fakeSource{name: "inner", token: "tok"}, nil
	})
	chain := NewChain([]Source{&fakeSource{name: "environment", token: "env-tok"}, lazy})

	tk, err := chain.Resolve(context.Background(), "scope")
	require.NoError(t, err)
	assert.Equal(t, "env-tok", tk.Token)
	assert.False(t, built)
}

func TestNewSource_WrapsCredential(t *testing.T) {
	src := NewSource("custom", &fakeSource{name: "ignored", token: "tok"})
	assert.Equal(t, "custom", src.Name())

	tk, err := src.GetToken(context.Background(), policy.TokenRequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, "tok", tk.Token)
}

func TestEnvTokenSource_Unset(t *testing.T) {
	t.Setenv("VAULTFETCH_TEST_TOKEN", "")

	_, err := NewEnvTokenSource("VAULTFETCH_TEST_TOKEN").GetToken(context.Background(), policy.TokenRequestOptions{})
	assert.ErrorIs(t, err, ErrTokenNotFound)
	assert.ErrorContains(t, err, "VAULTFETCH_TEST_TOKEN")
}

func TestEnvTokenSource_OpaqueToken(t *testing.T) {
	t.Setenv("VAULTFETCH_TEST_TOKEN", "  opaque-token\n")

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	src := NewEnvTokenSource("VAULTFETCH_TEST_TOKEN")
	src.now = func() time.Time { return now }

	tk, err := src.GetToken(context.Background(), policy.TokenRequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, "opaque-token", tk.Token)
	assert.Equal(t, now.Add(opaqueTokenLifetime), tk.ExpiresOn)
}

func TestEnvTokenSource_JWTExpiry(t *testing.T) {
	exp := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	signed := signedToken(t, exp)
	t.Setenv("VAULTFETCH_TEST_TOKEN", signed)

	tk, err := NewEnvTokenSource("VAULTFETCH_TEST_TOKEN").GetToken(context.Background(), policy.TokenRequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, signed, tk.Token)
	assert.True(t, tk.ExpiresOn.Equal(exp), "expected %v, got %v", exp, tk.ExpiresOn)
}

func TestEnvTokenSource_ExpiredJWT(t *testing.T) {
	t.Setenv("VAULTFETCH_TEST_TOKEN", signedToken(t, time.Now().Add(-time.Minute)))

	_, err := NewEnvTokenSource("VAULTFETCH_TEST_TOKEN").GetToken(context.Background(), policy.TokenRequestOptions{})
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.False(t, strings.Contains(err.Error(), "eyJ"), "error must not echo the token")
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"aud": "https://vault.azure.net",
		"exp": exp.Unix(),
	})
	signed, err := tok.SignedString([]byte("test-signing-key"))
	require.NoError(t, err)
	return signed
}
