package credential

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/golang-jwt/jwt/v5"

	"github.com/vaultfetch/vaultfetch/internal/config"
)

var (
	// ErrTokenNotFound is returned when the token variable is unset.
	ErrTokenNotFound = errors.New("access token not found")
	// ErrTokenExpired is returned when the token's exp claim is in the past.
	ErrTokenExpired = errors.New("access token expired")
)

// Lifetime assumed for tokens that carry no readable exp claim.
const opaqueTokenLifetime = 5 * time.Minute

// EnvTokenSource hands out a pre-issued access token read from an
// environment variable, e.g. the output of `az account get-access-token`.
type EnvTokenSource struct {
	key string
	now func() time.Time
}

// NewEnvTokenSource creates an EnvTokenSource reading the variable key.
func NewEnvTokenSource(key string) *EnvTokenSource {
	return &EnvTokenSource{key: key, now: time.Now}
}

// Name implements Source.
func (s *EnvTokenSource) Name() string { return config.SourceEnvToken }

// GetToken reads the token on every call so rotated values are picked up.
func (s *EnvTokenSource) GetToken(_ context.Context, _ policy.TokenRequestOptions) (azcore.AccessToken, error) {
	val := strings.TrimSpace(os.Getenv(s.key))
	if val == "" {
		return azcore.AccessToken{}, fmt.Errorf("%w in %s", ErrTokenNotFound, s.key)
	}

	expires := s.now().Add(opaqueTokenLifetime)
	// The token is only parsed for its expiry; the vault verifies it.
	if tok, _, err := jwt.NewParser().ParseUnverified(val, jwt.MapClaims{}); err == nil {
		if exp, err := tok.Claims.GetExpirationTime(); err == nil && exp != nil {
			if !exp.After(s.now()) {
				return azcore.AccessToken{}, fmt.Errorf("%w in %s at %s", ErrTokenExpired, s.key, exp.UTC().Format(time.RFC3339))
			}
			expires = exp.Time
		}
	}

	return azcore.AccessToken{Token: val, ExpiresOn: expires}, nil
}
