package secrets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"

	"github.com/vaultfetch/vaultfetch/internal/tracing"
)

// KeyVaultStore resolves secrets from one Azure Key Vault.
type KeyVaultStore struct {
	vaultURL string
	client   *azsecrets.Client
}

// NewKeyVaultStore creates a store for vaultURL authenticating with cred.
// A nil opts uses the SDK defaults with a traced transport.
func NewKeyVaultStore(vaultURL string, cred azcore.TokenCredential, opts *azsecrets.ClientOptions) (*KeyVaultStore, error) {
	if vaultURL == "" {
		return nil, errors.New("vault url is required")
	}
	if opts == nil {
		opts = &azsecrets.ClientOptions{
			ClientOptions: azcore.ClientOptions{
				Transport: &http.Client{Transport: tracing.RoundTripper(nil)},
			},
		}
	}

	client, err := azsecrets.NewClient(vaultURL, cred, opts)
	if err != nil {
		return nil, fmt.Errorf("create key vault client: %w", err)
	}

	return &KeyVaultStore{vaultURL: vaultURL, client: client}, nil
}

// Get fetches the current (or pinned) version of a secret.
func (s *KeyVaultStore) Get(ctx context.Context, ref Reference) (string, error) {
	if err := ref.Validate(); err != nil {
		return "", &Error{Kind: KindUnknown, Op: "get secret", Secret: ref.Name, Err: err}
	}
	if !sameVault(ref.VaultURL, s.vaultURL) {
		return "", &Error{
			Kind:   KindUnknown,
			Op:     "get secret",
			Secret: ref.Name,
			Err:    fmt.Errorf("reference targets %s, store is bound to %s", ref.VaultURL, s.vaultURL),
		}
	}

	ctx, span := tracing.StartSpan(ctx, "keyvault.get_secret")
	defer span.End()
	span.SetAttributes(
		tracing.AttrVaultURL.String(s.vaultURL),
		tracing.AttrSecretName.String(ref.Name),
	)

	resp, err := s.client.GetSecret(ctx, ref.Name, ref.Version, nil)
	if err != nil {
		tracing.RecordError(span, err)
		return "", &Error{Kind: Classify(err), Op: "get secret", Secret: ref.String(), Err: err}
	}
	if resp.Value == nil {
		err := errors.New("secret has no value")
		tracing.RecordError(span, err)
		return "", &Error{Kind: KindUnknown, Op: "get secret", Secret: ref.String(), Err: err}
	}

	return *resp.Value, nil
}

func sameVault(a, b string) bool {
	return strings.EqualFold(strings.TrimRight(a, "/"), strings.TrimRight(b, "/"))
}
