package credential

import (
	"context"
	"fmt"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	"github.com/vaultfetch/vaultfetch/internal/config"
)

// NewSource wraps an existing credential as a named source.
func NewSource(name string, cred azcore.TokenCredential) Source {
	return &namedSource{name: name, cred: cred}
}

type namedSource struct {
	name string
	cred azcore.TokenCredential
}

func (s *namedSource) Name() string { return s.name }

func (s *namedSource) GetToken(ctx context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return s.cred.GetToken(ctx, opts)
}

// lazySource defers building the underlying credential until the chain
// reaches it. A build failure is reported as the source's error on every call.
type lazySource struct {
	name  string
	build func() (azcore.TokenCredential, error)

	once sync.Once
	cred azcore.TokenCredential
	err  error
}

func newLazySource(name string, build func() (azcore.TokenCredential, error)) *lazySource {
	return &lazySource{name: name, build: build}
}

func (s *lazySource) Name() string { return s.name }

func (s *lazySource) GetToken(ctx context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	s.once.Do(func() {
		s.cred, s.err = s.build()
	})
	if s.err != nil {
		return azcore.AccessToken{}, fmt.Errorf("create credential: %w", s.err)
	}
	return s.cred.GetToken(ctx, opts)
}

// Sources builds fresh, unprobed sources from the configured names, in order.
func Sources(cfg *config.Config) ([]Source, error) {
	c := cfg.Credential
	names := cfg.CredentialSources()

	sources := make([]Source, 0, len(names))
	for _, name := range names {
		var build func() (azcore.TokenCredential, error)

		switch name {
		case config.SourceEnvToken:
			sources = append(sources, NewEnvTokenSource(c.TokenEnv))
			continue
		case config.SourceEnvironment:
			build = func() (azcore.TokenCredential, error) {
				return azidentity.NewEnvironmentCredential(nil)
			}
		case config.SourceWorkloadIdentity:
			build = func() (azcore.TokenCredential, error) {
				return azidentity.NewWorkloadIdentityCredential(&azidentity.WorkloadIdentityCredentialOptions{
					TenantID: c.TenantID,
				})
			}
		case config.SourceManagedIdentity:
			build = func() (azcore.TokenCredential, error) {
				opts := &azidentity.ManagedIdentityCredentialOptions{}
				if c.ManagedIdentityClientID != "" {
					opts.ID = azidentity.ClientID(c.ManagedIdentityClientID)
				}
				return azidentity.NewManagedIdentityCredential(opts)
			}
		case config.SourceAzureCLI:
			build = func() (azcore.TokenCredential, error) {
				return azidentity.NewAzureCLICredential(&azidentity.AzureCLICredentialOptions{
					TenantID: c.TenantID,
				})
			}
		case config.SourceAzureDeveloperCLI:
			build = func() (azcore.TokenCredential, error) {
				return azidentity.NewAzureDeveloperCLICredential(&azidentity.AzureDeveloperCLICredentialOptions{
					TenantID: c.TenantID,
				})
			}
		case config.SourceInteractiveBrowser:
			build = func() (azcore.TokenCredential, error) {
				return azidentity.NewInteractiveBrowserCredential(&azidentity.InteractiveBrowserCredentialOptions{
					TenantID: c.TenantID,
				})
			}
		default:
			return nil, fmt.Errorf("unknown credential source %q", name)
		}

		var src Source = newLazySource(name, build)
		if name == config.SourceManagedIdentity {
			src = newProbedSource(src, managedIdentityProbeTimeout)
		}
		sources = append(sources, src)
	}

	return sources, nil
}
