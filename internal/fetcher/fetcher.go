// Package fetcher runs one authenticate-then-fetch sequence per call.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/rs/zerolog"

	"github.com/vaultfetch/vaultfetch/internal/config"
	"github.com/vaultfetch/vaultfetch/internal/credential"
	"github.com/vaultfetch/vaultfetch/internal/metrics"
	"github.com/vaultfetch/vaultfetch/internal/secrets"
	"github.com/vaultfetch/vaultfetch/internal/tracing"
)

// SourceFactory returns fresh credential sources for one invocation.
type SourceFactory func() ([]credential.Source, error)

// StoreFactory builds a store for vaultURL using cred.
type StoreFactory func(vaultURL string, cred azcore.TokenCredential) (secrets.Store, error)

// Options configures a Fetcher. Sources is required.
type Options struct {
	Sources  SourceFactory
	NewStore StoreFactory // defaults to a Key Vault store
	Timeout  time.Duration
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
}

// Fetcher resolves a credential and fetches one secret. Each call builds its
// own chain and store, so concurrent calls share no credential state.
type Fetcher struct {
	ref      secrets.Reference
	scope    string
	sources  SourceFactory
	newStore StoreFactory
	timeout  time.Duration
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// New creates a Fetcher for ref.
func New(ref secrets.Reference, opts Options) (*Fetcher, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if opts.Sources == nil {
		return nil, errors.New("credential sources are required")
	}
	scope, err := secrets.ScopeFor(ref.VaultURL)
	if err != nil {
		return nil, err
	}

	newStore := opts.NewStore
	if newStore == nil {
		newStore = func(vaultURL string, cred azcore.TokenCredential) (secrets.Store, error) {
			return secrets.NewKeyVaultStore(vaultURL, cred, nil)
		}
	}

	return &Fetcher{
		ref:      ref,
		scope:    scope,
		sources:  opts.Sources,
		newStore: newStore,
		timeout:  opts.Timeout,
		metrics:  opts.Metrics,
		logger:   opts.Logger.With().Str("component", "fetcher").Logger(),
	}, nil
}

// FromConfig creates a Key Vault backed Fetcher from cfg.
func FromConfig(cfg *config.Config, m *metrics.Metrics, logger zerolog.Logger) (*Fetcher, error) {
	ref := secrets.Reference{
		VaultURL: cfg.VaultURL(),
		Name:     cfg.Vault.Secret,
		Version:  cfg.Vault.Version,
	}
	return New(ref, Options{
		Sources: func() ([]credential.Source, error) {
			return credential.Sources(cfg)
		},
		Timeout: cfg.Timeout(),
		Metrics: m,
		Logger:  logger,
	})
}

// Reference returns the secret this fetcher retrieves.
func (f *Fetcher) Reference() secrets.Reference {
	return f.ref
}

// Fetch returns the current value of the secret. Failures are *secrets.Error.
func (f *Fetcher) Fetch(ctx context.Context) (string, error) {
	start := time.Now()
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	ctx, span := tracing.StartSpan(ctx, "fetch")
	defer span.End()
	span.SetAttributes(
		tracing.AttrVaultURL.String(f.ref.VaultURL),
		tracing.AttrSecretName.String(f.ref.Name),
	)

	value, err := f.fetch(ctx)

	outcome := "ok"
	if err != nil {
		outcome = secrets.KindOf(err).String()
		tracing.RecordError(span, err)
	}
	span.SetAttributes(tracing.AttrOutcome.String(outcome))
	f.metrics.ObserveFetch(outcome, time.Since(start))

	return value, err
}

func (f *Fetcher) fetch(ctx context.Context) (string, error) {
	sources, err := f.sources()
	if err != nil {
		return "", &secrets.Error{Kind: secrets.KindUnauthenticated, Op: "build credential chain", Err: err}
	}
	chain := credential.NewChain(sources, credential.WithObserver(f.observeCredential))

	if err := f.resolve(ctx, chain); err != nil {
		return "", err
	}

	store, err := f.newStore(f.ref.VaultURL, chain)
	if err != nil {
		return "", &secrets.Error{Kind: secrets.KindUnknown, Op: "create store", Err: err}
	}

	value, err := store.Get(ctx, f.ref)
	if err != nil {
		var se *secrets.Error
		if errors.As(err, &se) {
			return "", err
		}
		return "", &secrets.Error{Kind: secrets.Classify(err), Op: "get secret", Secret: f.ref.String(), Err: err}
	}
	return value, nil
}

// resolve obtains a token up front so that an exhausted chain fails the
// invocation before any request reaches the vault.
func (f *Fetcher) resolve(ctx context.Context, chain *credential.Chain) error {
	ctx, span := tracing.StartSpan(ctx, "credential.resolve")
	defer span.End()

	if _, err := chain.Resolve(ctx, f.scope); err != nil {
		tracing.RecordError(span, err)
		kind := secrets.Classify(err)
		// A cancelled invocation says nothing about the credentials.
		if kind == secrets.KindUnknown && !errors.Is(err, context.Canceled) {
			kind = secrets.KindUnauthenticated
		}
		return &secrets.Error{Kind: kind, Op: "resolve credential", Err: fmt.Errorf("scope %s: %w", f.scope, err)}
	}

	span.SetAttributes(tracing.AttrSource.String(chain.Selected()))
	f.logger.Debug().Str("source", chain.Selected()).Msg("credential resolved")
	return nil
}

func (f *Fetcher) observeCredential(source string, err error) {
	f.metrics.ObserveCredential(source, err)
	if err != nil {
		f.logger.Debug().Str("source", source).Err(err).Msg("credential source unavailable")
	}
}
