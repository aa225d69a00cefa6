// Package credential resolves an Azure access token through an ordered list
// of credential sources.
//
// A Chain tries each Source in turn and returns the first token obtained. Once
// a source has succeeded the chain keeps using it, so later token requests on
// the same chain do not probe sources that already failed. When every source
// fails the caller gets a *ChainError describing each attempt.
package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
)

// ErrNoSources is returned by a chain that has nothing to try.
var ErrNoSources = errors.New("no credential sources configured")

// Source is one strategy for obtaining a token.
type Source interface {
	Name() string
	GetToken(ctx context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error)
}

// Observer is told about every attempt a chain makes.
type Observer func(source string, err error)

// SourceError records why a single source failed.
type SourceError struct {
	Source string
	Err    error
}

func (e SourceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Source, e.Err)
}

// ChainError is returned when no source produced a token.
type ChainError struct {
	Failures []SourceError
}

func (e *ChainError) Error() string {
	var b strings.Builder
	b.WriteString("no credential source succeeded")
	for _, f := range e.Failures {
		b.WriteString("\n\t")
		b.WriteString(f.Error())
	}
	return b.String()
}

// Unwrap exposes the individual source errors to errors.Is and errors.As.
func (e *ChainError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// Option configures a Chain.
type Option func(*Chain)

// WithObserver registers fn to be called after every source attempt.
func WithObserver(fn Observer) Option {
	return func(c *Chain) {
		c.observer = fn
	}
}

// Chain is an azcore.TokenCredential backed by an ordered list of sources.
// It is safe for concurrent use.
type Chain struct {
	sources  []Source
	observer Observer

	mu       sync.Mutex
	selected Source
}

var _ azcore.TokenCredential = (*Chain)(nil)

// NewChain creates a chain trying sources in the given order.
func NewChain(sources []Source, opts ...Option) *Chain {
	c := &Chain{sources: sources}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Sources returns the names of the chain's sources in order.
func (c *Chain) Sources() []string {
	names := make([]string, len(c.sources))
	for i, s := range c.sources {
		names[i] = s.Name()
	}
	return names
}

// Selected returns the name of the source that last succeeded, or "".
func (c *Chain) Selected() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selected == nil {
		return ""
	}
	return c.selected.Name()
}

// GetToken implements azcore.TokenCredential.
func (c *Chain) GetToken(ctx context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	c.mu.Lock()
	selected := c.selected
	c.mu.Unlock()

	if selected != nil {
		tk, err := selected.GetToken(ctx, opts)
		c.observe(selected.Name(), err)
		if err != nil {
			return azcore.AccessToken{}, &ChainError{Failures: []SourceError{{Source: selected.Name(), Err: err}}}
		}
		return tk, nil
	}

	if len(c.sources) == 0 {
		return azcore.AccessToken{}, ErrNoSources
	}

	failures := make([]SourceError, 0, len(c.sources))
	for _, s := range c.sources {
		if err := ctx.Err(); err != nil {
			return azcore.AccessToken{}, err
		}

		tk, err := s.GetToken(ctx, opts)
		c.observe(s.Name(), err)
		if err == nil {
			c.mu.Lock()
			if c.selected == nil {
				c.selected = s
			}
			c.mu.Unlock()
			return tk, nil
		}
		failures = append(failures, SourceError{Source: s.Name(), Err: err})
	}

	return azcore.AccessToken{}, &ChainError{Failures: failures}
}

// Resolve obtains a token for a single scope.
func (c *Chain) Resolve(ctx context.Context, scope string) (azcore.AccessToken, error) {
	return c.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{scope}})
}

func (c *Chain) observe(source string, err error) {
	if c.observer != nil {
		c.observer(source, err)
	}
}
