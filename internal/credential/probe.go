package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
)

// ErrSourceTimeout is returned when a probed source does not answer its
// first request in time.
var ErrSourceTimeout = errors.New("credential source did not respond")

// Bound on the first managed identity request. Off Azure the IMDS endpoint
// never answers, and the SDK's own retries would hold the chain for minutes.
const managedIdentityProbeTimeout = 2 * time.Second

// probedSource bounds a source's attempts, without retries, until one of
// them succeeds. Later calls run under the caller's context only.
type probedSource struct {
	Source
	timeout time.Duration

	mu        sync.Mutex
	reachable bool
}

func newProbedSource(s Source, timeout time.Duration) *probedSource {
	return &probedSource{Source: s, timeout: timeout}
}

func (s *probedSource) GetToken(ctx context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	s.mu.Lock()
	reachable := s.reachable
	s.mu.Unlock()
	if reachable {
		return s.Source.GetToken(ctx, opts)
	}

	probeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	probeCtx = policy.WithRetryOptions(probeCtx, policy.RetryOptions{MaxRetries: -1})

	tk, err := s.Source.GetToken(probeCtx, opts)
	if err != nil {
		if ctx.Err() == nil && errors.Is(probeCtx.Err(), context.DeadlineExceeded) {
			return azcore.AccessToken{}, fmt.Errorf("%w within %s", ErrSourceTimeout, s.timeout)
		}
		return azcore.AccessToken{}, err
	}

	s.mu.Lock()
	s.reachable = true
	s.mu.Unlock()
	return tk, nil
}
