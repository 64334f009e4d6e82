package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/cenk/backoff"
	circuit "github.com/rubyist/circuitbreaker"
)

// DefaultTripThreshold is the number of consecutive upstream failures that
// open a host's breaker.
const DefaultTripThreshold = 5

// CircuitBreakerFetcher wraps a Fetcher with one breaker per upstream host.
// Only availability failures count against a breaker; a missing package
// does not.
type CircuitBreakerFetcher struct {
	fetcher   *Fetcher
	threshold int64

	mu       sync.RWMutex
	breakers map[string]*circuit.Breaker
}

// NewCircuitBreakerFetcher wraps f.
func NewCircuitBreakerFetcher(f *Fetcher) *CircuitBreakerFetcher {
	return &CircuitBreakerFetcher{
		fetcher:   f,
		threshold: DefaultTripThreshold,
		breakers:  make(map[string]*circuit.Breaker),
	}
}

func (cbf *CircuitBreakerFetcher) breaker(host string) *circuit.Breaker {
	cbf.mu.RLock()
	b, ok := cbf.breakers[host]
	cbf.mu.RUnlock()
	if ok {
		return b
	}

	cbf.mu.Lock()
	defer cbf.mu.Unlock()
	if b, ok := cbf.breakers[host]; ok {
		return b
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 30 * time.Second
	expBackoff.MaxInterval = 5 * time.Minute
	expBackoff.Multiplier = 2.0
	expBackoff.Reset()

	b = circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ThresholdTripFunc(cbf.threshold),
	})
	cbf.breakers[host] = b
	return b
}

// call runs fn under host's breaker. Errors other than availability
// failures are returned without being counted.
func (cbf *CircuitBreakerFetcher) call(rawURL string, fn func() error) error {
	host := upstreamHost(rawURL)
	b := cbf.breaker(host)
	if !b.Ready() {
		return fmt.Errorf("circuit open for %s: %w", host, ErrUpstreamDown)
	}

	var passthrough error
	err := b.Call(func() error {
		err := fn()
		if err == nil || errors.Is(err, ErrUpstreamDown) || errors.Is(err, ErrRateLimited) {
			return err
		}
		passthrough = err
		return nil
	}, 0)
	if err != nil {
		return err
	}
	return passthrough
}

// Get fetches url through the host's breaker.
func (cbf *CircuitBreakerFetcher) Get(ctx context.Context, rawURL string) (*Response, error) {
	var resp *Response
	err := cbf.call(rawURL, func() error {
		var err error
		resp, err = cbf.fetcher.Get(ctx, rawURL)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Head issues a HEAD through the host's breaker.
func (cbf *CircuitBreakerFetcher) Head(ctx context.Context, rawURL string) (size int64, contentType string, err error) {
	err = cbf.call(rawURL, func() error {
		var headErr error
		size, contentType, headErr = cbf.fetcher.Head(ctx, rawURL)
		return headErr
	})
	return size, contentType, err
}

// Close closes the wrapped Fetcher.
func (cbf *CircuitBreakerFetcher) Close() error {
	return cbf.fetcher.Close()
}

func upstreamHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		if len(rawURL) > 50 {
			return rawURL[:50]
		}
		return rawURL
	}
	return parsed.Host
}

// State is a breaker's state for one upstream host.
type State struct {
	Host     string `json:"host"`
	Open     bool   `json:"open"`
	Failures int64  `json:"failures"`
}

// States lists the breakers created so far, sorted by host.
func (cbf *CircuitBreakerFetcher) States() []State {
	cbf.mu.RLock()
	defer cbf.mu.RUnlock()

	states := make([]State, 0, len(cbf.breakers))
	for host, b := range cbf.breakers {
		states = append(states, State{Host: host, Open: b.Tripped(), Failures: b.ConsecFailures()})
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Host < states[j].Host })
	return states
}
