package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// DownloadCounter keeps per-version download statistics.
// Counts are keyed by Identity.Key and are independent of whether the
// artifact still exists.
type DownloadCounter interface {
	// Increment adds one download and returns the new count.
	Increment(ctx context.Context, id Identity) (int64, error)

	// Get returns the current count, zero when the identity was never downloaded.
	Get(ctx context.Context, id Identity) (int64, error)

	// Snapshot returns every recorded count keyed by Identity.Key.
	Snapshot(ctx context.Context) (map[string]int64, error)

	// Purge removes the counts of every version of a package.
	Purge(ctx context.Context, packageID string) error

	Close() error
}

// CounterFactory opens a download counter backend for a data source.
type CounterFactory func(dsn string) (DownloadCounter, error)

var (
	factories = make(map[string]CounterFactory)
	mu        sync.RWMutex
)

// RegisterCounter adds a download counter backend.
// backend is the name used in configuration (e.g., "sqlite", "memory").
func RegisterCounter(backend string, factory CounterFactory) {
	mu.Lock()
	defer mu.Unlock()
	factories[backend] = factory
}

// NewCounter opens the download counter for the given backend.
func NewCounter(backend, dsn string) (DownloadCounter, error) {
	mu.RLock()
	factory, ok := factories[backend]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown download counter backend: %s", backend)
	}

	return factory(dsn)
}

// SupportedCounters returns all registered backend names, sorted.
func SupportedCounters() []string {
	mu.RLock()
	defer mu.RUnlock()

	backends := make([]string, 0, len(factories))
	for name := range factories {
		backends = append(backends, name)
	}
	sort.Strings(backends)
	return backends
}
