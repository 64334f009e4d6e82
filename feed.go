// Package feed is a self-hosted NuGet package feed.
//
// Packages are stored as .nupkg archives in a directory tree and served over
// the NuGet v3 protocol: service index, flat container, registrations, search
// and autocomplete. Download counts are kept in a pluggable counter backend.
//
// Basic usage:
//
//	import (
//		"github.com/git-pkgs/feed"
//		"github.com/git-pkgs/feed/internal/config"
//	)
//
//	cfg, err := config.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//	f, err := feed.Open(cfg, zap.NewNop())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer f.Close()
//
//	versions, err := f.Service.Versions(ctx, "Newtonsoft.Json")
package feed

import (
	"errors"
	"fmt"

	"github.com/git-pkgs/purl"
	"go.uber.org/zap"

	"github.com/git-pkgs/feed/client"
	"github.com/git-pkgs/feed/fetch"
	"github.com/git-pkgs/feed/internal/config"
	"github.com/git-pkgs/feed/internal/core"
	_ "github.com/git-pkgs/feed/internal/downloads"
	"github.com/git-pkgs/feed/internal/metrics"
	"github.com/git-pkgs/feed/internal/service"
	"github.com/git-pkgs/feed/internal/store"
)

// Re-export types from internal/core
type (
	// Identity names one version of a package.
	Identity = core.Identity

	// Artifact is a stored package archive.
	Artifact = core.Artifact

	// Metadata is the descriptor data extracted from an archive.
	Metadata = core.Metadata

	// PackageInfo combines an artifact, its metadata and its download count.
	PackageInfo = core.PackageInfo

	// DownloadCounter records per-version download counts.
	DownloadCounter = core.DownloadCounter

	// NotFoundError is returned when a package or version does not exist.
	NotFoundError = core.NotFoundError

	// ValidationError is returned for malformed ids, versions or file names.
	ValidationError = core.ValidationError

	// ConflictError is returned when a version exists and overwrite is off.
	ConflictError = core.ConflictError
)

// Re-export errors
var (
	ErrNotFound     = core.ErrNotFound
	ErrValidation   = core.ErrValidation
	ErrConflict     = core.ErrConflict
	ErrExtraction   = core.ErrExtraction
	ErrUnauthorized = core.ErrUnauthorized
)

// PURL is a parsed Package URL.
type PURL = purl.PURL

// ParsePURL parses a Package URL string.
func ParsePURL(purlStr string) (*PURL, error) {
	return purl.Parse(purlStr)
}

// SupportedCounters returns the registered download counter backends.
func SupportedCounters() []string {
	return core.SupportedCounters()
}

// Feed is a fully wired feed: store, counter, upstream fetcher and the
// service operating on them.
type Feed struct {
	Service *service.Service
	Metrics *metrics.Metrics
	URLs    *client.FeedURLs
}

// Open wires a Feed from cfg. The caller owns the result and must Close it.
func Open(cfg *config.Config, logger *zap.Logger) (*Feed, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	st, err := store.New(cfg.Storage.PackagesPath,
		store.WithOverwrite(cfg.Storage.AllowOverwrite),
		store.WithLogger(logger.Named("store")),
	)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	counter, err := core.NewCounter(cfg.Downloads.Backend, cfg.Downloads.Path)
	if err != nil {
		return nil, fmt.Errorf("opening %s download counter: %w", cfg.Downloads.Backend, err)
	}

	m := metrics.New()
	urls := client.NewFeedURLs(cfg.Server.BaseURL)
	opts := []service.Option{
		service.WithAPIKey(cfg.Auth.APIKey),
		service.WithLogger(logger.Named("service")),
		service.WithMetrics(m),
		service.WithMaxArchiveBytes(cfg.Server.MaxUploadBytes),
	}

	if cfg.Upstream.Enabled {
		resolver, err := newResolver(cfg.Upstream)
		if err != nil {
			return nil, errors.Join(err, counter.Close())
		}
		opts = append(opts, service.WithUpstream(fetch.NewCircuitBreakerFetcher(fetch.NewFetcher()), resolver))
	}

	return &Feed{
		Service: service.New(st, counter, urls, opts...),
		Metrics: m,
		URLs:    urls,
	}, nil
}

func newResolver(cfg config.UpstreamConfig) (*fetch.Resolver, error) {
	sources, err := cfg.SourceMap()
	if err != nil {
		return nil, err
	}
	r := fetch.NewResolver()
	for name, base := range sources {
		if err := r.RegisterSource(name, base); err != nil {
			return nil, fmt.Errorf("upstream source %q: %w", name, err)
		}
	}
	return r, nil
}

// Close releases the download counter and the upstream fetcher.
func (f *Feed) Close() error {
	return f.Service.Close()
}
