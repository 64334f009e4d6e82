// Package service composes the package store, download counter and document
// builder into the operations a feed exposes. It is the only layer that
// checks the API key and records metrics.
package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/git-pkgs/feed/client"
	"github.com/git-pkgs/feed/fetch"
	"github.com/git-pkgs/feed/internal/core"
	"github.com/git-pkgs/feed/internal/metrics"
	"github.com/git-pkgs/feed/internal/nuget"
	"github.com/git-pkgs/feed/internal/nuspec"
	"github.com/git-pkgs/feed/internal/store"
	"github.com/git-pkgs/feed/internal/version"
)

// ArchiveContentType is served with every package download.
const ArchiveContentType = "application/octet-stream"

// Service implements the feed operations.
type Service struct {
	store    *store.Store
	counter  core.DownloadCounter
	builder  *nuget.Builder
	apiKey   string
	logger   *zap.Logger
	metrics  *metrics.Metrics
	fetcher  fetch.Getter
	resolver *fetch.Resolver

	maxArchiveBytes int64
}

// Option configures a Service.
type Option func(*Service)

// WithAPIKey sets the shared secret for publish, delete and import.
// Without one those operations are always rejected.
func WithAPIKey(key string) Option {
	return func(s *Service) {
		s.apiKey = key
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithUpstream enables Import through g, resolving sources with r.
func WithUpstream(g fetch.Getter, r *fetch.Resolver) Option {
	return func(s *Service) {
		s.fetcher = g
		s.resolver = r
	}
}

// WithMaxArchiveBytes caps the size of imported archives.
func WithMaxArchiveBytes(n int64) Option {
	return func(s *Service) {
		s.maxArchiveBytes = n
	}
}

// New creates a Service serving documents linked under urls.
func New(st *store.Store, counter core.DownloadCounter, urls *client.FeedURLs, opts ...Option) *Service {
	s := &Service{
		store:           st,
		counter:         counter,
		builder:         nuget.NewBuilder(urls),
		logger:          zap.NewNop(),
		maxArchiveBytes: 50 << 20,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Builder returns the document builder.
func (s *Service) Builder() *nuget.Builder {
	return s.builder
}

// Store returns the package store.
func (s *Service) Store() *store.Store {
	return s.store
}

// Authorize compares apiKey with the configured key in constant time.
func (s *Service) Authorize(apiKey string) error {
	if s.apiKey == "" || apiKey == "" {
		return core.ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(apiKey), []byte(s.apiKey)) != 1 {
		return core.ErrUnauthorized
	}
	return nil
}

// Publish stores an archive under the identity derived from fileName.
func (s *Service) Publish(ctx context.Context, apiKey string, r io.Reader, fileName string) (core.Identity, error) {
	if err := s.Authorize(apiKey); err != nil {
		return core.Identity{}, err
	}
	var (
		ident core.Identity
		err   error
	)
	if _, perr := store.ParseFileName(fileName); store.IsMissingVersion(perr) {
		ident, err = s.saveDetected(ctx, r, perr)
	} else {
		ident, err = s.store.Save(ctx, r, fileName)
	}
	if err != nil {
		return core.Identity{}, err
	}

	s.metrics.PackagePublished()
	s.logger.Info("package published",
		zap.String("package_id", ident.ID),
		zap.String("version", ident.Version))

	// Extraction problems surface now rather than on the next listing.
	if art, err := s.store.Resolve(ident.ID, ident.Version); err == nil {
		if _, err := s.store.Metadata(ctx, *art); err != nil {
			s.metrics.ExtractionFailed()
			s.logger.Warn("published archive has no readable metadata",
				zap.String("package_id", ident.ID),
				zap.String("version", ident.Version),
				zap.Error(err))
		}
	}
	return ident, nil
}

// saveDetected stores an archive whose file name carries no version, as
// sent by clients that always push "package.nupkg". The identity is read
// from the descriptor; nameErr is returned when that is not possible.
func (s *Service) saveDetected(ctx context.Context, r io.Reader, nameErr error) (core.Identity, error) {
	tmp, err := os.CreateTemp("", "feed-push-*"+store.ArchiveExtension)
	if err != nil {
		return core.Identity{}, fmt.Errorf("spooling upload: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	size, err := io.Copy(tmp, r)
	if err != nil {
		return core.Identity{}, fmt.Errorf("spooling upload: %w", err)
	}
	md, err := nuspec.Read(tmp, size)
	if err != nil || md.ID == "" || md.Version == "" {
		return core.Identity{}, nameErr
	}
	ver, err := version.Normalize(md.Version)
	if err != nil {
		return core.Identity{}, &core.ValidationError{Field: "version", Value: md.Version, Reason: err.Error()}
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return core.Identity{}, fmt.Errorf("rewinding upload: %w", err)
	}
	return s.store.Save(ctx, tmp, md.ID+"."+ver+store.ArchiveExtension)
}

// Download is an open package archive. The caller closes Body.
type Download struct {
	Artifact    core.Artifact
	Body        *os.File
	ContentType string
	Count       int64
}

// Download opens an archive and counts the download. A counter failure is
// logged and does not fail the download.
func (s *Service) Download(ctx context.Context, id, ver string) (*Download, error) {
	art, f, err := s.store.Fetch(ctx, id, ver)
	if err != nil {
		return nil, err
	}

	d := &Download{Artifact: *art, Body: f, ContentType: ArchiveContentType}
	count, err := s.counter.Increment(ctx, art.Identity)
	if err != nil {
		s.logger.Error("download count not recorded",
			zap.String("package_id", art.ID),
			zap.String("version", art.Version),
			zap.Error(err))
	} else {
		d.Count = count
	}
	s.metrics.PackageDownloaded()
	return d, nil
}

// Delete removes one version. Its download count is kept.
func (s *Service) Delete(ctx context.Context, apiKey, id, ver string) error {
	if err := s.Authorize(apiKey); err != nil {
		return err
	}
	removed, err := s.store.Delete(ctx, id, ver)
	if err != nil {
		return err
	}
	if !removed {
		return &core.NotFoundError{Name: id, Version: ver}
	}

	s.metrics.PackagesDeleted(1)
	s.logger.Info("package version deleted",
		zap.String("package_id", id),
		zap.String("version", ver))
	return nil
}

// Purge removes every version of a package together with its download
// counts, returning the number of versions removed. Counts are dropped even
// when no version is stored any more.
func (s *Service) Purge(ctx context.Context, apiKey, id string) (int, error) {
	if err := s.Authorize(apiKey); err != nil {
		return 0, err
	}
	if err := store.ValidateID(id); err != nil {
		return 0, err
	}
	n, err := s.store.Purge(ctx, id)
	if err != nil {
		return 0, err
	}
	if err := s.counter.Purge(ctx, id); err != nil {
		return n, fmt.Errorf("purging download counts of %s: %w", id, err)
	}
	if n == 0 {
		return 0, &core.NotFoundError{Name: id}
	}

	s.metrics.PackagesDeleted(n)
	s.logger.Info("package purged", zap.String("package_id", id), zap.Int("versions", n))
	return n, nil
}

// Close releases the download counter and the upstream fetcher.
func (s *Service) Close() error {
	var errs []error
	if err := s.counter.Close(); err != nil {
		errs = append(errs, err)
	}
	if c, ok := s.fetcher.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
