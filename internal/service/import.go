package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/git-pkgs/feed/fetch"
	"github.com/git-pkgs/feed/internal/core"
	"github.com/git-pkgs/feed/internal/store"
	"github.com/git-pkgs/feed/internal/version"
)

// ErrImportDisabled is returned by Import when no upstream is configured.
var ErrImportDisabled = errors.New("import from upstream sources is not configured")

// ErrArchiveTooLarge is returned when an upstream archive exceeds the size limit.
var ErrArchiveTooLarge = errors.New("archive exceeds size limit")

// Import copies a package version from an upstream source into the store.
// An empty version imports the latest stable upstream version, or the
// latest prerelease when the package has no stable version.
func (s *Service) Import(ctx context.Context, apiKey, source, id, ver string) (core.Identity, error) {
	if err := s.Authorize(apiKey); err != nil {
		return core.Identity{}, err
	}
	if s.fetcher == nil || s.resolver == nil {
		return core.Identity{}, ErrImportDisabled
	}
	if err := store.ValidateID(id); err != nil {
		return core.Identity{}, err
	}

	if ver == "" {
		latest, err := s.upstreamLatest(ctx, source, id)
		if err != nil {
			return core.Identity{}, err
		}
		ver = latest
	}
	normalized, err := version.Normalize(ver)
	if err != nil {
		return core.Identity{}, &core.ValidationError{Field: "version", Value: ver, Reason: err.Error()}
	}

	info, err := s.resolver.Resolve(source, id, normalized)
	if err != nil {
		return core.Identity{}, &core.ValidationError{Field: "source", Value: source, Reason: err.Error()}
	}

	resp, err := s.fetcher.Get(ctx, info.URL)
	if errors.Is(err, fetch.ErrNotFound) {
		return core.Identity{}, &core.NotFoundError{Name: id, Version: normalized}
	}
	if err != nil {
		return core.Identity{}, fmt.Errorf("downloading %s: %w", info.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.Size > s.maxArchiveBytes {
		return core.Identity{}, fmt.Errorf("%w: %d bytes", ErrArchiveTooLarge, resp.Size)
	}

	fileName := id + "." + normalized + store.ArchiveExtension
	body := &limitedReader{r: resp.Body, left: s.maxArchiveBytes}
	ident, err := s.store.Save(ctx, body, fileName)
	if err != nil {
		return core.Identity{}, err
	}

	s.metrics.PackagePublished()
	s.logger.Info("package imported",
		zap.String("package_id", ident.ID),
		zap.String("version", ident.Version),
		zap.String("source", source))
	return ident, nil
}

func (s *Service) upstreamLatest(ctx context.Context, source, id string) (string, error) {
	url, err := s.resolver.VersionsURL(source, id)
	if err != nil {
		return "", &core.ValidationError{Field: "source", Value: source, Reason: err.Error()}
	}
	versions, err := fetch.FetchVersions(ctx, s.fetcher, url)
	if errors.Is(err, fetch.ErrNotFound) {
		return "", &core.NotFoundError{Name: id}
	}
	if err != nil {
		return "", fmt.Errorf("listing upstream versions of %s: %w", id, err)
	}
	if latest := version.LatestStable(versions); latest != "" {
		return latest, nil
	}
	if latest := version.Latest(versions); latest != "" {
		return latest, nil
	}
	return "", &core.NotFoundError{Name: id}
}

// limitedReader fails once more than left bytes have been read, unlike
// io.LimitReader which truncates silently.
type limitedReader struct {
	r    io.Reader
	left int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.left < 0 {
		return 0, ErrArchiveTooLarge
	}
	if int64(len(p)) > l.left+1 {
		p = p[:l.left+1]
	}
	n, err := l.r.Read(p)
	l.left -= int64(n)
	if l.left < 0 {
		return n, ErrArchiveTooLarge
	}
	return n, err
}

// ImportPURL imports the package a Package URL names. The repository_url
// qualifier selects the upstream flat container; without it the package is
// taken from nuget.org.
func (s *Service) ImportPURL(ctx context.Context, apiKey, purl string) (core.Identity, error) {
	if err := s.Authorize(apiKey); err != nil {
		return core.Identity{}, err
	}
	p, err := core.ParsePURL(purl)
	if err != nil {
		return core.Identity{}, err
	}
	source := p.RepositoryURL()
	if source == "" {
		source = fetch.NuGetOrg
	}
	return s.Import(ctx, apiKey, source, p.Name, p.Version)
}
