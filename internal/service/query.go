package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/git-pkgs/feed/internal/core"
	"github.com/git-pkgs/feed/internal/nuget"
	"github.com/git-pkgs/feed/internal/version"
)

// ServiceIndex returns the service index document.
func (s *Service) ServiceIndex() nuget.ServiceIndex {
	return s.builder.ServiceIndex()
}

// Versions returns the flat container version list of a package.
func (s *Service) Versions(ctx context.Context, id string) (nuget.VersionsIndex, error) {
	versions, err := s.store.ListVersions(ctx, id)
	if err != nil {
		return nuget.VersionsIndex{}, err
	}
	return s.builder.Versions(versions), nil
}

// Package describes one stored version.
func (s *Service) Package(ctx context.Context, id, ver string) (*core.PackageInfo, error) {
	art, err := s.store.Resolve(id, ver)
	if err != nil {
		return nil, err
	}
	infos, err := s.packageInfos(ctx, []core.Artifact{*art})
	if err != nil {
		return nil, err
	}
	return &infos[0], nil
}

// Registration builds the registration index of a package.
func (s *Service) Registration(ctx context.Context, id string) (*nuget.RegistrationIndex, error) {
	infos, err := s.packageVersions(ctx, id)
	if err != nil {
		return nil, err
	}
	reg := s.builder.Registration(infos[0].ID, infos)
	return &reg, nil
}

// RegistrationLeaf builds the registration leaf of one version.
func (s *Service) RegistrationLeaf(ctx context.Context, id, ver string) (*nuget.LeafDocument, error) {
	infos, err := s.packageVersions(ctx, id)
	if err != nil {
		return nil, err
	}
	want := ver
	if n, err := version.Normalize(ver); err == nil {
		want = n
	}
	for _, info := range infos {
		if strings.EqualFold(info.Version, want) {
			leaf := s.builder.Leaf(info, nuget.LatestVersion(infos))
			return &leaf, nil
		}
	}
	return nil, &core.NotFoundError{Name: id, Version: ver}
}

// Search runs a search query over every stored package.
func (s *Service) Search(ctx context.Context, q nuget.SearchQuery) (nuget.SearchResponse, error) {
	infos, err := s.all(ctx)
	if err != nil {
		return nuget.SearchResponse{}, err
	}
	return s.builder.Search(infos, q), nil
}

// Autocomplete returns the ids matching q.
func (s *Service) Autocomplete(ctx context.Context, q nuget.SearchQuery) (nuget.AutocompleteResponse, error) {
	infos, err := s.all(ctx)
	if err != nil {
		return nuget.AutocompleteResponse{}, err
	}
	return s.builder.Autocomplete(infos, q), nil
}

// AutocompleteVersions returns the versions of one package. An unknown
// package yields an empty list.
func (s *Service) AutocompleteVersions(ctx context.Context, id string, prerelease bool) (nuget.AutocompleteResponse, error) {
	versions, err := s.store.ListVersions(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		return nuget.AutocompleteResponse{Data: []string{}}, nil
	}
	if err != nil {
		return nuget.AutocompleteResponse{}, err
	}
	return s.builder.AutocompleteVersions(versions, prerelease), nil
}

// List returns every stored version.
func (s *Service) List(ctx context.Context) (nuget.ListResponse, error) {
	infos, err := s.all(ctx)
	if err != nil {
		return nuget.ListResponse{}, err
	}
	return s.builder.List(infos), nil
}

// ResolvePURL returns the stored identity a Package URL names. A PURL
// without a version resolves to the latest stored version.
func (s *Service) ResolvePURL(ctx context.Context, purl string) (core.Identity, error) {
	p, err := core.ParsePURL(purl)
	if err != nil {
		return core.Identity{}, err
	}
	ident := p.Identity()
	if ident.Version == "" {
		versions, err := s.store.ListVersions(ctx, ident.ID)
		if err != nil {
			return core.Identity{}, err
		}
		ident.Version = version.Latest(versions)
	}
	art, err := s.store.Resolve(ident.ID, ident.Version)
	if err != nil {
		return core.Identity{}, err
	}
	return art.Identity, nil
}

func (s *Service) all(ctx context.Context) ([]core.PackageInfo, error) {
	start := time.Now()
	arts, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	infos, err := s.packageInfos(ctx, arts)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveScan(start)
	return infos, nil
}

func (s *Service) packageVersions(ctx context.Context, id string) ([]core.PackageInfo, error) {
	versions, err := s.store.ListVersions(ctx, id)
	if err != nil {
		return nil, err
	}
	arts := make([]core.Artifact, 0, len(versions))
	for _, v := range versions {
		art, err := s.store.Resolve(id, v)
		if errors.Is(err, core.ErrNotFound) {
			// deleted since the listing
			continue
		}
		if err != nil {
			return nil, err
		}
		arts = append(arts, *art)
	}
	if len(arts) == 0 {
		return nil, &core.NotFoundError{Name: id}
	}
	return s.packageInfos(ctx, arts)
}

// packageInfos merges artifacts with their metadata and download counts.
// Artifacts whose metadata cannot be read are kept with empty fields.
func (s *Service) packageInfos(ctx context.Context, arts []core.Artifact) ([]core.PackageInfo, error) {
	results, err := s.store.MetadataAll(ctx, arts)
	if err != nil {
		return nil, err
	}
	counts, err := s.counter.Snapshot(ctx)
	if err != nil {
		s.logger.Error("download counts unavailable", zap.Error(err))
	}

	urls := s.builder.URLs()
	infos := make([]core.PackageInfo, len(results))
	for i, r := range results {
		ident := r.Artifact.Identity
		if n, err := version.Normalize(ident.Version); err == nil {
			ident.Version = n
		}
		purl := core.NewPURL(ident.ID, ident.Version)
		info := core.PackageInfo{
			ID:            ident.ID,
			Version:       ident.Version,
			FileName:      r.Artifact.FileName,
			Size:          r.Artifact.Size,
			Published:     r.Artifact.ModTime.UTC(),
			DownloadURL:   urls.PackageContent(ident.ID, ident.Version),
			DownloadCount: counts[ident.Key()],
			PURL:          purl.ToString(),
		}
		if r.Err != nil {
			s.metrics.ExtractionFailed()
		}
		if md := r.Metadata; md != nil {
			info.Title = md.Title
			info.Description = md.Description
			info.Summary = md.Summary
			info.Authors = md.Authors
			info.Tags = md.Tags
			info.ProjectURL = md.ProjectURL
			info.LicenseExpression = md.LicenseExpression
			info.LicenseURL = md.LicenseURL
		}
		infos[i] = info
	}
	return infos, nil
}
