package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/git-pkgs/feed/internal/core"
	"github.com/git-pkgs/feed/internal/version"
)

// Problem is a stored artifact that does not describe itself correctly.
type Problem struct {
	Identity core.Identity
	Path     string
	Reason   string
}

// Report is the result of Reindex.
type Report struct {
	Packages int
	Versions int
	Problems []Problem
	Duration time.Duration
}

// Reindex scans the whole store, re-extracts every archive's metadata and
// reports archives that cannot be read or whose descriptor names a
// different identity than the directory holding it.
func (s *Service) Reindex(ctx context.Context) (*Report, error) {
	start := time.Now()
	arts, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	results, err := s.store.MetadataAll(ctx, arts)
	if err != nil {
		return nil, err
	}

	report := &Report{Versions: len(arts)}
	seen := make(map[string]struct{})
	for _, r := range results {
		seen[strings.ToLower(r.Artifact.ID)] = struct{}{}
		switch {
		case r.Err != nil:
			s.metrics.ExtractionFailed()
			report.Problems = append(report.Problems, Problem{
				Identity: r.Artifact.Identity,
				Path:     r.Artifact.Path,
				Reason:   r.Err.Error(),
			})
		case r.Metadata.ID != "" && !strings.EqualFold(r.Metadata.ID, r.Artifact.ID):
			report.Problems = append(report.Problems, Problem{
				Identity: r.Artifact.Identity,
				Path:     r.Artifact.Path,
				Reason:   "descriptor id " + r.Metadata.ID + " does not match",
			})
		case r.Metadata.Version != "" && !sameVersion(r.Metadata.Version, r.Artifact.Version):
			report.Problems = append(report.Problems, Problem{
				Identity: r.Artifact.Identity,
				Path:     r.Artifact.Path,
				Reason:   "descriptor version " + r.Metadata.Version + " does not match",
			})
		}
	}
	report.Packages = len(seen)
	report.Duration = time.Since(start)
	s.metrics.ObserveScan(start)

	s.logger.Info("store reindexed",
		zap.Int("packages", report.Packages),
		zap.Int("versions", report.Versions),
		zap.Int("problems", len(report.Problems)),
		zap.Duration("duration", report.Duration))
	return report, nil
}

func sameVersion(a, b string) bool {
	c, err := version.Compare(a, b)
	if err != nil {
		return strings.EqualFold(a, b)
	}
	return c == 0
}
