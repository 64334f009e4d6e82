package store

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"go.uber.org/zap"

	"github.com/git-pkgs/feed/internal/core"
)

// DefaultConcurrency bounds parallel metadata extraction.
const DefaultConcurrency = 8

func cacheKey(a core.Artifact) string {
	return fmt.Sprintf("%s|%d|%d", a.Path, a.Size, a.ModTime.UnixNano())
}

// Metadata returns the descriptor metadata of an artifact. Results are
// cached per path, size and modification time.
func (s *Store) Metadata(ctx context.Context, a core.Artifact) (*core.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := cacheKey(a)
	if v, ok := s.cache.Get(key); ok {
		if md, ok := v.(*core.Metadata); ok {
			return md, nil
		}
	}

	md, err := s.extract(a.Path)
	if err != nil {
		return nil, err
	}
	s.cache.SetDefault(key, md)
	return md, nil
}

// MetadataResult pairs an artifact with its metadata or the extraction error.
type MetadataResult struct {
	Artifact core.Artifact
	Metadata *core.Metadata
	Err      error
}

// MetadataAll extracts metadata for many artifacts concurrently. Extraction
// failures are reported per entry and never abort the batch; only context
// cancellation does.
func (s *Store) MetadataAll(ctx context.Context, arts []core.Artifact) ([]MetadataResult, error) {
	results := make([]MetadataResult, len(arts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(DefaultConcurrency)
	for i := range arts {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			md, err := s.Metadata(gctx, arts[i])
			results[i] = MetadataResult{Artifact: arts[i], Metadata: md, Err: err}
			if err != nil {
				s.logger.Warn("metadata extraction failed",
					zap.String("package_id", arts[i].ID),
					zap.String("version", arts[i].Version),
					zap.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
