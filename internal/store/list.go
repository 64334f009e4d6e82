package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/charlievieth/fastwalk"
	"go.uber.org/zap"

	"github.com/git-pkgs/feed/internal/core"
	"github.com/git-pkgs/feed/internal/version"
)

// ListVersions returns the normalized versions stored for a package in
// ascending precedence. Directories without an archive or whose name is not
// a valid version are skipped.
func (s *Store) ListVersions(ctx context.Context, id string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	idName, err := s.ResolveID(id)
	if err != nil {
		return nil, err
	}

	idDir := filepath.Join(s.root, idName)
	entries, err := os.ReadDir(idDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &core.NotFoundError{Name: id}
		}
		return nil, fmt.Errorf("reading package directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := archiveIn(filepath.Join(idDir, e.Name())); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		names = append(names, e.Name())
	}

	sorted, invalid := version.Sort(names)
	for _, name := range invalid {
		s.logger.Warn("skipping unparseable version directory",
			zap.String("package_id", idName),
			zap.String("version", name))
	}
	if len(sorted) == 0 {
		return nil, &core.NotFoundError{Name: id}
	}
	return sorted, nil
}

// ListAll returns every stored archive ordered by id and then by version
// precedence. Entries removed while the scan runs are skipped.
func (s *Store) ListAll(ctx context.Context) ([]core.Artifact, error) {
	var (
		mu    sync.Mutex
		found = make(map[string]core.Artifact)
	)

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, s.root, func(p string, d os.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}

		rel, relErr := filepath.Rel(s.root, p)
		if relErr != nil || rel == "." {
			return nil
		}
		parts := strings.Split(rel, string(filepath.Separator))

		if d.IsDir() {
			if len(parts) > 2 {
				return fs.SkipDir
			}
			return nil
		}
		if len(parts) != 3 || isTemp(parts[2]) || !strings.EqualFold(filepath.Ext(parts[2]), ArchiveExtension) {
			return nil
		}

		normalized, verr := version.Normalize(parts[1])
		if verr != nil {
			return nil
		}
		info, ierr := d.Info()
		if ierr != nil {
			return nil
		}

		art := core.Artifact{
			Identity: core.Identity{ID: parts[0], Version: normalized},
			Path:     p,
			FileName: parts[2],
			Size:     info.Size(),
			ModTime:  info.ModTime(),
		}

		mu.Lock()
		defer mu.Unlock()
		key := art.Key()
		if prev, ok := found[key]; !ok || art.FileName < prev.FileName {
			found[key] = art
		}
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("scanning packages: %w", err)
	}

	out := make([]core.Artifact, 0, len(found))
	for _, art := range found {
		out = append(out, art)
	}
	SortArtifacts(out)
	return out, nil
}

// SortArtifacts orders artifacts by case-insensitive id, then by version precedence.
func SortArtifacts(arts []core.Artifact) {
	sort.SliceStable(arts, func(i, j int) bool {
		a, b := strings.ToLower(arts[i].ID), strings.ToLower(arts[j].ID)
		if a != b {
			return a < b
		}
		c, err := version.Compare(arts[i].Version, arts[j].Version)
		if err != nil {
			return arts[i].Version < arts[j].Version
		}
		return c < 0
	})
}
