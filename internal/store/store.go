// Package store keeps package archives on the local filesystem under
// {root}/{id}/{version}/{fileName}.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/git-pkgs/feed/internal/core"
	"github.com/git-pkgs/feed/internal/nuspec"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644

	tempPrefix = ".upload-"
	tempSuffix = ".tmp"

	DefaultMetadataTTL = 10 * time.Minute
)

// Store is a filesystem package store. It is safe for concurrent use.
type Store struct {
	root      string
	overwrite bool
	logger    *zap.Logger
	cache     *gocache.Cache
	extract   func(path string) (*core.Metadata, error)
}

// Option configures a Store.
type Option func(*Store)

// WithOverwrite controls whether publishing an existing version replaces it.
// Overwriting is enabled by default.
func WithOverwrite(allow bool) Option {
	return func(s *Store) {
		s.overwrite = allow
	}
}

// WithLogger sets the logger used for degraded operations.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithMetadataTTL sets how long extracted metadata stays cached.
func WithMetadataTTL(d time.Duration) Option {
	return func(s *Store) {
		s.cache = gocache.New(d, 2*d)
	}
}

// WithExtractor replaces the archive metadata extractor.
func WithExtractor(fn func(path string) (*core.Metadata, error)) Option {
	return func(s *Store) {
		s.extract = fn
	}
}

// New creates a store rooted at root, creating the directory if needed.
func New(root string, opts ...Option) (*Store, error) {
	if root == "" {
		return nil, &core.ValidationError{Field: "packages path", Value: root, Reason: "empty"}
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving packages path: %w", err)
	}
	if err := os.MkdirAll(abs, dirPerm); err != nil {
		return nil, fmt.Errorf("creating packages path: %w", err)
	}

	s := &Store{
		root:      abs,
		overwrite: true,
		logger:    zap.NewNop(),
		cache:     gocache.New(DefaultMetadataTTL, 2*DefaultMetadataTTL),
		extract:   nuspec.Extract,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the absolute store root.
func (s *Store) Root() string {
	return s.root
}

// Save streams an archive into the store and returns its identity.
// The file name is validated before anything is written. The archive is
// written to a temporary file in the version directory and renamed into
// place, so readers never observe a partial archive.
func (s *Store) Save(ctx context.Context, r io.Reader, fileName string) (core.Identity, error) {
	ident, err := ParseFileName(fileName)
	if err != nil {
		return core.Identity{}, err
	}
	if err := ctx.Err(); err != nil {
		return core.Identity{}, err
	}

	// Reuse an existing id directory so differently-cased publishes share one package.
	existing, err := s.ResolveID(ident.ID)
	switch {
	case err == nil:
		ident.ID = existing
	case !errors.Is(err, core.ErrNotFound):
		return core.Identity{}, err
	}
	versionName := ident.Version
	if existing, err := s.resolveVersion(ident.ID, ident.Version); err == nil {
		versionName = existing
		if !s.overwrite {
			return core.Identity{}, &core.ConflictError{Identity: core.Identity{ID: ident.ID, Version: versionName}}
		}
	} else if !errors.Is(err, core.ErrNotFound) {
		return core.Identity{}, err
	}
	ident.Version = versionName

	dir := filepath.Join(s.root, ident.ID, versionName)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return core.Identity{}, fmt.Errorf("creating version directory: %w", err)
	}

	tmp := filepath.Join(dir, tempPrefix+uuid.NewString()+tempSuffix)
	if err := writeFile(ctx, tmp, r); err != nil {
		_ = os.Remove(tmp)
		return core.Identity{}, err
	}

	// A previous publish may have used a differently-cased file name.
	if old, err := archiveIn(dir); err == nil && old != fileName {
		_ = os.Remove(filepath.Join(dir, old))
	}

	dest := filepath.Join(dir, fileName)
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return core.Identity{}, fmt.Errorf("moving archive into place: %w", err)
	}

	s.logger.Debug("package saved",
		zap.String("package_id", ident.ID),
		zap.String("version", ident.Version),
		zap.String("path", dest))

	return ident, nil
}

func writeFile(ctx context.Context, path string, r io.Reader) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := io.Copy(f, &ctxReader{ctx: ctx, r: r}); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing archive: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("syncing archive: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing archive: %w", err)
	}
	return nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// Fetch opens the archive of a package version. The caller must close the file.
func (s *Store) Fetch(ctx context.Context, id, ver string) (*core.Artifact, *os.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	art, err := s.Resolve(id, ver)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(art.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, &core.NotFoundError{Name: id, Version: ver}
		}
		return nil, nil, fmt.Errorf("opening archive: %w", err)
	}
	return art, f, nil
}

// Exists reports whether an archive is stored for the identity.
func (s *Store) Exists(ctx context.Context, id, ver string) bool {
	if ctx.Err() != nil {
		return false
	}
	_, err := s.Resolve(id, ver)
	return err == nil
}

// Delete removes one package version. It returns false without touching the
// filesystem when the version is not stored.
func (s *Store) Delete(ctx context.Context, id, ver string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	art, err := s.Resolve(id, ver)
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := os.RemoveAll(filepath.Dir(art.Path)); err != nil {
		return false, fmt.Errorf("removing version directory: %w", err)
	}

	// Drop the id directory once its last version is gone.
	idDir := filepath.Join(s.root, art.ID)
	if entries, err := os.ReadDir(idDir); err == nil && len(entries) == 0 {
		_ = os.Remove(idDir)
	}

	s.logger.Debug("package version deleted",
		zap.String("package_id", art.ID),
		zap.String("version", art.Version))
	return true, nil
}

// Purge removes every version of a package and returns how many were removed.
func (s *Store) Purge(ctx context.Context, id string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	dirName, err := s.ResolveID(id)
	if errors.Is(err, core.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	versions, err := s.ListVersions(ctx, dirName)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return 0, err
	}
	if err := os.RemoveAll(filepath.Join(s.root, dirName)); err != nil {
		return 0, fmt.Errorf("removing package directory: %w", err)
	}

	s.logger.Info("package purged",
		zap.String("package_id", dirName),
		zap.Int("versions", len(versions)))
	return len(versions), nil
}

func isTemp(name string) bool {
	return strings.HasPrefix(name, tempPrefix) && strings.HasSuffix(name, tempSuffix)
}
