package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/git-pkgs/feed/internal/core"
	"github.com/git-pkgs/feed/internal/version"
)

// Resolve locates the archive for an identity. The exact path is tried
// first, then the id and version directories are matched case-insensitively.
// The returned artifact carries the casing found on disk.
func (s *Store) Resolve(id, ver string) (*core.Artifact, error) {
	if ValidateID(id) != nil {
		return nil, &core.NotFoundError{Name: id, Version: ver}
	}
	idName, err := s.ResolveID(id)
	if err != nil {
		return nil, notFoundOr(err, id, ver)
	}
	verName, err := s.resolveVersion(idName, ver)
	if err != nil {
		return nil, notFoundOr(err, id, ver)
	}

	dir := filepath.Join(s.root, idName, verName)
	file, err := archiveIn(dir)
	if err != nil {
		return nil, notFoundOr(err, id, ver)
	}

	path := filepath.Join(dir, file)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &core.NotFoundError{Name: id, Version: ver}
		}
		return nil, fmt.Errorf("stat archive: %w", err)
	}

	return &core.Artifact{
		Identity: core.Identity{ID: idName, Version: verName},
		Path:     path,
		FileName: file,
		Size:     info.Size(),
		ModTime:  info.ModTime(),
	}, nil
}

// ResolveID returns the on-disk directory name of a package id.
func (s *Store) ResolveID(id string) (string, error) {
	if ValidateID(id) != nil {
		return "", &core.NotFoundError{Name: id}
	}
	if isDir(filepath.Join(s.root, id)) {
		return id, nil
	}
	name, err := foldMatch(s.root, func(entry string) bool {
		return strings.EqualFold(entry, id)
	})
	if err != nil {
		return "", notFoundOr(err, id, "")
	}
	return name, nil
}

// resolveVersion returns the on-disk directory name of a version of the
// package stored under idName.
func (s *Store) resolveVersion(idName, ver string) (string, error) {
	want := ver
	if n, err := version.Normalize(ver); err == nil {
		want = n
	}
	if ValidateID(want) != nil {
		return "", &core.NotFoundError{Name: idName, Version: ver}
	}

	idDir := filepath.Join(s.root, idName)
	if isDir(filepath.Join(idDir, want)) {
		return want, nil
	}
	name, err := foldMatch(idDir, func(entry string) bool {
		if strings.EqualFold(entry, want) {
			return true
		}
		n, err := version.Normalize(entry)
		return err == nil && strings.EqualFold(n, want)
	})
	if err != nil {
		return "", notFoundOr(err, idName, ver)
	}
	return name, nil
}

// notFoundOr maps absence to a NotFoundError and passes any other
// failure through unchanged.
func notFoundOr(err error, id, ver string) error {
	if errors.Is(err, fs.ErrNotExist) {
		return &core.NotFoundError{Name: id, Version: ver}
	}
	return err
}

// foldMatch scans dir for the first subdirectory, in name order, accepted by match.
// It returns fs.ErrNotExist only when dir is missing or nothing matches.
func foldMatch(dir string, match func(string) bool) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fs.ErrNotExist
		}
		return "", fmt.Errorf("reading %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() && match(e.Name()) {
			return e.Name(), nil
		}
	}
	return "", fs.ErrNotExist
}

// archiveIn returns the archive file name held in a version directory.
func archiveIn(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fs.ErrNotExist
		}
		return "", fmt.Errorf("reading version directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || isTemp(e.Name()) {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ArchiveExtension) {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", fs.ErrNotExist
	}
	sort.Strings(names)
	return names[0], nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
