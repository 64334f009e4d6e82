package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/git-pkgs/feed/internal/core"
	"github.com/git-pkgs/feed/internal/nuspec/nuspectest"
)

func newStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := New(t.TempDir(), opts...)
	require.NoError(t, err)
	return s
}

func save(t *testing.T, s *Store, p nuspectest.Package) core.Identity {
	t.Helper()
	ident, err := s.Save(context.Background(), bytes.NewReader(p.Bytes()), p.FileName())
	require.NoError(t, err)
	return ident
}

func TestSaveFetchRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	pkg := nuspectest.Package{ID: "Contoso.Utils", Version: "1.2.3", Description: "helpers"}

	ident := save(t, s, pkg)
	require.Equal(t, core.Identity{ID: "Contoso.Utils", Version: "1.2.3"}, ident)

	art, f, err := s.Fetch(ctx, "contoso.utils", "1.2.3")
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	got, err := io.ReadAll(f)
	require.NoError(t, err)
	require.Equal(t, pkg.Bytes(), got)
	require.Equal(t, "Contoso.Utils", art.ID)
	require.Equal(t, pkg.FileName(), art.FileName)
	require.Equal(t, filepath.Join(s.Root(), "Contoso.Utils", "1.2.3", pkg.FileName()), art.Path)
}

func TestSaveRejectsBadNames(t *testing.T) {
	s := newStore(t)
	_, err := s.Save(context.Background(), bytes.NewReader([]byte("x")), "notes.txt")
	require.ErrorIs(t, err, core.ErrValidation)

	entries, err := os.ReadDir(s.Root())
	require.NoError(t, err)
	require.Empty(t, entries, "validation failure must not touch the store")
}

func TestRepublishOverwrites(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	first := []byte("first archive")
	second := []byte("second archive, longer")
	_, err := s.Save(ctx, bytes.NewReader(first), "Dup.1.0.0.nupkg")
	require.NoError(t, err)
	_, err = s.Save(ctx, bytes.NewReader(second), "dup.1.0.0.nupkg")
	require.NoError(t, err)

	versions, err := s.ListVersions(ctx, "DUP")
	require.NoError(t, err)
	require.Equal(t, []string{"1.0.0"}, versions)

	_, f, err := s.Fetch(ctx, "Dup", "1.0.0")
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	got, err := io.ReadAll(f)
	require.NoError(t, err)
	require.Equal(t, second, got)

	files, err := os.ReadDir(filepath.Join(s.Root(), "Dup", "1.0.0"))
	require.NoError(t, err)
	require.Len(t, files, 1)
}

func TestRepublishConflictWhenOverwriteDisabled(t *testing.T) {
	s := newStore(t, WithOverwrite(false))
	ctx := context.Background()

	_, err := s.Save(ctx, bytes.NewReader([]byte("a")), "Fixed.1.0.0.nupkg")
	require.NoError(t, err)
	_, err = s.Save(ctx, bytes.NewReader([]byte("b")), "Fixed.1.0.0.nupkg")
	require.ErrorIs(t, err, core.ErrConflict)
}

func TestListVersionsOrdering(t *testing.T) {
	s := newStore(t)
	for _, v := range []string{"2.0.0", "1.0.0", "1.0.0-beta", "1.0.0-alpha", "10.0.0"} {
		save(t, s, nuspectest.Package{ID: "Ordered", Version: v})
	}

	// Stray directories are ignored.
	require.NoError(t, os.MkdirAll(filepath.Join(s.Root(), "Ordered", "not-a-version"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "Ordered", "not-a-version", "x.nupkg"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(s.Root(), "Ordered", "3.0.0"), 0o755))

	versions, err := s.ListVersions(context.Background(), "ordered")
	require.NoError(t, err)
	require.Equal(t, []string{"1.0.0-alpha", "1.0.0-beta", "1.0.0", "2.0.0", "10.0.0"}, versions)
}

func TestListVersionsUnknown(t *testing.T) {
	s := newStore(t)
	_, err := s.ListVersions(context.Background(), "missing")
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestDelete(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	save(t, s, nuspectest.Package{ID: "Gone", Version: "1.0.0"})
	save(t, s, nuspectest.Package{ID: "Gone", Version: "2.0.0"})

	ok, err := s.Delete(ctx, "gone", "1.0.0")
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, s.Exists(ctx, "Gone", "1.0.0"))
	require.True(t, s.Exists(ctx, "Gone", "2.0.0"))

	ok, err = s.Delete(ctx, "Gone", "2.0.0")
	require.NoError(t, err)
	require.True(t, ok)
	_, err = os.Stat(filepath.Join(s.Root(), "Gone"))
	require.True(t, errors.Is(err, os.ErrNotExist), "empty id directory should be removed")
}

func TestDeleteMissingIsNoop(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	save(t, s, nuspectest.Package{ID: "Keep", Version: "1.0.0"})

	before, err := s.ListAll(ctx)
	require.NoError(t, err)

	ok, err := s.Delete(ctx, "Keep", "9.9.9")
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = s.Delete(ctx, "Nobody", "1.0.0")
	require.NoError(t, err)
	require.False(t, ok)

	after, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestPurge(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	save(t, s, nuspectest.Package{ID: "Purged", Version: "1.0.0"})
	save(t, s, nuspectest.Package{ID: "Purged", Version: "1.1.0"})
	save(t, s, nuspectest.Package{ID: "Other", Version: "1.0.0"})

	n, err := s.Purge(ctx, "PURGED")
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.False(t, s.Exists(ctx, "Purged", "1.0.0"))
	require.True(t, s.Exists(ctx, "Other", "1.0.0"))

	n, err = s.Purge(ctx, "Purged")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestResolveCaseInsensitive(t *testing.T) {
	s := newStore(t)
	save(t, s, nuspectest.Package{ID: "MixedCase", Version: "1.0.0-RC.1"})

	art, err := s.Resolve("mixedcase", "1.0.0-rc.1")
	require.NoError(t, err)
	require.Equal(t, "MixedCase", art.ID)
	require.Equal(t, "1.0.0-RC.1", art.Version)

	_, err = s.Resolve("mixedcase", "2.0.0")
	require.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.Resolve("..", "1.0.0")
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestBrokenRootIsNotNotFound(t *testing.T) {
	s := newStore(t)
	save(t, s, nuspectest.Package{ID: "Foo", Version: "1.0.0"})

	require.NoError(t, os.RemoveAll(s.Root()))
	require.NoError(t, os.WriteFile(s.Root(), []byte("not a directory"), 0o644))
	ctx := context.Background()

	_, err := s.Resolve("Foo", "1.0.0")
	require.Error(t, err)
	require.NotErrorIs(t, err, core.ErrNotFound)

	_, _, err = s.Fetch(ctx, "foo", "1.0.0")
	require.Error(t, err)
	require.NotErrorIs(t, err, core.ErrNotFound)

	_, err = s.ListVersions(ctx, "Foo")
	require.Error(t, err)
	require.NotErrorIs(t, err, core.ErrNotFound)

	deleted, err := s.Delete(ctx, "Foo", "1.0.0")
	require.Error(t, err)
	require.False(t, deleted)

	_, err = s.Purge(ctx, "Foo")
	require.Error(t, err)
	require.NotErrorIs(t, err, core.ErrNotFound)

	p := nuspectest.Package{ID: "Bar", Version: "1.0.0"}
	_, err = s.Save(ctx, bytes.NewReader(p.Bytes()), p.FileName())
	require.Error(t, err)
	require.NotErrorIs(t, err, core.ErrValidation)
}

func TestListAll(t *testing.T) {
	s := newStore(t)
	save(t, s, nuspectest.Package{ID: "beta", Version: "2.0.0"})
	save(t, s, nuspectest.Package{ID: "Alpha", Version: "10.0.0"})
	save(t, s, nuspectest.Package{ID: "Alpha", Version: "9.0.0"})

	// Leftover uploads are not listed.
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "beta", "2.0.0", tempPrefix+"x"+tempSuffix), []byte("x"), 0o644))

	arts, err := s.ListAll(context.Background())
	require.NoError(t, err)
	var got []core.Identity
	for _, a := range arts {
		got = append(got, a.Identity)
	}
	require.Equal(t, []core.Identity{
		{ID: "Alpha", Version: "9.0.0"},
		{ID: "Alpha", Version: "10.0.0"},
		{ID: "beta", Version: "2.0.0"},
	}, got)
}

func TestListAllCancelled(t *testing.T) {
	s := newStore(t)
	save(t, s, nuspectest.Package{ID: "A", Version: "1.0.0"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.ListAll(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestConcurrentPublishSameVersion(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data := bytes.Repeat([]byte{byte('a' + i)}, 4096)
			_, err := s.Save(ctx, bytes.NewReader(data), "Race.1.0.0.nupkg")
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	_, f, err := s.Fetch(ctx, "Race", "1.0.0")
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	got, err := io.ReadAll(f)
	require.NoError(t, err)
	require.Len(t, got, 4096)
	for _, b := range got {
		require.Equal(t, got[0], b, "archive must be one complete write")
	}

	versions, err := s.ListVersions(ctx, "Race")
	require.NoError(t, err)
	require.Equal(t, []string{"1.0.0"}, versions)
}

func TestMetadataCached(t *testing.T) {
	calls := 0
	s := newStore(t, WithExtractor(func(path string) (*core.Metadata, error) {
		calls++
		return &core.Metadata{ID: "Cached"}, nil
	}))
	ctx := context.Background()
	save(t, s, nuspectest.Package{ID: "Cached", Version: "1.0.0"})

	art, err := s.Resolve("Cached", "1.0.0")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		md, err := s.Metadata(ctx, *art)
		require.NoError(t, err)
		require.Equal(t, "Cached", md.ID)
	}
	require.Equal(t, 1, calls)
}

func TestMetadataAllDegrades(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	save(t, s, nuspectest.Package{ID: "Good", Version: "1.0.0", Description: "fine"})
	_, err := s.Save(ctx, bytes.NewReader([]byte("not a zip")), "Broken.1.0.0.nupkg")
	require.NoError(t, err)

	arts, err := s.ListAll(ctx)
	require.NoError(t, err)
	results, err := s.MetadataAll(ctx, arts)
	require.NoError(t, err)
	require.Len(t, results, 2)

	require.Equal(t, "Broken", results[0].Artifact.ID)
	require.ErrorIs(t, results[0].Err, core.ErrExtraction)
	require.Nil(t, results[0].Metadata)

	require.Equal(t, "Good", results[1].Artifact.ID)
	require.NoError(t, results[1].Err)
	require.Equal(t, "fine", results[1].Metadata.Description)
}
