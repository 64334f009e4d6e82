package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/git-pkgs/feed/client"
	"github.com/git-pkgs/feed/fetch"
	"github.com/git-pkgs/feed/internal/core"
	"github.com/git-pkgs/feed/internal/downloads"
	"github.com/git-pkgs/feed/internal/metrics"
	"github.com/git-pkgs/feed/internal/nuget"
	"github.com/git-pkgs/feed/internal/nuspec/nuspectest"
	"github.com/git-pkgs/feed/internal/store"
)

const testKey = "s3cret"

type fixture struct {
	svc     *Service
	store   *store.Store
	counter *downloads.Memory
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	counter := downloads.NewMemory()
	m := metrics.New()
	opts = append([]Option{WithAPIKey(testKey), WithMetrics(m)}, opts...)
	svc := New(st, counter, client.NewFeedURLs("https://feed.example.com"), opts...)
	t.Cleanup(func() { _ = svc.Close() })
	return &fixture{svc: svc, store: st, counter: counter, metrics: m}
}

func (f *fixture) publish(t *testing.T, p nuspectest.Package) core.Identity {
	t.Helper()
	ident, err := f.svc.Publish(context.Background(), testKey, bytes.NewReader(p.Bytes()), p.FileName())
	require.NoError(t, err)
	return ident
}

func (f *fixture) download(t *testing.T, id, ver string) []byte {
	t.Helper()
	d, err := f.svc.Download(context.Background(), id, ver)
	require.NoError(t, err)
	defer func() { _ = d.Body.Close() }()
	data, err := io.ReadAll(d.Body)
	require.NoError(t, err)
	return data
}

func pkg(id, ver string) nuspectest.Package {
	return nuspectest.Package{
		ID:          id,
		Version:     ver,
		Authors:     "Jane Doe, John Roe",
		Description: id + " library",
		Namespace:   nuspectest.Namespace,
	}
}

func TestAuthorize(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.svc.Authorize(testKey))
	assert.ErrorIs(t, f.svc.Authorize("wrong"), core.ErrUnauthorized)
	assert.ErrorIs(t, f.svc.Authorize(""), core.ErrUnauthorized)

	open := newFixture(t, WithAPIKey(""))
	assert.ErrorIs(t, open.svc.Authorize(""), core.ErrUnauthorized)
}

func TestPublishRequiresKeyBeforeTouchingStore(t *testing.T) {
	f := newFixture(t)
	p := pkg("Acme.Core", "1.0.0")
	_, err := f.svc.Publish(context.Background(), "wrong", bytes.NewReader(p.Bytes()), p.FileName())
	require.ErrorIs(t, err, core.ErrUnauthorized)

	arts, err := f.store.ListAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, arts)
}

func TestPublishDownloadRoundTrip(t *testing.T) {
	f := newFixture(t)
	p := pkg("Acme.Core", "1.2.3")
	ident := f.publish(t, p)
	assert.Equal(t, core.Identity{ID: "Acme.Core", Version: "1.2.3"}, ident)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Published))

	assert.Equal(t, p.Bytes(), f.download(t, "acme.core", "1.2.3"))

	count, err := f.counter.Get(context.Background(), ident)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestPublishValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Publish(context.Background(), testKey, strings.NewReader("x"), "readme.txt")
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestPublishUnreadableArchiveIsKept(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Publish(context.Background(), testKey, strings.NewReader("not a zip"), "Broken.1.0.0.nupkg")
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ExtractionFailures))

	info, err := f.svc.Package(context.Background(), "Broken", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "Broken", info.ID)
	assert.Empty(t, info.Description)
}

func TestDownloadMissing(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Download(context.Background(), "nope", "1.0.0")
	assert.ErrorIs(t, err, core.ErrNotFound)

	snap, err := f.counter.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap)
}

type failingCounter struct{ *downloads.Memory }

func (failingCounter) Increment(context.Context, core.Identity) (int64, error) {
	return 0, errors.New("disk full")
}

func TestDownloadSurvivesCounterFailure(t *testing.T) {
	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	svc := New(st, failingCounter{downloads.NewMemory()}, client.NewFeedURLs("http://localhost"), WithAPIKey(testKey))

	p := pkg("Foo", "1.0.0")
	_, err = svc.Publish(context.Background(), testKey, bytes.NewReader(p.Bytes()), p.FileName())
	require.NoError(t, err)

	d, err := svc.Download(context.Background(), "Foo", "1.0.0")
	require.NoError(t, err)
	_ = d.Body.Close()
	assert.Zero(t, d.Count)
}

func TestConcurrentDownloadsCountExactly(t *testing.T) {
	f := newFixture(t)
	f.publish(t, pkg("Foo", "1.0.0"))

	const n = 32
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := f.svc.Download(context.Background(), "foo", "1.0.0")
			if err != nil {
				errs <- err
				return
			}
			_ = d.Body.Close()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	info, err := f.svc.Package(context.Background(), "Foo", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, int64(n), info.DownloadCount)
}

func TestDeleteKeepsCounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ident := f.publish(t, pkg("Foo", "1.0.0"))
	f.publish(t, pkg("Foo", "2.0.0"))
	f.download(t, "Foo", "1.0.0")

	assert.ErrorIs(t, f.svc.Delete(ctx, "", "Foo", "1.0.0"), core.ErrUnauthorized)
	require.NoError(t, f.svc.Delete(ctx, testKey, "foo", "1.0.0"))
	assert.ErrorIs(t, f.svc.Delete(ctx, testKey, "foo", "1.0.0"), core.ErrNotFound)

	idx, err := f.svc.Versions(ctx, "Foo")
	require.NoError(t, err)
	assert.Equal(t, []string{"2.0.0"}, idx.Versions)

	count, err := f.counter.Get(ctx, ident)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Deleted))
}

func TestPurgeRemovesCounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ident := f.publish(t, pkg("Foo", "1.0.0"))
	f.publish(t, pkg("Foo", "1.1.0"))
	f.publish(t, pkg("Bar", "1.0.0"))
	f.download(t, "Foo", "1.0.0")
	f.download(t, "Bar", "1.0.0")

	n, err := f.svc.Purge(ctx, testKey, "FOO")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = f.svc.Versions(ctx, "Foo")
	assert.ErrorIs(t, err, core.ErrNotFound)

	count, err := f.counter.Get(ctx, ident)
	require.NoError(t, err)
	assert.Zero(t, count)

	count, err = f.counter.Get(ctx, core.Identity{ID: "Bar", Version: "1.0.0"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	_, err = f.svc.Purge(ctx, testKey, "Foo")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestVersionsOrderedByPrecedence(t *testing.T) {
	f := newFixture(t)
	for _, v := range []string{"2.0.0", "1.0.0", "1.0.0-beta", "10.0.0", "1.0.0-alpha"} {
		f.publish(t, pkg("Foo", v))
	}
	f.publish(t, pkg("Foo", "1.0.0"))

	idx, err := f.svc.Versions(context.Background(), "foo")
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0.0-alpha", "1.0.0-beta", "1.0.0", "2.0.0", "10.0.0"}, idx.Versions)
}

func TestRegistration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.publish(t, pkg("Acme.Core", "1.0.0"))
	f.publish(t, pkg("Acme.Core", "10.0.0"))
	f.publish(t, pkg("Acme.Core", "2.0.0"))
	f.download(t, "Acme.Core", "2.0.0")

	reg, err := f.svc.Registration(ctx, "ACME.CORE")
	require.NoError(t, err)
	require.Len(t, reg.Items, 1)
	page := reg.Items[0]
	assert.Equal(t, 3, page.Count)
	assert.Equal(t, "1.0.0", page.Lower)
	assert.Equal(t, "10.0.0", page.Upper)

	leaves := page.Items
	require.Len(t, leaves, 3)
	assert.Equal(t, "Acme.Core", leaves[0].CatalogEntry.PackageID)
	assert.Equal(t, "Acme.Core library", leaves[0].CatalogEntry.Description)
	assert.Equal(t, int64(1), leaves[1].CatalogEntry.Downloads)
	assert.True(t, leaves[2].CatalogEntry.IsLatestVersion)
	assert.Equal(t, "https://feed.example.com/v3-flatcontainer/acme.core/10.0.0/acme.core.10.0.0.nupkg", leaves[2].PackageContent)

	_, err = f.svc.Registration(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRegistrationLeaf(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.publish(t, pkg("Foo", "1.0.0"))
	f.publish(t, pkg("Foo", "1.1.0-RC.1"))

	leaf, err := f.svc.RegistrationLeaf(ctx, "foo", "1.1.0-rc.1")
	require.NoError(t, err)
	assert.Equal(t, "1.1.0-RC.1", leaf.CatalogEntry.Version)
	assert.True(t, leaf.CatalogEntry.IsLatestVersion)

	leaf, err = f.svc.RegistrationLeaf(ctx, "foo", "1.0.0")
	require.NoError(t, err)
	assert.False(t, leaf.CatalogEntry.IsLatestVersion)

	_, err = f.svc.RegistrationLeaf(ctx, "foo", "3.0.0")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestSearchExcludesPrerelease(t *testing.T) {
	f := newFixture(t)
	f.publish(t, pkg("TestA", "1.0.0"))
	f.publish(t, pkg("Other", "1.0.0-beta"))

	resp, err := f.svc.Search(context.Background(), nuget.SearchQuery{Query: "Test"})
	require.NoError(t, err)
	require.Equal(t, 1, resp.TotalHits)
	assert.Equal(t, "TestA", resp.Data[0].PackageID)

	resp, err = f.svc.Search(context.Background(), nuget.SearchQuery{Prerelease: true})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.TotalHits)
}

func TestAutocomplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.publish(t, pkg("Acme.Core", "1.0.0"))
	f.publish(t, pkg("Acme.Web", "1.0.0"))
	f.publish(t, pkg("Acme.Web", "2.0.0-beta"))
	f.publish(t, pkg("Zeta", "1.0.0"))

	resp, err := f.svc.Autocomplete(ctx, nuget.SearchQuery{Query: "acme"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Acme.Core", "Acme.Web"}, resp.Data)

	versions, err := f.svc.AutocompleteVersions(ctx, "acme.web", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0.0"}, versions.Data)

	versions, err = f.svc.AutocompleteVersions(ctx, "acme.web", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0.0", "2.0.0-beta"}, versions.Data)

	versions, err = f.svc.AutocompleteVersions(ctx, "unknown", true)
	require.NoError(t, err)
	assert.Empty(t, versions.Data)
}

func TestList(t *testing.T) {
	f := newFixture(t)
	f.publish(t, pkg("B", "1.0.0"))
	f.publish(t, pkg("a", "2.0.0"))
	f.publish(t, pkg("a", "1.0.0"))

	resp, err := f.svc.List(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, resp.TotalHits)
	got := make([]string, len(resp.Data))
	for i, item := range resp.Data {
		got[i] = item.ID + "@" + item.Version
	}
	assert.Equal(t, []string{"a@1.0.0", "a@2.0.0", "B@1.0.0"}, got)
	assert.Equal(t, "pkg:nuget/B@1.0.0", resp.Data[2].PURL)
	assert.Equal(t, "Jane Doe, John Roe", resp.Data[2].Authors)
}

func TestResolvePURL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.publish(t, pkg("Serilog", "2.0.0"))
	f.publish(t, pkg("Serilog", "10.0.0"))

	ident, err := f.svc.ResolvePURL(ctx, "pkg:nuget/serilog@2.0.0")
	require.NoError(t, err)
	assert.Equal(t, core.Identity{ID: "Serilog", Version: "2.0.0"}, ident)

	ident, err = f.svc.ResolvePURL(ctx, "pkg:nuget/Serilog")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0", ident.Version)

	_, err = f.svc.ResolvePURL(ctx, "pkg:npm/serilog@2.0.0")
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = f.svc.ResolvePURL(ctx, "pkg:nuget/Serilog@3.0.0")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestReindex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.publish(t, pkg("Good", "1.0.0"))
	f.publish(t, pkg("Good", "1.1.0"))
	_, err := f.svc.Publish(ctx, testKey, strings.NewReader("junk"), "Bad.1.0.0.nupkg")
	require.NoError(t, err)

	mismatched := pkg("Other", "9.9.9")
	_, err = f.svc.Publish(ctx, testKey, bytes.NewReader(mismatched.Bytes()), "Wrong.1.0.0.nupkg")
	require.NoError(t, err)

	report, err := f.svc.Reindex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Packages)
	assert.Equal(t, 4, report.Versions)
	require.Len(t, report.Problems, 2)
	assert.Equal(t, "Bad", report.Problems[0].Identity.ID)
	assert.Equal(t, "Wrong", report.Problems[1].Identity.ID)
}

func upstream(t *testing.T, packages ...nuspectest.Package) *httptest.Server {
	t.Helper()
	byPath := make(map[string][]byte)
	versions := make(map[string][]string)
	for _, p := range packages {
		lid, lv := strings.ToLower(p.ID), strings.ToLower(p.Version)
		byPath["/"+lid+"/"+lv+"/"+lid+"."+lv+".nupkg"] = p.Bytes()
		versions[lid] = append(versions[lid], `"`+lv+`"`)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if data, ok := byPath[r.URL.Path]; ok {
			_, _ = w.Write(data)
			return
		}
		if id, ok := strings.CutSuffix(strings.TrimPrefix(r.URL.Path, "/"), "/index.json"); ok {
			if vs, ok := versions[id]; ok {
				_, _ = w.Write([]byte(`{"versions":[` + strings.Join(vs, ",") + `]}`))
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestImport(t *testing.T) {
	srv := upstream(t,
		pkg("Newtonsoft.Json", "12.0.3"),
		pkg("Newtonsoft.Json", "13.0.1"),
		pkg("Newtonsoft.Json", "14.0.0-beta1"),
	)
	f := newFixture(t, WithUpstream(fetch.NewFetcher(), fetch.NewResolver()))
	ctx := context.Background()

	ident, err := f.svc.Import(ctx, testKey, srv.URL, "Newtonsoft.Json", "12.0.3")
	require.NoError(t, err)
	assert.Equal(t, core.Identity{ID: "Newtonsoft.Json", Version: "12.0.3"}, ident)

	ident, err = f.svc.Import(ctx, testKey, srv.URL, "Newtonsoft.Json", "")
	require.NoError(t, err)
	assert.Equal(t, "13.0.1", ident.Version)

	idx, err := f.svc.Versions(ctx, "newtonsoft.json")
	require.NoError(t, err)
	assert.Equal(t, []string{"12.0.3", "13.0.1"}, idx.Versions)

	info, err := f.svc.Package(ctx, "Newtonsoft.Json", "13.0.1")
	require.NoError(t, err)
	assert.Equal(t, "Newtonsoft.Json library", info.Description)

	_, err = f.svc.Import(ctx, testKey, srv.URL, "Newtonsoft.Json", "1.0.0")
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = f.svc.Import(ctx, "", srv.URL, "Newtonsoft.Json", "12.0.3")
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	_, err = f.svc.Import(ctx, testKey, "myget", "Newtonsoft.Json", "12.0.3")
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestImportSizeLimit(t *testing.T) {
	srv := upstream(t, pkg("Big", "1.0.0"))
	f := newFixture(t,
		WithUpstream(fetch.NewFetcher(), fetch.NewResolver()),
		WithMaxArchiveBytes(16))

	_, err := f.svc.Import(context.Background(), testKey, srv.URL, "Big", "1.0.0")
	assert.ErrorIs(t, err, ErrArchiveTooLarge)

	_, err = f.svc.Versions(context.Background(), "Big")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestImportDisabled(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Import(context.Background(), testKey, fetch.NuGetOrg, "Foo", "1.0.0")
	assert.ErrorIs(t, err, ErrImportDisabled)
}

func TestLimitedReader(t *testing.T) {
	data, err := io.ReadAll(&limitedReader{r: strings.NewReader("12345"), left: 5})
	require.NoError(t, err)
	assert.Equal(t, "12345", string(data))

	_, err = io.ReadAll(&limitedReader{r: strings.NewReader("123456"), left: 5})
	assert.ErrorIs(t, err, ErrArchiveTooLarge)
}

func TestPublishDetectsIdentityFromDescriptor(t *testing.T) {
	f := newFixture(t)
	p := pkg("Acme.Cli", "3.1.0-preview.2")
	ident, err := f.svc.Publish(context.Background(), testKey, bytes.NewReader(p.Bytes()), "package.nupkg")
	require.NoError(t, err)
	assert.Equal(t, core.Identity{ID: "Acme.Cli", Version: "3.1.0-preview.2"}, ident)
	assert.Equal(t, p.Bytes(), f.download(t, "acme.cli", "3.1.0-preview.2"))

	_, err = f.svc.Publish(context.Background(), testKey, strings.NewReader("junk"), "package.nupkg")
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestPublishDetectionOnlyForVersionlessNames(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := pkg("Acme.Cli", "1.0.0")

	for _, name := range []string{
		strings.Repeat("A", 101) + ".1.0.0.nupkg",
		"1.0.0.nupkg",
		"Bad|Name.1.0.0.nupkg",
	} {
		_, err := f.svc.Publish(ctx, testKey, bytes.NewReader(p.Bytes()), name)
		assert.ErrorIs(t, err, core.ErrValidation, name)
	}

	list, err := f.svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list.Data)
}

func TestStorageFailureIsNotNotFound(t *testing.T) {
	f := newFixture(t)
	f.publish(t, pkg("Foo", "1.0.0"))
	root := f.svc.Store().Root()
	require.NoError(t, os.RemoveAll(root))
	require.NoError(t, os.WriteFile(root, []byte("x"), 0o644))
	ctx := context.Background()

	_, err := f.svc.Download(ctx, "Foo", "1.0.0")
	require.Error(t, err)
	assert.NotErrorIs(t, err, core.ErrNotFound)

	_, err = f.svc.Versions(ctx, "Foo")
	require.Error(t, err)
	assert.NotErrorIs(t, err, core.ErrNotFound)

	err = f.svc.Delete(ctx, testKey, "Foo", "1.0.0")
	require.Error(t, err)
	assert.NotErrorIs(t, err, core.ErrNotFound)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, WithUpstream(fetch.NewCircuitBreakerFetcher(fetch.NewFetcher()), fetch.NewResolver()))
	h := f.svc.Health(context.Background())
	assert.True(t, h.Healthy())
	assert.Equal(t, "healthy", h.Status)
	assert.Empty(t, h.Upstreams)
}

func TestImportPURL(t *testing.T) {
	srv := upstream(t, pkg("Serilog", "3.1.0"))
	f := newFixture(t, WithUpstream(fetch.NewFetcher(), fetch.NewResolver()))

	ident, err := f.svc.ImportPURL(context.Background(), testKey, "pkg:nuget/Serilog@3.1.0?repository_url="+srv.URL)
	require.NoError(t, err)
	assert.Equal(t, core.Identity{ID: "Serilog", Version: "3.1.0"}, ident)

	_, err = f.svc.ImportPURL(context.Background(), testKey, "pkg:npm/left-pad@1.0.0")
	assert.ErrorIs(t, err, core.ErrValidation)
}
