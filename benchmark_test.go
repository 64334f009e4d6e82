package feed_test

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/git-pkgs/feed"
	"github.com/git-pkgs/feed/client"
	"github.com/git-pkgs/feed/internal/config"
	"github.com/git-pkgs/feed/internal/nuget"
	"github.com/git-pkgs/feed/internal/nuspec/nuspectest"
	"github.com/git-pkgs/feed/internal/version"
)

func benchFeed(b *testing.B, packages, versions int) *feed.Feed {
	b.Helper()
	cfg := config.Default()
	cfg.Storage.PackagesPath = b.TempDir()
	cfg.Downloads.Backend = "memory"
	cfg.Auth.APIKey = "key"
	cfg.Upstream.Enabled = false

	f, err := feed.Open(cfg, nil)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = f.Close() })

	ctx := context.Background()
	for i := 0; i < packages; i++ {
		for j := 0; j < versions; j++ {
			p := nuspectest.Package{
				ID:          fmt.Sprintf("Bench.Package%d", i),
				Version:     fmt.Sprintf("1.%d.0", j),
				Description: "benchmark package",
				Tags:        "bench",
			}
			if _, err := f.Service.Publish(ctx, "key", bytes.NewReader(p.Bytes()), p.FileName()); err != nil {
				b.Fatal(err)
			}
		}
	}
	return f
}

func BenchmarkPublish(b *testing.B) {
	f := benchFeed(b, 0, 0)
	ctx := context.Background()
	data := nuspectest.Package{ID: "Bench.Publish", Version: "1.0.0"}.Bytes()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = f.Service.Publish(ctx, "key", bytes.NewReader(data), "Bench.Publish.1.0.0.nupkg")
	}
}

func BenchmarkDownload_Parallel(b *testing.B) {
	f := benchFeed(b, 1, 1)
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			d, err := f.Service.Download(ctx, "bench.package0", "1.0.0")
			if err == nil {
				_ = d.Body.Close()
			}
		}
	})
}

func BenchmarkVersions(b *testing.B) {
	f := benchFeed(b, 1, 50)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = f.Service.Versions(ctx, "BENCH.PACKAGE0")
	}
}

func BenchmarkRegistration(b *testing.B) {
	f := benchFeed(b, 1, 100)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = f.Service.Registration(ctx, "Bench.Package0")
	}
}

func BenchmarkSearch(b *testing.B) {
	f := benchFeed(b, 50, 3)
	ctx := context.Background()
	q := nuget.SearchQuery{Query: "package1", Take: 20}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = f.Service.Search(ctx, q)
	}
}

func BenchmarkURLBuilder(b *testing.B) {
	urls := client.NewFeedURLs("https://nuget.example.com")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = urls.Registry("Newtonsoft.Json", "13.0.1")
		_ = urls.Download("Newtonsoft.Json", "13.0.1")
		_ = urls.PURL("Newtonsoft.Json", "13.0.1")
	}
}

func BenchmarkVersionSort(b *testing.B) {
	versions := make([]string, 0, 500)
	for i := 0; i < 500; i++ {
		versions = append(versions, fmt.Sprintf("%d.%d.%d", i%7, i%13, i))
		if i%10 == 0 {
			versions = append(versions, fmt.Sprintf("%d.0.0-beta.%d", i%7, i))
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = version.Sort(versions)
	}
}
