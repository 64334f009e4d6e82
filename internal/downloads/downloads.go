// Package downloads records how often each package version is downloaded.
//
// Two backends are registered with core.NewCounter:
//
//	counter, err := core.NewCounter("sqlite", "/var/nuget/downloads.db")
//	counter, err := core.NewCounter("memory", "")
package downloads

import (
	"strings"

	"github.com/git-pkgs/feed/internal/core"
	"github.com/git-pkgs/feed/internal/version"
)

func init() {
	core.RegisterCounter("sqlite", func(dsn string) (core.DownloadCounter, error) {
		return OpenSQLite(dsn)
	})
	core.RegisterCounter("memory", func(string) (core.DownloadCounter, error) {
		return NewMemory(), nil
	})
}

// key splits an identity into the stored id and version columns.
// Versions are normalized when they parse so 1.0.0 and 1.0.0+meta share a count.
func key(id core.Identity) (string, string) {
	v := id.Version
	if n, err := version.Normalize(v); err == nil {
		v = n
	}
	return strings.ToLower(id.ID), strings.ToLower(v)
}
