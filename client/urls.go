// Package client builds the public URLs a feed advertises to NuGet clients.
package client

import (
	"net/url"
	"strings"

	"github.com/git-pkgs/feed/internal/core"
)

// URLBuilder constructs URLs for a package version.
type URLBuilder interface {
	Registry(name, version string) string
	Download(name, version string) string
	Documentation(name, version string) string
	PURL(name, version string) string
}

// BaseURLs provides a default URLBuilder implementation.
type BaseURLs struct {
	RegistryFn      func(name, version string) string
	DownloadFn      func(name, version string) string
	DocumentationFn func(name, version string) string
	PURLFn          func(name, version string) string
}

func (b *BaseURLs) Registry(name, version string) string {
	if b.RegistryFn != nil {
		return b.RegistryFn(name, version)
	}
	return ""
}

func (b *BaseURLs) Download(name, version string) string {
	if b.DownloadFn != nil {
		return b.DownloadFn(name, version)
	}
	return ""
}

func (b *BaseURLs) Documentation(name, version string) string {
	if b.DocumentationFn != nil {
		return b.DocumentationFn(name, version)
	}
	return ""
}

func (b *BaseURLs) PURL(name, version string) string {
	if b.PURLFn != nil {
		return b.PURLFn(name, version)
	}
	p := core.NewPURL(name, version)
	return p.ToString()
}

// BuildURLs returns a map of all non-empty URLs for a package.
// Keys are "registry", "download", "docs", and "purl".
func BuildURLs(urls URLBuilder, name, version string) map[string]string {
	result := make(map[string]string)
	if v := urls.Registry(name, version); v != "" {
		result["registry"] = v
	}
	if v := urls.Download(name, version); v != "" {
		result["download"] = v
	}
	if v := urls.Documentation(name, version); v != "" {
		result["docs"] = v
	}
	if v := urls.PURL(name, version); v != "" {
		result["purl"] = v
	}
	return result
}

// Paths of the endpoint families served by a feed, relative to its base URL.
const (
	ServiceIndexPath   = "/v3/index.json"
	PackageBasePath    = "/v3-flatcontainer/"
	RegistrationsPath  = "/v3/registration/"
	SearchPath         = "/v3/search"
	AutocompletePath   = "/v3/autocomplete"
	PublishPath        = "/api/v2/package"
	DownloadsPath      = "/v3/download/"
	registrationsIndex = "index.json"
)

// FeedURLs builds the absolute URLs of a feed served at a base URL.
// Package ids and versions are lower-cased in every URL.
type FeedURLs struct {
	BaseURLs
	base string
}

// NewFeedURLs returns the URL builder for a feed served at base.
func NewFeedURLs(base string) *FeedURLs {
	f := &FeedURLs{base: strings.TrimRight(base, "/")}
	f.RegistryFn = func(name, version string) string {
		if version == "" {
			return f.RegistrationIndex(name)
		}
		return f.RegistrationLeaf(name, version)
	}
	f.DownloadFn = f.PackageContent
	return f
}

// Base returns the feed base URL without a trailing slash.
func (f *FeedURLs) Base() string { return f.base }

func (f *FeedURLs) ServiceIndex() string { return f.base + ServiceIndexPath }
func (f *FeedURLs) PackageBaseAddress() string { return f.base + PackageBasePath }
func (f *FeedURLs) RegistrationsBase() string { return f.base + RegistrationsPath }
func (f *FeedURLs) Search() string { return f.base + SearchPath }
func (f *FeedURLs) Autocomplete() string { return f.base + AutocompletePath }
func (f *FeedURLs) Publish() string { return f.base + PublishPath }

// VersionsIndex returns the flat container version list of a package.
func (f *FeedURLs) VersionsIndex(id string) string {
	return f.PackageBaseAddress() + segment(id) + "/index.json"
}

// PackageContent returns the flat container download URL of a package version.
func (f *FeedURLs) PackageContent(id, version string) string {
	lid, lv := segment(id), segment(version)
	return f.PackageBaseAddress() + lid + "/" + lv + "/" + lid + "." + lv + ".nupkg"
}

// RegistrationIndex returns the registration index URL of a package.
func (f *FeedURLs) RegistrationIndex(id string) string {
	return f.RegistrationsBase() + segment(id) + "/" + registrationsIndex
}

// RegistrationPage returns the URL of the registration page spanning lower..upper.
func (f *FeedURLs) RegistrationPage(id, lowerVersion, upperVersion string) string {
	return f.RegistrationIndex(id) + "#page/" + segment(lowerVersion) + "/" + segment(upperVersion)
}

// RegistrationLeaf returns the registration leaf URL of a package version.
func (f *FeedURLs) RegistrationLeaf(id, version string) string {
	return f.RegistrationsBase() + segment(id) + "/" + segment(version) + ".json"
}

// segment lower-cases s and escapes it for use as one URL path segment.
func segment(s string) string {
	return url.PathEscape(strings.ToLower(s))
}
