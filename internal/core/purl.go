package core

import (
	"fmt"
	"strings"

	packageurl "github.com/package-url/packageurl-go"
)

// PURLType is the Package URL type of every package served by the feed.
const PURLType = "nuget"

// PURL wraps packageurl.PackageURL with feed-specific helpers.
type PURL struct {
	packageurl.PackageURL
}

// NewPURL returns the Package URL of a stored package version.
func NewPURL(id, version string) PURL {
	return PURL{*packageurl.NewPackageURL(PURLType, "", id, version, nil, "")}
}

// Identity returns the identity named by the PURL.
func (p PURL) Identity() Identity {
	return Identity{ID: p.Name, Version: p.Version}
}

// ParsePURL parses a Package URL and checks that it names a NuGet package.
// Supports both package PURLs (pkg:nuget/Serilog) and version PURLs (pkg:nuget/Serilog@3.1.0).
func ParsePURL(purl string) (*PURL, error) {
	p, err := packageurl.FromString(purl)
	if err != nil {
		return nil, &ValidationError{Field: "purl", Value: purl, Reason: err.Error()}
	}
	if !strings.EqualFold(p.Type, PURLType) {
		return nil, &ValidationError{Field: "purl", Value: purl, Reason: fmt.Sprintf("unsupported type %q", p.Type)}
	}
	return &PURL{p}, nil
}

// RepositoryURL returns the repository_url qualifier, naming the feed the
// package comes from. It is empty for packages from the public gallery.
func (p PURL) RepositoryURL() string {
	return p.Qualifiers.Map()["repository_url"]
}
