package fetch

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
)

// NuGetOrg names the public gallery, registered on every Resolver.
const NuGetOrg = "nuget.org"

// NuGetOrgFlatContainer is the public gallery's package base address.
const NuGetOrgFlatContainer = "https://api.nuget.org/v3-flatcontainer/"

var ErrUnknownSource = errors.New("unknown package source")

// Resolver maps a source and package identity onto download URLs.
// A source is either a registered name or an absolute http(s) URL of a
// flat container base address.
type Resolver struct {
	mu      sync.RWMutex
	sources map[string]string
}

// NewResolver creates a Resolver knowing only nuget.org.
func NewResolver() *Resolver {
	return &Resolver{
		sources: map[string]string{NuGetOrg: NuGetOrgFlatContainer},
	}
}

// RegisterSource adds or replaces a named source.
func (r *Resolver) RegisterSource(name, baseURL string) error {
	base, err := normalizeBase(baseURL)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.sources[strings.ToLower(name)] = base
	r.mu.Unlock()
	return nil
}

// Sources returns the registered source names, sorted.
func (r *Resolver) Sources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ArtifactInfo describes a downloadable .nupkg.
type ArtifactInfo struct {
	URL      string
	Filename string
}

// Resolve returns the flat container content URL of id at version.
func (r *Resolver) Resolve(source, id, version string) (*ArtifactInfo, error) {
	base, err := r.base(source)
	if err != nil {
		return nil, err
	}
	if id == "" || version == "" {
		return nil, fmt.Errorf("package id and version are required")
	}
	lowerID := strings.ToLower(id)
	lowerVersion := strings.ToLower(version)
	filename := fmt.Sprintf("%s.%s.nupkg", lowerID, lowerVersion)
	return &ArtifactInfo{
		URL:      base + url.PathEscape(lowerID) + "/" + url.PathEscape(lowerVersion) + "/" + url.PathEscape(filename),
		Filename: filename,
	}, nil
}

// VersionsURL returns the flat container versions index URL of id.
func (r *Resolver) VersionsURL(source, id string) (string, error) {
	base, err := r.base(source)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("package id is required")
	}
	return base + url.PathEscape(strings.ToLower(id)) + "/index.json", nil
}

func (r *Resolver) base(source string) (string, error) {
	r.mu.RLock()
	base, ok := r.sources[strings.ToLower(source)]
	r.mu.RUnlock()
	if ok {
		return base, nil
	}
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return normalizeBase(source)
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownSource, source)
}

func normalizeBase(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q is not an http(s) url", ErrUnknownSource, raw)
	}
	s := u.String()
	if !strings.HasSuffix(s, "/") {
		s += "/"
	}
	return s, nil
}
