package nuget

import (
	"sort"
	"strings"

	"github.com/git-pkgs/feed/client"
	"github.com/git-pkgs/feed/internal/core"
	"github.com/git-pkgs/feed/internal/version"
)

const (
	// PageSize is the maximum number of leaves in one registration page.
	PageSize = 64

	DefaultTake = 20
	MaxTake     = 1000
)

// Builder turns stored package versions into protocol documents.
type Builder struct {
	urls *client.FeedURLs
}

// NewBuilder returns a builder that links documents under the given URLs.
func NewBuilder(urls *client.FeedURLs) *Builder {
	return &Builder{urls: urls}
}

// URLs returns the URL builder used for links.
func (b *Builder) URLs() *client.FeedURLs {
	return b.urls
}

// ServiceIndex advertises the feed's endpoint families.
func (b *Builder) ServiceIndex() ServiceIndex {
	u := b.urls
	return ServiceIndex{
		Version: ServiceIndexVersion,
		Resources: []Resource{
			{ID: u.PackageBaseAddress(), Type: TypePackageBaseAddress, Comment: "Base URL of where NuGet packages are stored"},
			{ID: u.Publish(), Type: TypePackagePublish, Comment: "Push and delete packages"},
			{ID: u.Search(), Type: TypeSearchQuery, Comment: "Query endpoint of NuGet Search service"},
			{ID: u.Search(), Type: TypeSearchQuery + "/3.0.0-beta", Comment: "Query endpoint of NuGet Search service"},
			{ID: u.Search(), Type: TypeSearchQuery + "/3.0.0-rc", Comment: "Query endpoint of NuGet Search service"},
			{ID: u.Autocomplete(), Type: TypeSearchAutocomplete, Comment: "Autocomplete endpoint of NuGet Search service"},
			{ID: u.Autocomplete(), Type: TypeSearchAutocomplete + "/3.0.0-beta", Comment: "Autocomplete endpoint of NuGet Search service"},
			{ID: u.Autocomplete(), Type: TypeSearchAutocomplete + "/3.0.0-rc", Comment: "Autocomplete endpoint of NuGet Search service"},
			{ID: u.RegistrationsBase(), Type: TypeRegistrationsBaseURL, Comment: "Base URL of package registration info"},
			{ID: u.RegistrationsBase(), Type: TypeRegistrationsBaseURL + "/3.0.0-rc", Comment: "Base URL of package registration info"},
			{ID: u.RegistrationsBase(), Type: TypeRegistrationsBaseURL + "/3.6.0", Comment: "Base URL of package registration info"},
		},
	}
}

// Versions builds the flat container version list. Versions are returned
// lower-cased in ascending precedence; unparseable strings are dropped.
func (b *Builder) Versions(versions []string) VersionsIndex {
	sorted, _ := version.Sort(versions)
	out := make([]string, len(sorted))
	for i, v := range sorted {
		out[i] = strings.ToLower(v)
	}
	return VersionsIndex{Versions: out}
}

// Registration builds the registration index of one package from all of its
// stored versions.
func (b *Builder) Registration(id string, entries []core.PackageInfo) RegistrationIndex {
	entries = sortEntries(entries)
	latest := latestOf(entries)
	index := b.urls.RegistrationIndex(id)

	reg := RegistrationIndex{
		ID:      index,
		Type:    []string{"catalog:CatalogRoot", "PackageRegistration", "catalog:Permalink"},
		Context: Context{Vocab: SchemaVocab, Catalog: CatalogVocab},
		Items:   []RegistrationPage{},
	}

	for start := 0; start < len(entries); start += PageSize {
		end := start + PageSize
		if end > len(entries) {
			end = len(entries)
		}
		chunk := entries[start:end]
		lower, upper := chunk[0].Version, chunk[len(chunk)-1].Version

		page := RegistrationPage{
			ID:     b.urls.RegistrationPage(id, lower, upper),
			Type:   "catalog:CatalogPage",
			Count:  len(chunk),
			Lower:  strings.ToLower(lower),
			Upper:  strings.ToLower(upper),
			Parent: index,
			Items:  make([]RegistrationLeaf, 0, len(chunk)),
		}
		for _, e := range chunk {
			page.Items = append(page.Items, RegistrationLeaf{
				ID:             b.urls.RegistrationLeaf(e.ID, e.Version),
				Type:           "Package",
				CatalogEntry:   b.catalogEntry(e, latest),
				PackageContent: b.urls.PackageContent(e.ID, e.Version),
				Registration:   index,
			})
		}
		reg.Items = append(reg.Items, page)
	}
	reg.Count = len(reg.Items)
	return reg
}

// Leaf builds the standalone registration leaf of one version. latest is the
// package's latest version, used to set isLatestVersion.
func (b *Builder) Leaf(e core.PackageInfo, latest string) LeafDocument {
	return LeafDocument{
		ID:             b.urls.RegistrationLeaf(e.ID, e.Version),
		Type:           []string{"Package", "http://schema.nuget.org/catalog#Permalink"},
		Context:        Context{Vocab: SchemaVocab, Catalog: CatalogVocab},
		CatalogEntry:   b.catalogEntry(e, latest),
		Listed:         true,
		PackageContent: b.urls.PackageContent(e.ID, e.Version),
		Published:      e.Published,
		Registration:   b.urls.RegistrationIndex(e.ID),
	}
}

func (b *Builder) catalogEntry(e core.PackageInfo, latest string) CatalogEntry {
	return CatalogEntry{
		ID:                b.urls.RegistrationLeaf(e.ID, e.Version),
		Type:              "PackageDetails",
		PackageID:         e.ID,
		Version:           e.Version,
		Authors:           e.Authors,
		Description:       e.Description,
		Summary:           e.Summary,
		Title:             e.Title,
		Tags:              e.Tags,
		ProjectURL:        e.ProjectURL,
		LicenseExpression: e.LicenseExpression,
		LicenseURL:        e.LicenseURL,
		Listed:            true,
		Published:         e.Published,
		PackageContent:    b.urls.PackageContent(e.ID, e.Version),
		Downloads:         e.DownloadCount,
		IsLatestVersion:   strings.EqualFold(e.Version, latest),
	}
}

// List builds the listing of every stored version.
func (b *Builder) List(entries []core.PackageInfo) ListResponse {
	entries = sortEntries(entries)
	resp := ListResponse{TotalHits: len(entries), Data: make([]PackageItem, 0, len(entries))}
	for _, e := range entries {
		resp.Data = append(resp.Data, PackageItem{
			ID:            e.ID,
			Version:       e.Version,
			Title:         e.Title,
			Description:   e.Description,
			Authors:       e.Authors,
			FileName:      e.FileName,
			Size:          e.Size,
			DownloadURL:   e.DownloadURL,
			DownloadCount: e.DownloadCount,
			Published:     e.Published,
			PURL:          e.PURL,
		})
	}
	return resp
}

// LatestVersion returns the latest version by precedence, or "" when entries is empty.
func LatestVersion(entries []core.PackageInfo) string {
	return latestOf(entries)
}

func latestOf(entries []core.PackageInfo) string {
	versions := make([]string, len(entries))
	for i, e := range entries {
		versions[i] = e.Version
	}
	return version.Latest(versions)
}

// sortEntries returns a copy ordered by case-insensitive id, then by version precedence.
func sortEntries(entries []core.PackageInfo) []core.PackageInfo {
	out := make([]core.PackageInfo, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := strings.ToLower(out[i].ID), strings.ToLower(out[j].ID)
		if a != b {
			return a < b
		}
		c, err := version.Compare(out[i].Version, out[j].Version)
		if err != nil {
			return out[i].Version < out[j].Version
		}
		return c < 0
	})
	return out
}
