// Package nuget builds the NuGet v3 protocol documents served by the feed.
//
// Every response is generated from the typed model in this file; handlers
// never assemble protocol JSON by hand.
package nuget

import "time"

// Resource types advertised in the service index.
const (
	TypePackageBaseAddress   = "PackageBaseAddress/3.0.0"
	TypePackagePublish       = "PackagePublish/2.0.0"
	TypeSearchQuery          = "SearchQueryService"
	TypeSearchAutocomplete   = "SearchAutocompleteService"
	TypeRegistrationsBaseURL = "RegistrationsBaseUrl"

	ServiceIndexVersion = "3.0.0"
	SchemaVocab         = "http://schema.nuget.org/schema#"
	CatalogVocab        = "http://schema.nuget.org/catalog#"
)

// Resource is one entry of the service index.
type Resource struct {
	ID      string `json:"@id"`
	Type    string `json:"@type"`
	Comment string `json:"comment,omitempty"`
}

// ServiceIndex is the feed entry point document.
type ServiceIndex struct {
	Version   string     `json:"version"`
	Resources []Resource `json:"resources"`
}

// VersionsIndex is the flat container version list of one package.
type VersionsIndex struct {
	Versions []string `json:"versions"`
}

// Context is the JSON-LD context of registration documents.
type Context struct {
	Vocab   string `json:"@vocab"`
	Catalog string `json:"catalog,omitempty"`
}

// RegistrationIndex lists the registration pages of one package.
type RegistrationIndex struct {
	ID      string             `json:"@id"`
	Type    []string           `json:"@type"`
	Context Context            `json:"@context"`
	Count   int                `json:"count"`
	Items   []RegistrationPage `json:"items"`
}

// RegistrationPage holds a contiguous range of versions with inlined leaves.
type RegistrationPage struct {
	ID     string             `json:"@id"`
	Type   string             `json:"@type"`
	Count  int                `json:"count"`
	Lower  string             `json:"lower"`
	Upper  string             `json:"upper"`
	Parent string             `json:"parent"`
	Items  []RegistrationLeaf `json:"items"`
}

// RegistrationLeaf describes one version inside a registration page.
type RegistrationLeaf struct {
	ID             string       `json:"@id"`
	Type           string       `json:"@type"`
	CatalogEntry   CatalogEntry `json:"catalogEntry"`
	PackageContent string       `json:"packageContent"`
	Registration   string       `json:"registration"`
}

// CatalogEntry carries the metadata of one package version.
type CatalogEntry struct {
	ID                string    `json:"@id"`
	Type              string    `json:"@type"`
	PackageID         string    `json:"id"`
	Version           string    `json:"version"`
	Authors           string    `json:"authors,omitempty"`
	Description       string    `json:"description,omitempty"`
	Summary           string    `json:"summary,omitempty"`
	Title             string    `json:"title,omitempty"`
	Tags              []string  `json:"tags,omitempty"`
	ProjectURL        string    `json:"projectUrl,omitempty"`
	LicenseExpression string    `json:"licenseExpression,omitempty"`
	LicenseURL        string    `json:"licenseUrl,omitempty"`
	Listed            bool      `json:"listed"`
	Published         time.Time `json:"published"`
	PackageContent    string    `json:"packageContent"`
	Downloads         int64     `json:"downloads"`
	IsLatestVersion   bool      `json:"isLatestVersion"`
}

// LeafDocument is the standalone registration leaf of one version.
type LeafDocument struct {
	ID             string       `json:"@id"`
	Type           []string     `json:"@type"`
	Context        Context      `json:"@context"`
	CatalogEntry   CatalogEntry `json:"catalogEntry"`
	Listed         bool         `json:"listed"`
	PackageContent string       `json:"packageContent"`
	Published      time.Time    `json:"published"`
	Registration   string       `json:"registration"`
}

// SearchResponse is the result of a search query.
type SearchResponse struct {
	TotalHits int            `json:"totalHits"`
	Data      []SearchResult `json:"data"`
}

// SearchResult describes one package, or one version when all versions are requested.
type SearchResult struct {
	ID             string          `json:"@id"`
	Type           string          `json:"@type"`
	Registration   string          `json:"registration"`
	PackageID      string          `json:"id"`
	Version        string          `json:"version"`
	Description    string          `json:"description"`
	Summary        string          `json:"summary"`
	Title          string          `json:"title"`
	Authors        []string        `json:"authors"`
	Tags           []string        `json:"tags"`
	IconURL        string          `json:"iconUrl"`
	LicenseURL     string          `json:"licenseUrl"`
	ProjectURL     string          `json:"projectUrl"`
	TotalDownloads int64           `json:"totalDownloads"`
	Verified       bool            `json:"verified"`
	PackageTypes   []PackageType   `json:"packageTypes"`
	Versions       []SearchVersion `json:"versions"`
}

// PackageType names a package type in search results.
type PackageType struct {
	Name string `json:"name"`
}

// SearchVersion is one version listed in a search result.
type SearchVersion struct {
	ID        string `json:"@id"`
	Version   string `json:"version"`
	Downloads int64  `json:"downloads"`
}

// AutocompleteResponse lists matching package ids or versions.
type AutocompleteResponse struct {
	TotalHits int      `json:"totalHits"`
	Data      []string `json:"data"`
}

// ListResponse lists every stored package version.
type ListResponse struct {
	TotalHits int           `json:"totalHits"`
	Data      []PackageItem `json:"data"`
}

// PackageItem is one entry of a ListResponse.
type PackageItem struct {
	ID            string    `json:"id"`
	Version       string    `json:"version"`
	Title         string    `json:"title,omitempty"`
	Description   string    `json:"description,omitempty"`
	Authors       string    `json:"authors,omitempty"`
	FileName      string    `json:"fileName"`
	Size          int64     `json:"size"`
	DownloadURL   string    `json:"downloadUrl"`
	DownloadCount int64     `json:"downloadCount"`
	Published     time.Time `json:"published"`
	PURL          string    `json:"purl,omitempty"`
}

// Problem is the error body returned for failed requests.
type Problem struct {
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
	Status int    `json:"status"`
}
