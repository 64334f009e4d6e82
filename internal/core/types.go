// Package core provides the shared types, errors and backend registry of the feed.
package core

import (
	"strings"
	"time"
)

// Identity names one stored package version.
// ID is matched case-insensitively but keeps the casing it was published with.
type Identity struct {
	ID      string
	Version string
}

// Key returns the lookup key for the identity: the lower-cased id and version.
// Version must already be normalized for two keys to compare equal.
func (i Identity) Key() string {
	return strings.ToLower(i.ID) + "/" + strings.ToLower(i.Version)
}

func (i Identity) String() string {
	return i.ID + " " + i.Version
}

// Artifact describes one archive file held by the package store.
type Artifact struct {
	Identity
	Path     string
	FileName string
	Size     int64
	ModTime  time.Time
}

// Metadata holds the descriptive fields read from a package descriptor.
// Every field is optional.
type Metadata struct {
	ID                string
	Version           string
	Title             string
	Authors           string
	Description       string
	Summary           string
	Tags              []string
	ProjectURL        string
	LicenseExpression string
	LicenseURL        string
}

// PackageInfo is the combined view of one stored package version.
type PackageInfo struct {
	ID                string    `json:"id"`
	Version           string    `json:"version"`
	Title             string    `json:"title,omitempty"`
	Description       string    `json:"description,omitempty"`
	Summary           string    `json:"summary,omitempty"`
	Authors           string    `json:"authors,omitempty"`
	Tags              []string  `json:"tags,omitempty"`
	ProjectURL        string    `json:"projectUrl,omitempty"`
	LicenseExpression string    `json:"licenseExpression,omitempty"`
	LicenseURL        string    `json:"licenseUrl,omitempty"`
	FileName          string    `json:"fileName"`
	Size              int64     `json:"size"`
	DownloadURL       string    `json:"downloadUrl"`
	DownloadCount     int64     `json:"downloadCount"`
	Published         time.Time `json:"published"`
	PURL              string    `json:"purl,omitempty"`
}

// Identity returns the identity of the package version.
func (p PackageInfo) Identity() Identity {
	return Identity{ID: p.ID, Version: p.Version}
}

// AuthorList splits the comma separated authors field.
func (m Metadata) AuthorList() []string {
	return SplitList(m.Authors, ",")
}

// SplitList splits s on sep, trimming whitespace and dropping empty entries.
func SplitList(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
