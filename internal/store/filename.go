package store

import (
	"errors"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/git-pkgs/feed/internal/core"
	"github.com/git-pkgs/feed/internal/version"
)

// ArchiveExtension is the file extension of package archives.
const ArchiveExtension = ".nupkg"

var versionInName = regexp.MustCompile(`(?i)\d+\.\d+\.\d+(-[0-9A-Za-z\-.]+)?`)

const reasonNoVersion = "no version found"

// IsMissingVersion reports whether err is the ParseFileName failure for an
// archive name that carries no version at all.
func IsMissingVersion(err error) bool {
	var ve *core.ValidationError
	return errors.As(err, &ve) && ve.Field == "file name" && ve.Reason == reasonNoVersion
}

// ParseFileName derives the identity from an archive name of the form
// {id}.{version}.nupkg. The version is the last version-shaped match in the
// name and the id is everything before it. The returned version is normalized.
func ParseFileName(name string) (core.Identity, error) {
	if name == "" || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) {
		return core.Identity{}, &core.ValidationError{Field: "file name", Value: name, Reason: "must be a bare file name"}
	}
	if !strings.EqualFold(filepath.Ext(name), ArchiveExtension) {
		return core.Identity{}, &core.ValidationError{Field: "file name", Value: name, Reason: "expected a " + ArchiveExtension + " archive"}
	}

	base := name[:len(name)-len(ArchiveExtension)]
	matches := versionInName.FindAllStringIndex(base, -1)
	if len(matches) == 0 {
		return core.Identity{}, &core.ValidationError{Field: "file name", Value: name, Reason: reasonNoVersion}
	}
	last := matches[len(matches)-1]
	raw := strings.TrimRight(base[last[0]:last[1]], ".")

	// The id ends at the dot before the version.
	if last[0] < 2 || base[last[0]-1] != '.' {
		return core.Identity{}, &core.ValidationError{Field: "file name", Value: name, Reason: "missing package id before version"}
	}
	id := base[:last[0]-1]

	v, err := version.Normalize(raw)
	if err != nil {
		return core.Identity{}, &core.ValidationError{Field: "version", Value: raw, Reason: err.Error()}
	}
	if err := ValidateID(id); err != nil {
		return core.Identity{}, err
	}
	return core.Identity{ID: id, Version: v}, nil
}

// ValidateID rejects ids that cannot be used as a single path element.
func ValidateID(id string) error {
	switch {
	case id == "":
		return &core.ValidationError{Field: "package id", Value: id, Reason: "empty"}
	case id == "." || id == "..":
		return &core.ValidationError{Field: "package id", Value: id, Reason: "reserved name"}
	case strings.ContainsAny(id, `/\:*?"<>|`) || strings.ContainsRune(id, 0):
		return &core.ValidationError{Field: "package id", Value: id, Reason: "contains invalid characters"}
	case len(id) > 100:
		return &core.ValidationError{Field: "package id", Value: id, Reason: "longer than 100 characters"}
	}
	return nil
}
