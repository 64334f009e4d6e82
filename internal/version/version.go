// Package version parses package version strings and orders them by
// semantic-version precedence.
package version

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ErrInvalidVersion is returned when a string is not MAJOR.MINOR.PATCH[-pre][+build].
var ErrInvalidVersion = errors.New("invalid version")

var grammar = regexp.MustCompile(`^\d+\.\d+\.\d+(-[0-9A-Za-z\-.]+)?(\+[0-9A-Za-z\-.]+)?$`)

// ParseError describes a version string that could not be parsed.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid version %q: %s", e.Input, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return ErrInvalidVersion
}

// Version is a parsed, comparable version. Prerelease identifiers keep
// their casing but compare case-insensitively.
type Version struct {
	sv  *semver.Version
	cmp *semver.Version
}

// Parse parses s. Surrounding whitespace is ignored.
func Parse(s string) (*Version, error) {
	in := strings.TrimSpace(s)
	if !grammar.MatchString(in) {
		return nil, &ParseError{Input: s, Reason: "expected MAJOR.MINOR.PATCH with optional -prerelease"}
	}
	sv, err := semver.NewVersion(in)
	if err != nil {
		return nil, &ParseError{Input: s, Reason: err.Error()}
	}
	cmp := sv
	if lower := strings.ToLower(in); lower != in {
		if cmp, err = semver.NewVersion(lower); err != nil {
			return nil, &ParseError{Input: s, Reason: err.Error()}
		}
	}
	return &Version{sv: sv, cmp: cmp}, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) *Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the normalized form: numeric parts without leading zeros,
// the prerelease tag if any, and no build metadata.
func (v *Version) String() string {
	base := fmt.Sprintf("%d.%d.%d", v.sv.Major(), v.sv.Minor(), v.sv.Patch())
	if pre := v.sv.Prerelease(); pre != "" {
		return base + "-" + pre
	}
	return base
}

// Prerelease returns the prerelease tag without the leading dash.
func (v *Version) Prerelease() string {
	return v.sv.Prerelease()
}

// IsPrerelease reports whether v carries a prerelease tag.
func (v *Version) IsPrerelease() bool {
	return v.sv.Prerelease() != ""
}

// Compare returns -1, 0 or 1 as v has lower, equal or higher precedence than o.
// Build metadata is ignored.
func (v *Version) Compare(o *Version) int {
	return v.cmp.Compare(o.cmp)
}

// LessThan reports whether v has lower precedence than o.
func (v *Version) LessThan(o *Version) bool {
	return v.Compare(o) < 0
}

// Normalize parses s and returns its normalized string.
func Normalize(s string) (string, error) {
	v, err := Parse(s)
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

// Valid reports whether s parses.
func Valid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// Compare parses both strings and compares them by precedence.
func Compare(a, b string) (int, error) {
	va, err := Parse(a)
	if err != nil {
		return 0, err
	}
	vb, err := Parse(b)
	if err != nil {
		return 0, err
	}
	return va.Compare(vb), nil
}

// IsPrerelease reports whether the version string carries a prerelease tag.
// Build metadata is not considered.
func IsPrerelease(s string) bool {
	if i := strings.IndexByte(s, '+'); i >= 0 {
		s = s[:i]
	}
	return strings.Contains(s, "-")
}

// Sort orders versions by ascending precedence and returns them normalized.
// Versions equal after normalization appear once. Strings that do not
// parse are returned separately in their input order.
func Sort(versions []string) (sorted []string, invalid []string) {
	parsed := make([]*Version, 0, len(versions))
	seen := make(map[string]bool, len(versions))
	for _, s := range versions {
		v, err := Parse(s)
		if err != nil {
			invalid = append(invalid, s)
			continue
		}
		key := strings.ToLower(v.String())
		if seen[key] {
			continue
		}
		seen[key] = true
		parsed = append(parsed, v)
	}

	sort.SliceStable(parsed, func(i, j int) bool {
		return parsed[i].LessThan(parsed[j])
	})

	sorted = make([]string, len(parsed))
	for i, v := range parsed {
		sorted[i] = v.String()
	}
	return sorted, invalid
}

// Latest returns the normalized version with the highest precedence,
// or "" when none of the inputs parse.
func Latest(versions []string) string {
	var best *Version
	for _, s := range versions {
		v, err := Parse(s)
		if err != nil {
			continue
		}
		if best == nil || best.LessThan(v) {
			best = v
		}
	}
	if best == nil {
		return ""
	}
	return best.String()
}

// LatestStable is like Latest but ignores prerelease versions.
func LatestStable(versions []string) string {
	var stable []string
	for _, s := range versions {
		if !IsPrerelease(s) {
			stable = append(stable, s)
		}
	}
	return Latest(stable)
}
