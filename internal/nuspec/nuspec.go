// Package nuspec reads package metadata from the .nuspec descriptor
// embedded in a .nupkg archive.
package nuspec

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/git-pkgs/feed/internal/core"
	"github.com/github/go-spdx/v2/spdxexp"
	"github.com/klauspost/compress/zip"
)

// Extension is the file extension of a package descriptor inside an archive.
const Extension = ".nuspec"

// maxDescriptorSize bounds how much of a descriptor entry is read.
const maxDescriptorSize = 4 << 20

// ExtractionError describes why metadata could not be read from an archive.
type ExtractionError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extracting metadata from %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("extracting metadata from %s: %s", e.Path, e.Reason)
}

func (e *ExtractionError) Unwrap() []error {
	if e.Err != nil {
		return []error{core.ErrExtraction, e.Err}
	}
	return []error{core.ErrExtraction}
}

// Extract reads the descriptor metadata of the archive at path.
func Extract(path string) (*core.Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ExtractionError{Path: path, Reason: "opening archive", Err: err}
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, &ExtractionError{Path: path, Reason: "stat archive", Err: err}
	}

	return read(path, f, info.Size())
}

// Read reads the descriptor metadata of an archive held in r.
func Read(r io.ReaderAt, size int64) (*core.Metadata, error) {
	return read("<stream>", r, size)
}

func read(path string, r io.ReaderAt, size int64) (*core.Metadata, error) {
	mime, err := mimetype.DetectReader(io.NewSectionReader(r, 0, size))
	if err != nil {
		return nil, &ExtractionError{Path: path, Reason: "detecting content type", Err: err}
	}
	if !isZip(mime) {
		return nil, &ExtractionError{Path: path, Reason: fmt.Sprintf("not a zip archive (%s)", mime.String())}
	}

	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, &ExtractionError{Path: path, Reason: "opening archive", Err: err}
	}

	var descriptor *zip.File
	for _, f := range zr.File {
		if !strings.HasSuffix(strings.ToLower(f.Name), Extension) {
			continue
		}
		if descriptor != nil {
			return nil, &ExtractionError{Path: path, Reason: "more than one descriptor entry"}
		}
		descriptor = f
	}
	if descriptor == nil {
		return nil, &ExtractionError{Path: path, Reason: "no " + Extension + " entry"}
	}

	rc, err := descriptor.Open()
	if err != nil {
		return nil, &ExtractionError{Path: path, Reason: "opening " + descriptor.Name, Err: err}
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(io.LimitReader(rc, maxDescriptorSize))
	if err != nil {
		return nil, &ExtractionError{Path: path, Reason: "reading " + descriptor.Name, Err: err}
	}

	md, err := Parse(data)
	if err != nil {
		return nil, &ExtractionError{Path: path, Reason: "parsing " + descriptor.Name, Err: err}
	}
	return md, nil
}

func isZip(m *mimetype.MIME) bool {
	for ; m != nil; m = m.Parent() {
		if m.Is("application/zip") {
			return true
		}
	}
	return false
}

type element struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Text     string     `xml:",chardata"`
	Children []element  `xml:",any"`
}

// child finds a direct child by local name, first in ns and then with no namespace.
func (e *element) child(ns, local string) *element {
	for i := range e.Children {
		c := &e.Children[i]
		if c.XMLName.Local == local && c.XMLName.Space == ns {
			return c
		}
	}
	if ns == "" {
		return nil
	}
	for i := range e.Children {
		c := &e.Children[i]
		if c.XMLName.Local == local && c.XMLName.Space == "" {
			return c
		}
	}
	return nil
}

func (e *element) attr(local string) string {
	for _, a := range e.Attrs {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// Parse reads metadata from a descriptor document. The root element may
// declare a default namespace or none.
func Parse(data []byte) (*core.Metadata, error) {
	var root element
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = true
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("malformed xml: %w", err)
	}

	ns := root.XMLName.Space
	meta := root.child(ns, "metadata")
	if meta == nil {
		return nil, fmt.Errorf("missing metadata element")
	}

	text := func(name string) string {
		if c := meta.child(ns, name); c != nil {
			return strings.TrimSpace(c.Text)
		}
		return ""
	}

	md := &core.Metadata{
		ID:          text("id"),
		Version:     text("version"),
		Title:       text("title"),
		Authors:     text("authors"),
		Description: text("description"),
		Summary:     text("summary"),
		ProjectURL:  text("projectUrl"),
		LicenseURL:  text("licenseUrl"),
		Tags:        splitTags(text("tags")),
	}

	if lic := meta.child(ns, "license"); lic != nil && strings.EqualFold(lic.attr("type"), "expression") {
		md.LicenseExpression = validLicense(strings.TrimSpace(lic.Text))
	}

	return md, nil
}

func splitTags(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ',' || r == ';' || r == '\t' || r == '\n'
	})
}

func validLicense(expr string) string {
	if expr == "" {
		return ""
	}
	if ok, _ := spdxexp.ValidateLicenses([]string{expr}); !ok {
		return ""
	}
	return expr
}
