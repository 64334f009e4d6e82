// Package nuspectest builds in-memory .nupkg archives for tests.
package nuspectest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
)

// Namespace is the descriptor namespace written by current NuGet tooling.
const Namespace = "http://schemas.microsoft.com/packaging/2013/05/nuspec.xsd"

// Package describes the descriptor written into a test archive.
type Package struct {
	ID          string
	Version     string
	Authors     string
	Description string
	Title       string
	Tags        string
	License     string
	// Namespace is set on the root element when non-empty.
	Namespace string
}

// Descriptor renders the .nuspec document for p.
func (p Package) Descriptor() []byte {
	var b bytes.Buffer
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>` + "\n")
	if p.Namespace != "" {
		fmt.Fprintf(&b, "<package xmlns=%q>\n", p.Namespace)
	} else {
		b.WriteString("<package>\n")
	}
	b.WriteString("  <metadata>\n")
	field := func(name, value string) {
		if value != "" {
			fmt.Fprintf(&b, "    <%s>%s</%s>\n", name, value, name)
		}
	}
	field("id", p.ID)
	field("version", p.Version)
	field("title", p.Title)
	field("authors", p.Authors)
	field("description", p.Description)
	field("tags", p.Tags)
	if p.License != "" {
		fmt.Fprintf(&b, "    <license type=\"expression\">%s</license>\n", p.License)
	}
	b.WriteString("  </metadata>\n</package>\n")
	return b.Bytes()
}

// Bytes returns a zip archive holding the descriptor and a placeholder library.
func (p Package) Bytes() []byte {
	return Archive(map[string][]byte{
		p.ID + ".nuspec":              p.Descriptor(),
		"lib/net8.0/" + p.ID + ".dll": []byte("not really a dll"),
		"[Content_Types].xml":         []byte(`<?xml version="1.0"?><Types/>`),
	})
}

// FileName returns the conventional archive name for p.
func (p Package) FileName() string {
	return p.ID + "." + p.Version + ".nupkg"
}

// Write stores the archive for p in dir and returns its path.
func (p Package) Write(t testing.TB, dir string) string {
	t.Helper()
	path := filepath.Join(dir, p.FileName())
	if err := os.WriteFile(path, p.Bytes(), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

// Archive builds a zip archive from the given entries.
func Archive(entries map[string][]byte) []byte {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range entries {
		w, err := zw.Create(name)
		if err != nil {
			panic(err)
		}
		if _, err := w.Write(data); err != nil {
			panic(err)
		}
	}
	if err := zw.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
