// Package extract opens documents and produces the positioned text runs of
// individual pages.
package extract

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"readaloud/internal/domain/page"
)

var (
	// ErrUnsupportedFormat is returned for files no registered format handles.
	ErrUnsupportedFormat = errors.New("unsupported document format")
	// ErrPageOutOfRange is returned for a page index outside the document.
	ErrPageOutOfRange = errors.New("page out of range")
)

// Meta is the descriptive metadata a format can recover from a file.
type Meta struct {
	Title  string
	Author string
}

// Book is an opened document that yields runs page by page.
type Book interface {
	Meta() Meta
	PageCount() int
	// Runs returns the runs of one page in reading order.
	Runs(pageIndex int) ([]page.Run, error)
	Close() error
}

// Format opens one family of files.
type Format interface {
	Name() string
	Extensions() []string
	Open(filename string) (Book, error)
}

var registry []Format

// Register adds a format to the registry. Later registrations win for a
// shared extension.
func Register(f Format) {
	registry = append([]Format{f}, registry...)
}

// Lookup returns the format handling filename's extension.
func Lookup(filename string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, f := range registry {
		for _, e := range f.Extensions() {
			if ext == e {
				return f, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
}

// SupportedFormats returns registered format names with their extensions.
func SupportedFormats() []string {
	var out []string
	seen := map[string]bool{}
	for i := len(registry) - 1; i >= 0; i-- {
		f := registry[i]
		if seen[f.Name()] {
			continue
		}
		seen[f.Name()] = true
		out = append(out, f.Name()+" ("+strings.Join(f.Extensions(), ", ")+")")
	}
	return out
}

func checkPage(b Book, pageIndex int) error {
	if pageIndex < 0 || pageIndex >= b.PageCount() {
		return fmt.Errorf("%w: %d of %d", ErrPageOutOfRange, pageIndex, b.PageCount())
	}
	return nil
}
