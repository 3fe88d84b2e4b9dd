package extract

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"readaloud/internal/domain/page"

	"github.com/ledongthuc/pdf"
)

// letterHeight is used when a page has no usable MediaBox.
const letterHeight = 792

// PDFFormat reads PDF files, rebuilding lines from positioned glyphs.
type PDFFormat struct{}

func init() {
	Register(&PDFFormat{})
}

func (f *PDFFormat) Name() string         { return "PDF" }
func (f *PDFFormat) Extensions() []string { return []string{".pdf"} }

func (f *PDFFormat) Open(filename string) (Book, error) {
	file, r, err := pdf.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}
	return &pdfBook{file: file, r: r, pages: r.NumPage(), meta: pdfMeta(r)}, nil
}

// pdfBook serialises page access; the underlying reader is not safe for
// concurrent use.
type pdfBook struct {
	mu    sync.Mutex
	file  *os.File
	r     *pdf.Reader
	pages int
	meta  Meta
}

func (b *pdfBook) Meta() Meta     { return b.meta }
func (b *pdfBook) PageCount() int { return b.pages }
func (b *pdfBook) Close() error   { return b.file.Close() }

func (b *pdfBook) Runs(pageIndex int) (runs []page.Run, err error) {
	if err := checkPage(b, pageIndex); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	// The content stream interpreter panics on malformed input.
	defer func() {
		if r := recover(); r != nil {
			runs, err = nil, fmt.Errorf("malformed page content: %v", r)
		}
	}()

	p := b.r.Page(pageIndex + 1)
	if p.V.IsNull() {
		return nil, fmt.Errorf("page object missing")
	}

	content := p.Content()
	glyphs := make([]glyph, 0, len(content.Text))
	for _, t := range content.Text {
		glyphs = append(glyphs, glyph{X: t.X, Y: t.Y, W: t.W, Size: t.FontSize, S: t.S})
	}
	return groupLines(glyphs, pageHeight(p)), nil
}

// pageHeight reads the MediaBox, which pages may inherit from their parents.
func pageHeight(p pdf.Page) float64 {
	v := p.V
	for depth := 0; depth < 32 && !v.IsNull(); depth++ {
		if box := v.Key("MediaBox"); box.Len() == 4 {
			if h := box.Index(3).Float64() - box.Index(1).Float64(); h > 0 {
				return h
			}
		}
		v = v.Key("Parent")
	}
	return letterHeight
}

func pdfMeta(r *pdf.Reader) (m Meta) {
	defer func() {
		if recover() != nil {
			m = Meta{}
		}
	}()
	info := r.Trailer().Key("Info")
	if info.IsNull() {
		return Meta{}
	}
	return Meta{
		Title:  strings.TrimSpace(info.Key("Title").Text()),
		Author: strings.TrimSpace(info.Key("Author").Text()),
	}
}
