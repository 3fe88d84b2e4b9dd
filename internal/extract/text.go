package extract

import (
	"os"
	"strings"
	"unicode/utf8"

	"readaloud/internal/domain/page"
)

// DefaultLinesPerPage is how many source lines make one page of a text file.
const DefaultLinesPerPage = 60

// TextFormat reads plain text files, cutting them into fixed-height pages.
type TextFormat struct {
	LinesPerPage int
}

func init() {
	Register(&TextFormat{LinesPerPage: DefaultLinesPerPage})
}

func (f *TextFormat) Name() string         { return "Text" }
func (f *TextFormat) Extensions() []string { return []string{".txt", ".text"} }

func (f *TextFormat) Open(filename string) (Book, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return newTextBook(string(data), f.LinesPerPage, Meta{}), nil
}

// textBook holds pages of lines. Runs carry boxes in character cells: one
// unit per rune horizontally and one per line vertically.
type textBook struct {
	meta  Meta
	pages [][]string
}

func newTextBook(content string, linesPerPage int, meta Meta) *textBook {
	if linesPerPage <= 0 {
		linesPerPage = DefaultLinesPerPage
	}
	content = strings.ReplaceAll(content, "\r\n", "\n")
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")

	b := &textBook{meta: meta}
	if len(lines) == 1 && strings.TrimSpace(lines[0]) == "" {
		return b
	}
	for start := 0; start < len(lines); start += linesPerPage {
		end := min(start+linesPerPage, len(lines))
		b.pages = append(b.pages, lines[start:end])
	}
	return b
}

func (b *textBook) Meta() Meta     { return b.meta }
func (b *textBook) PageCount() int { return len(b.pages) }
func (b *textBook) Close() error   { return nil }

func (b *textBook) Runs(pageIndex int) ([]page.Run, error) {
	if err := checkPage(b, pageIndex); err != nil {
		return nil, err
	}
	return lineRuns(b.pages[pageIndex]), nil
}

// lineRuns turns lines into runs: blank lines end paragraphs, other lines
// flow into each other.
func lineRuns(lines []string) []page.Run {
	runs := make([]page.Run, 0, len(lines))
	for row, line := range lines {
		text := strings.TrimSpace(line)
		if text == "" {
			runs = append(runs, page.Run{Text: "\n\n"})
			continue
		}
		runs = append(runs, page.Run{
			Text: text + " ",
			Box: &page.Rect{
				Left:   0,
				Top:    float64(row),
				Right:  float64(utf8.RuneCountInString(line)),
				Bottom: float64(row + 1),
			},
		})
	}
	return runs
}
