package extract

import (
	"bytes"
	"os"
	"sort"
	"strings"
	"unicode/utf8"

	"readaloud/internal/domain/page"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// MarkdownFormat reads Markdown, speaking headings and paragraphs and
// skipping code. Pages are fixed runs of source lines, as for plain text.
type MarkdownFormat struct {
	LinesPerPage int
}

func init() {
	Register(&MarkdownFormat{LinesPerPage: DefaultLinesPerPage})
}

func (f *MarkdownFormat) Name() string         { return "Markdown" }
func (f *MarkdownFormat) Extensions() []string { return []string{".md", ".markdown"} }

func (f *MarkdownFormat) Open(filename string) (Book, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return newMarkdownBook(data, f.LinesPerPage), nil
}

// mdBlock is one speakable block with its source line span.
type mdBlock struct {
	text      string
	firstLine int
	lastLine  int
	width     int
}

type markdownBook struct {
	meta  Meta
	pages [][]mdBlock
	size  int
}

func newMarkdownBook(src []byte, linesPerPage int) *markdownBook {
	if linesPerPage <= 0 {
		linesPerPage = DefaultLinesPerPage
	}
	lineStarts := []int{0}
	for i, c := range src {
		if c == '\n' {
			lineStarts = append(lineStarts, i+1)
		}
	}
	lineOf := func(offset int) int {
		return sort.Search(len(lineStarts), func(i int) bool { return lineStarts[i] > offset }) - 1
	}

	b := &markdownBook{size: linesPerPage}
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var blocks []mdBlock
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindFencedCodeBlock, ast.KindCodeBlock, ast.KindHTMLBlock:
			return ast.WalkSkipChildren, nil
		case ast.KindHeading, ast.KindParagraph, ast.KindTextBlock:
			lines := n.Lines()
			content := inlineText(n, src)
			if content == "" || lines.Len() == 0 {
				return ast.WalkSkipChildren, nil
			}
			if h, ok := n.(*ast.Heading); ok && h.Level == 1 && b.meta.Title == "" {
				b.meta.Title = content
			}
			block := mdBlock{
				text:      content,
				firstLine: lineOf(lines.At(0).Start),
				lastLine:  lineOf(lines.At(lines.Len() - 1).Start),
			}
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				block.width = max(block.width, utf8.RuneCount(bytes.TrimRight(seg.Value(src), "\r\n")))
			}
			blocks = append(blocks, block)
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})

	if len(blocks) == 0 {
		return b
	}
	pageCount := blocks[len(blocks)-1].firstLine/linesPerPage + 1
	b.pages = make([][]mdBlock, pageCount)
	for _, block := range blocks {
		p := block.firstLine / linesPerPage
		b.pages[p] = append(b.pages[p], block)
	}
	return b
}

// inlineText flattens the inline content of a block into one line of prose.
func inlineText(n ast.Node, src []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			sb.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				sb.WriteByte(' ')
			}
		case *ast.String:
			sb.Write(t.Value)
		case *ast.AutoLink:
			sb.Write(t.Label(src))
		}
		return ast.WalkContinue, nil
	})
	return strings.Join(strings.Fields(sb.String()), " ")
}

func (b *markdownBook) Meta() Meta     { return b.meta }
func (b *markdownBook) PageCount() int { return len(b.pages) }
func (b *markdownBook) Close() error   { return nil }

func (b *markdownBook) Runs(pageIndex int) ([]page.Run, error) {
	if err := checkPage(b, pageIndex); err != nil {
		return nil, err
	}
	top := pageIndex * b.size
	blocks := b.pages[pageIndex]
	runs := make([]page.Run, 0, len(blocks))
	for _, block := range blocks {
		runs = append(runs, page.Run{
			Text: block.text + "\n\n",
			Box: &page.Rect{
				Left:   0,
				Top:    float64(block.firstLine - top),
				Right:  float64(block.width),
				Bottom: float64(block.lastLine - top + 1),
			},
		})
	}
	return runs, nil
}
