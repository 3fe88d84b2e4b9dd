package extract

import (
	"fmt"
	"io"
	"strings"

	"readaloud/internal/domain/page"

	"github.com/taylorskalyo/goreader/epub"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// EPUBFormat reads EPUB books, one page per spine item.
type EPUBFormat struct{}

func init() {
	Register(&EPUBFormat{})
}

func (f *EPUBFormat) Name() string         { return "EPUB" }
func (f *EPUBFormat) Extensions() []string { return []string{".epub"} }

func (f *EPUBFormat) Open(filename string) (Book, error) {
	rc, err := epub.OpenReader(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open epub: %w", err)
	}
	if len(rc.Rootfiles) == 0 {
		rc.Close()
		return nil, fmt.Errorf("no rootfiles found in epub")
	}

	book := rc.Rootfiles[0]
	b := &epubBook{
		rc: rc,
		meta: Meta{
			Title:  strings.TrimSpace(book.Metadata.Title),
			Author: strings.TrimSpace(book.Metadata.Creator),
		},
	}
	for _, ref := range book.Spine.Itemrefs {
		if ref.Item != nil {
			b.items = append(b.items, ref.Item)
		}
	}
	return b, nil
}

type epubBook struct {
	rc    *epub.ReadCloser
	meta  Meta
	items []*epub.Item
}

func (b *epubBook) Meta() Meta     { return b.meta }
func (b *epubBook) PageCount() int { return len(b.items) }
func (b *epubBook) Close() error   { b.rc.Close(); return nil }

func (b *epubBook) Runs(pageIndex int) ([]page.Run, error) {
	if err := checkPage(b, pageIndex); err != nil {
		return nil, err
	}
	r, err := b.items[pageIndex].Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return htmlRuns(string(data))
}

// blockElements end a line of speech when they close.
var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Blockquote: true, atom.Tr: true, atom.Section: true, atom.Pre: true,
	atom.Dt: true, atom.Dd: true, atom.Figcaption: true,
}

// htmlRuns walks an XHTML chapter. Text becomes runs; a closing block element
// ends the current line.
func htmlRuns(s string) ([]page.Run, error) {
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return nil, err
	}

	var runs []page.Run
	endLine := func() {
		if n := len(runs); n > 0 && !strings.HasSuffix(runs[n-1].Text, "\n") {
			runs = append(runs, page.Run{Text: "\n"})
		}
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style || n.DataAtom == atom.Head) {
			return
		}
		if n.Type == html.TextNode {
			switch t := collapseSpace(n.Data); t {
			case "":
			case " ":
				if k := len(runs); k > 0 && !endsInSpace(runs[k-1].Text) {
					runs = append(runs, page.Run{Text: t})
				}
			default:
				runs = append(runs, page.Run{Text: t})
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockElements[n.DataAtom] {
			endLine()
		}
	}
	walk(doc)
	return runs, nil
}

// collapseSpace squeezes whitespace to single spaces, keeping a space at
// either end if the original had one there.
func collapseSpace(s string) string {
	words := strings.Fields(s)
	if len(words) == 0 {
		if s == "" {
			return ""
		}
		return " "
	}
	out := strings.Join(words, " ")
	if endsInSpace(s[:1]) {
		out = " " + out
	}
	if endsInSpace(s) {
		out += " "
	}
	return out
}

func endsInSpace(s string) bool {
	return strings.HasSuffix(s, " ") || strings.HasSuffix(s, "\n") || strings.HasSuffix(s, "\t") || strings.HasSuffix(s, "\r")
}
