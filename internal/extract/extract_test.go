package extract

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"readaloud/internal/domain/page"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func texts(runs []page.Run) []string {
	out := make([]string, 0, len(runs))
	for _, r := range runs {
		out = append(out, r.Text)
	}
	return out
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLookup(t *testing.T) {
	tests := []struct{ file, format string }{
		{"book.pdf", "PDF"},
		{"book.EPUB", "EPUB"},
		{"notes.md", "Markdown"},
		{"readme.markdown", "Markdown"},
		{"notes.txt", "Text"},
		{"a/b/c.text", "Text"},
	}
	for _, tt := range tests {
		f, err := Lookup(tt.file)
		require.NoError(t, err, tt.file)
		assert.Equal(t, tt.format, f.Name(), tt.file)
	}

	_, err := Lookup("image.png")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestSupportedFormatsAreUnique(t *testing.T) {
	formats := SupportedFormats()
	seen := map[string]bool{}
	for _, f := range formats {
		assert.False(t, seen[f], f)
		seen[f] = true
	}
	assert.Len(t, formats, 4)
}

func TestTextBookPages(t *testing.T) {
	b := newTextBook("Line one of the text\r\nline two ends.\n\nNew para here.\n", 2, Meta{})
	require.Equal(t, 2, b.PageCount())

	runs, err := b.Runs(0)
	require.NoError(t, err)
	assert.Equal(t, []string{"Line one of the text ", "line two ends. "}, texts(runs))
	require.NotNil(t, runs[1].Box)
	assert.Equal(t, page.Rect{Left: 0, Top: 1, Right: 14, Bottom: 2}, *runs[1].Box)

	runs, err = b.Runs(1)
	require.NoError(t, err)
	assert.Equal(t, []string{"\n\n", "New para here. "}, texts(runs))

	_, err = b.Runs(2)
	assert.ErrorIs(t, err, ErrPageOutOfRange)
}

func TestEmptyTextBook(t *testing.T) {
	assert.Equal(t, 0, newTextBook("\n\n", 10, Meta{}).PageCount())
	assert.Equal(t, 0, newTextBook("", 10, Meta{}).PageCount())
}

func TestMarkdownBook(t *testing.T) {
	src := strings.Join([]string{
		"# The Title",
		"",
		"First paragraph line one",
		"continues *here*.",
		"",
		"```go",
		"code()",
		"```",
		"",
		"- item one",
		"- item two",
	}, "\n")
	b := newMarkdownBook([]byte(src), 5)

	assert.Equal(t, "The Title", b.Meta().Title)
	require.Equal(t, 3, b.PageCount())

	runs, err := b.Runs(0)
	require.NoError(t, err)
	assert.Equal(t, []string{"The Title\n\n", "First paragraph line one continues here.\n\n"}, texts(runs))
	assert.Equal(t, page.Rect{Left: 0, Top: 2, Right: 24, Bottom: 4}, *runs[1].Box)

	runs, err = b.Runs(1)
	require.NoError(t, err)
	assert.Equal(t, []string{"item one\n\n"}, texts(runs))

	runs, err = b.Runs(2)
	require.NoError(t, err)
	assert.Equal(t, []string{"item two\n\n"}, texts(runs))
	assert.Equal(t, 0.0, runs[0].Box.Top)
}

func TestHTMLRuns(t *testing.T) {
	doc := `<html><head><title>Ignored</title><style>p{}</style></head>
<body>
  <h1>Chapter One</h1>
  <p>Hello <em>brave</em> new   world.</p>
  <p>Second
     para.</p>
  <script>alert(1)</script>
</body></html>`

	runs, err := htmlRuns(doc)
	require.NoError(t, err)
	assert.Equal(t, "Chapter One\nHello brave new world.\nSecond para.\n", strings.Join(texts(runs), ""))
	assert.NotContains(t, strings.Join(texts(runs), ""), "alert")
}

func TestCollapseSpace(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", ""},
		{"   ", " "},
		{"a  b", "a b"},
		{" a\n\tb ", " a b "},
		{"\nword", " word"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, collapseSpace(tt.in), "%q", tt.in)
	}
}

func TestGroupLines(t *testing.T) {
	glyphs := []glyph{
		{X: 72, Y: 650, W: 25, Size: 10, S: "Third"},
		{X: 100, Y: 700, W: 30, Size: 10, S: "world."},
		{X: 72, Y: 700, W: 25, Size: 10, S: "Hello"},
		{X: 72, Y: 688, W: 35, Size: 10, S: "Second"},
		{X: 200, Y: 688, W: 5, Size: 10, S: " "},
	}
	runs := groupLines(glyphs, 800)

	assert.Equal(t, []string{"Hello world. ", "Second\n", "Third\n"}, texts(runs))
	require.NotNil(t, runs[0].Box)
	assert.Equal(t, page.Rect{Left: 72, Top: 90, Right: 130, Bottom: 100}, *runs[0].Box)
	assert.True(t, runs[0].Box.Bottom <= runs[1].Box.Top+2, "lines must run top to bottom")
}

func TestGroupLinesJoinsTouchingGlyphs(t *testing.T) {
	glyphs := []glyph{
		{X: 10, Y: 100, W: 5, Size: 10, S: "W"},
		{X: 15, Y: 100, W: 5, Size: 10, S: "o"},
		{X: 20, Y: 100, W: 5, Size: 10, S: "rd"},
	}
	runs := groupLines(glyphs, 200)
	assert.Equal(t, []string{"Word\n"}, texts(runs))
	assert.Empty(t, groupLines(nil, 200))
}

func TestLibrary(t *testing.T) {
	path := writeFile(t, "notes.txt", "A first line of notes.\n\nAnd a second paragraph.\n")
	lib := NewLibrary(nil)
	defer lib.Close()
	ctx := context.Background()

	doc, err := lib.Open(ctx, ID(path))
	require.NoError(t, err)
	assert.Equal(t, "notes", doc.Title)
	assert.Equal(t, "Text", doc.Format)
	assert.Equal(t, 1, doc.PageCount)

	runs, err := lib.ExtractRuns(ctx, ID(path), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"A first line of notes. ", "\n\n", "And a second paragraph. "}, texts(runs))

	_, err = lib.ExtractRuns(ctx, ID(path), 1)
	assert.ErrorIs(t, err, ErrPageOutOfRange)

	_, err = lib.Open(ctx, writeFile(t, "picture.png", "x"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = lib.Open(ctx, filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = lib.ExtractRuns(cancelled, ID(path), 0)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, lib.Forget(ID(path)))
	require.NoError(t, lib.Forget(ID(path)))
}

func TestRegisterOverridesExtension(t *testing.T) {
	saved := registry
	t.Cleanup(func() { registry = saved })

	Register(&TextFormat{LinesPerPage: 1})
	path := writeFile(t, "short.txt", "one\ntwo\nthree\n")

	lib := NewLibrary(nil)
	defer lib.Close()
	doc, err := lib.Open(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 3, doc.PageCount)
}
