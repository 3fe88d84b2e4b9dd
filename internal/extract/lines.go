package extract

import (
	"math"
	"sort"
	"strings"

	"readaloud/internal/domain/page"
)

const (
	// Glyphs whose baselines differ by less than this fraction of the font
	// size share a line.
	sameLineTolerance = 0.5
	// A horizontal gap wider than this fraction of the font size is a word break.
	wordGap = 0.15
	// A baseline step larger than this multiple of the font size is a paragraph gap.
	paragraphGap = 1.5
)

// glyph is one positioned piece of text in PDF user space (origin bottom left).
type glyph struct {
	X, Y, W float64
	Size    float64
	S       string
}

type textLine struct {
	y      float64
	size   float64
	glyphs []glyph
}

// groupLines assembles glyphs into lines read top to bottom and left to right.
// Each line becomes a run whose box is in top-left page coordinates. A line
// followed by a paragraph gap (or by nothing) ends in "\n", any other in a space.
func groupLines(glyphs []glyph, pageHeight float64) []page.Run {
	sorted := make([]glyph, 0, len(glyphs))
	for _, g := range glyphs {
		if g.S != "" {
			if g.Size <= 0 {
				g.Size = 1
			}
			sorted = append(sorted, g)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Y > sorted[j].Y })

	var lines []*textLine
	for _, g := range sorted {
		if n := len(lines); n > 0 {
			cur := lines[n-1]
			if math.Abs(cur.y-g.Y) < sameLineTolerance*math.Max(cur.size, g.Size) {
				cur.glyphs = append(cur.glyphs, g)
				cur.size = math.Max(cur.size, g.Size)
				continue
			}
		}
		lines = append(lines, &textLine{y: g.Y, size: g.Size, glyphs: []glyph{g}})
	}

	runs := make([]page.Run, 0, len(lines))
	for i, line := range lines {
		text, box := line.render(pageHeight)
		if text == "" {
			continue
		}
		last := i == len(lines)-1
		if last || line.y-lines[i+1].y > paragraphGap*line.size {
			text += "\n"
		} else {
			text += " "
		}
		runs = append(runs, page.Run{Text: text, Box: box})
	}

	// The final kept line always closes its paragraph.
	if n := len(runs); n > 0 && !strings.HasSuffix(runs[n-1].Text, "\n") {
		runs[n-1].Text = strings.TrimSuffix(runs[n-1].Text, " ") + "\n"
	}
	return runs
}

func (l *textLine) render(pageHeight float64) (string, *page.Rect) {
	sort.SliceStable(l.glyphs, func(i, j int) bool { return l.glyphs[i].X < l.glyphs[j].X })

	var sb strings.Builder
	left, right := math.Inf(1), math.Inf(-1)
	for i, g := range l.glyphs {
		if i > 0 {
			prev := l.glyphs[i-1]
			gap := g.X - (prev.X + prev.W)
			if gap > wordGap*g.Size && !strings.HasSuffix(prev.S, " ") && !strings.HasPrefix(g.S, " ") {
				sb.WriteByte(' ')
			}
		}
		sb.WriteString(g.S)
		left = math.Min(left, g.X)
		right = math.Max(right, g.X+g.W)
	}

	text := strings.Join(strings.Fields(sb.String()), " ")
	if text == "" {
		return "", nil
	}
	return text, &page.Rect{
		Left:   left,
		Top:    pageHeight - (l.y + l.size),
		Right:  right,
		Bottom: pageHeight - l.y,
	}
}
