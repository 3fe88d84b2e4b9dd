// Package segment turns the positioned text runs of one page into speakable paragraphs.
package segment

import (
	"strings"
	"unicode/utf8"

	"readaloud/internal/domain/page"

	"github.com/google/uuid"
)

const (
	// DefaultMergeThreshold is the rune count below which an unterminated unit is
	// glued to the unit that follows it.
	DefaultMergeThreshold = 40
	// DefaultTerminators are the characters that end a sentence.
	DefaultTerminators = ".?!"
)

// Policy holds the tunable constants of the paragraph heuristic.
type Policy struct {
	MergeThreshold int
	Terminators    string
}

// DefaultPolicy returns the stock heuristic.
func DefaultPolicy() Policy {
	return Policy{MergeThreshold: DefaultMergeThreshold, Terminators: DefaultTerminators}
}

// Segmenter splits runs into paragraphs. The zero value uses DefaultPolicy and random ids.
type Segmenter struct {
	Policy Policy
	NewID  func() string
}

// New returns a Segmenter for the given policy.
func New(p Policy) Segmenter {
	return Segmenter{Policy: p}
}

// Segment splits runs with the default policy.
func Segment(runs []page.Run, pageIndex int) []page.Paragraph {
	return Segmenter{}.Segment(runs, pageIndex)
}

// unit is an intermediate paragraph candidate.
type unit struct {
	text string
	box  *page.Rect
}

// span records where a run landed inside the accumulation buffer.
type span struct {
	start, end int
	box        *page.Rect
}

// Segment splits runs, which must already be in reading order, into paragraphs.
func (s Segmenter) Segment(runs []page.Run, pageIndex int) []page.Paragraph {
	if len(runs) == 0 {
		return []page.Paragraph{}
	}
	policy := s.policy()

	units := split(runs, policy)
	units = merge(units, policy)

	newID := s.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	paragraphs := make([]page.Paragraph, 0, len(units))
	for _, u := range units {
		paragraphs = append(paragraphs, page.Paragraph{
			ID:          newID(),
			Text:        u.text,
			PageIndex:   pageIndex,
			BoundingBox: u.box,
		})
	}
	return paragraphs
}

func (s Segmenter) policy() Policy {
	p := s.Policy
	if p.MergeThreshold <= 0 {
		p.MergeThreshold = DefaultMergeThreshold
	}
	if p.Terminators == "" {
		p.Terminators = DefaultTerminators
	}
	return p
}

// split accumulates runs into units, closing the buffer at line breaks and at
// sentence-final runs once the buffer is long enough to stand alone.
func split(runs []page.Run, p Policy) []unit {
	var (
		units []unit
		buf   strings.Builder
		spans []span
	)

	flush := func() {
		units = append(units, cut(buf.String(), spans)...)
		buf.Reset()
		spans = spans[:0]
	}

	for _, r := range runs {
		start := buf.Len()
		buf.WriteString(r.Text)
		spans = append(spans, span{start: start, end: buf.Len(), box: r.Box})

		text := buf.String()
		switch {
		case strings.Contains(text, "\n\n"), strings.HasSuffix(text, "\n"):
			flush()
		case p.terminated(r.Text) && runeLen(text) >= p.MergeThreshold:
			flush()
		}
	}
	if buf.Len() > 0 {
		flush()
	}
	return units
}

// cut splits a closed buffer on blank lines. Each piece is boxed by the runs it overlaps.
func cut(text string, spans []span) []unit {
	var units []unit
	offset := 0
	for _, piece := range strings.Split(text, "\n\n") {
		pieceStart := offset
		offset += len(piece) + len("\n\n")

		trimmed := strings.TrimSpace(piece)
		if trimmed == "" {
			continue
		}
		lo := pieceStart + strings.Index(piece, trimmed)
		hi := lo + len(trimmed)

		var box *page.Rect
		for _, sp := range spans {
			if sp.box != nil && sp.start < hi && sp.end > lo {
				box = page.UnionBox(box, sp.box)
			}
		}
		units = append(units, unit{text: trimmed, box: box})
	}
	return units
}

// merge glues short, unterminated units onto whatever follows them.
func merge(units []unit, p Policy) []unit {
	if len(units) == 0 {
		return units
	}
	out := make([]unit, 0, len(units))
	acc := units[0]
	for _, next := range units[1:] {
		if p.short(acc.text) {
			acc = unit{
				text: acc.text + " " + next.text,
				box:  page.UnionBox(acc.box, next.box),
			}
			continue
		}
		out = append(out, acc)
		acc = next
	}
	return append(out, acc)
}

func (p Policy) short(text string) bool {
	t := strings.TrimSpace(text)
	return runeLen(t) < p.MergeThreshold && !p.terminated(t)
}

func (p Policy) terminated(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return false
	}
	last, _ := utf8.DecodeLastRuneInString(t)
	return strings.ContainsRune(p.Terminators, last)
}

func runeLen(s string) int {
	return utf8.RuneCountInString(strings.TrimSpace(s))
}
