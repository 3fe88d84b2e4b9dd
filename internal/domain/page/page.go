package page

// Rect is an axis-aligned box in page coordinates, origin at the top-left corner.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
}

// Union returns the smallest rectangle covering both r and o.
func (r Rect) Union(o Rect) Rect {
	return Rect{
		Left:   min(r.Left, o.Left),
		Top:    min(r.Top, o.Top),
		Right:  max(r.Right, o.Right),
		Bottom: max(r.Bottom, o.Bottom),
	}
}

// Contains reports whether o lies entirely inside r.
func (r Rect) Contains(o Rect) bool {
	return o.Left >= r.Left && o.Top >= r.Top && o.Right <= r.Right && o.Bottom <= r.Bottom
}

// Run is a contiguous run of characters with its position on a page.
// Box is nil for sources that carry no geometry (plain text, EPUB).
type Run struct {
	Text string `json:"text"`
	Box  *Rect  `json:"box,omitempty"`
}

// Paragraph is one speakable unit of page text.
type Paragraph struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	PageIndex   int    `json:"page_index"`
	BoundingBox *Rect  `json:"bounding_box,omitempty"`
}

// UnionBox merges two optional boxes.
func UnionBox(a, b *Rect) *Rect {
	switch {
	case a == nil && b == nil:
		return nil
	case a == nil:
		c := *b
		return &c
	case b == nil:
		c := *a
		return &c
	}
	u := a.Union(*b)
	return &u
}
