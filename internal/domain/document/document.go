package document

import "time"

// Document describes an opened document as reported by its extraction source.
type Document struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Author    string `json:"author"`
	Format    string `json:"format"`
	PageCount int    `json:"page_count"`
}

// Position is the durable narration cursor inside a document.
type Position struct {
	DocumentID     string `json:"document_id"`
	PageIndex      int    `json:"page_index"`
	ParagraphIndex int    `json:"paragraph_index"`
}

// IsZero reports whether the position points nowhere.
func (p Position) IsZero() bool {
	return p == Position{}
}

// Progress is the stored reading progress for one document
type Progress struct {
	Position
	Speed     float64   `json:"speed"`
	Pitch     float64   `json:"pitch"`
	UpdatedAt time.Time `json:"updated_at"`
}
