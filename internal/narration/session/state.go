package session

import (
	"errors"

	"readaloud/internal/domain/document"
	"readaloud/internal/domain/page"
)

// Status is the playback status of a session.
type Status int

const (
	Idle Status = iota
	LoadingPage
	Speaking
	Paused
	Finished
	Failed
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case LoadingPage:
		return "loading"
	case Speaking:
		return "speaking"
	case Paused:
		return "paused"
	case Finished:
		return "finished"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText makes statuses readable in JSON output.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var (
	// ErrExtraction means the page text could not be obtained. A new Start may succeed.
	ErrExtraction = errors.New("extraction-error")
	// ErrSynthesizerInit means the synthesizer could not be created or refused to speak.
	ErrSynthesizerInit = errors.New("synthesizer-init-error")
	// ErrUtterance is attached for one transition when a paragraph failed to render.
	ErrUtterance = errors.New("utterance-error")
	// ErrSettings is attached for one transition when the synthesizer rejected a setting.
	ErrSettings = errors.New("settings-error")
	// ErrClosed is returned by commands once the session loop has exited.
	ErrClosed = errors.New("session closed")
)

// State is an immutable snapshot published after every transition.
type State struct {
	Status         Status            `json:"status"`
	Reason         string            `json:"reason,omitempty"`
	Error          string            `json:"error,omitempty"`
	Position       document.Position `json:"position"`
	Paragraph      *page.Paragraph   `json:"paragraph,omitempty"`
	ParagraphCount int               `json:"paragraph_count"`
	PageCount      int               `json:"page_count"`
	Title          string            `json:"title,omitempty"`
	Speed          float64           `json:"speed"`
	Pitch          float64           `json:"pitch"`
	Voice          string            `json:"voice,omitempty"`
}

// Active reports whether the session is somewhere between start and stop.
func (s State) Active() bool {
	return s.Status == LoadingPage || s.Status == Speaking || s.Status == Paused
}

func (s State) clone() State {
	if s.Paragraph != nil {
		p := *s.Paragraph
		if p.BoundingBox != nil {
			b := *p.BoundingBox
			p.BoundingBox = &b
		}
		s.Paragraph = &p
	}
	return s
}
