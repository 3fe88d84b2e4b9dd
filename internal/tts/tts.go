// internal/tts/tts.go
package tts

type Config struct {
	Type      string
	Speed     float64
	Pitch     float64
	Volume    float64
	Voice     string
	CachePath string
}

// Listener receives asynchronous utterance completion signals
type Listener interface {
	// UtteranceDone is called once an utterance has been spoken to the end.
	UtteranceDone(utteranceID string)

	// UtteranceError is called when an utterance could not be rendered.
	UtteranceError(utteranceID string, err error)
}

// Synthesizer speaks one utterance at a time. Speak replaces whatever is playing.
type Synthesizer interface {
	// Speak dispatches text and returns immediately. It reports whether the
	// utterance was accepted; completion arrives through the Listener.
	Speak(text, utteranceID string) bool

	// Stop silences the current utterance without firing its callbacks.
	Stop() error

	SetRate(rate float64) error
	SetPitchShift(pitch float64) error
	SetVoice(voice string) error

	// SetListener registers the completion callbacks.
	SetListener(l Listener)

	GetAvailableVoices() ([]string, error)
	Close() error
}

// CacheableEngine extends Synthesizer with cache management capabilities
type CacheableEngine interface {
	Synthesizer
	GetCacheStats() (map[string]interface{}, error)
	ClearCache() error
}

// ListenerFunc adapts a pair of functions to a Listener.
type ListenerFunc struct {
	Done  func(utteranceID string)
	Error func(utteranceID string, err error)
}

func (l ListenerFunc) UtteranceDone(id string) {
	if l.Done != nil {
		l.Done(id)
	}
}

func (l ListenerFunc) UtteranceError(id string, err error) {
	if l.Error != nil {
		l.Error(id, err)
	}
}
