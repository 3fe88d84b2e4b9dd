package tts

import (
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// MockTTSEngine simulates speech by waiting for a reading-time estimate
type MockTTSEngine struct {
	mu       sync.Mutex
	speed    float64
	pitch    float64
	volume   float64
	voice    string
	listener Listener
	timer    *time.Timer
	current  string
	spoken   []string

	// TimeScale multiplies every simulated duration; tests shrink it.
	TimeScale float64
}

func (m *MockTTSEngine) GetAvailableVoices() ([]string, error) {
	return []string{"mock-voice"}, nil
}

func NewMockTTSEngine(c Config) *MockTTSEngine {
	return &MockTTSEngine{
		speed:     c.Speed,
		pitch:     c.Pitch,
		volume:    c.Volume,
		voice:     "default",
		TimeScale: 1,
	}
}

func (m *MockTTSEngine) SetListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listener = l
}

func (m *MockTTSEngine) Speak(text, utteranceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.timer != nil {
		m.timer.Stop()
	}

	// Simulate reading time based on text length
	words := len(strings.Fields(text))
	speed := m.speed
	if speed <= 0 {
		speed = 1
	}
	duration := time.Duration(float64(words) / 150.0 / speed * float64(time.Minute) * m.TimeScale)
	if duration <= 0 {
		duration = time.Millisecond
	}

	logrus.WithFields(logrus.Fields{
		"utterance": utteranceID,
		"words":     words,
		"duration":  duration,
	}).Debug("Mock engine speaking")

	m.current = utteranceID
	m.spoken = append(m.spoken, text)
	m.timer = time.AfterFunc(duration, func() { m.finish(utteranceID) })
	return true
}

func (m *MockTTSEngine) finish(utteranceID string) {
	m.mu.Lock()
	if m.current != utteranceID {
		m.mu.Unlock()
		return
	}
	m.current = ""
	l := m.listener
	m.mu.Unlock()

	if l != nil {
		l.UtteranceDone(utteranceID)
	}
}

// Spoken returns every text passed to Speak, in order.
func (m *MockTTSEngine) Spoken() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.spoken...)
}

func (m *MockTTSEngine) SetVoice(voice string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.voice = voice
	return nil
}

func (m *MockTTSEngine) SetRate(speed float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.speed = speed
	return nil
}

func (m *MockTTSEngine) SetPitchShift(pitch float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pitch = pitch
	return nil
}

func (m *MockTTSEngine) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.current = ""
	return nil
}

func (m *MockTTSEngine) IsPlaying() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != ""
}

func (m *MockTTSEngine) Close() error {
	return m.Stop()
}
