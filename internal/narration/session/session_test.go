package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"readaloud/internal/domain/document"
	"readaloud/internal/domain/page"
	"readaloud/internal/tts"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

type fakeSynth struct {
	mu       sync.Mutex
	listener tts.Listener
	ids      []string
	texts    []string
	stops    int
	reject   bool
	rate     float64
	pitch    float64
	voice    string
	closed   bool
}

func (f *fakeSynth) Speak(text, id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject {
		return false
	}
	f.ids = append(f.ids, id)
	f.texts = append(f.texts, text)
	return true
}

func (f *fakeSynth) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeSynth) SetRate(r float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rate = r
	return nil
}

func (f *fakeSynth) SetPitchShift(p float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pitch = p
	return nil
}

func (f *fakeSynth) SetVoice(v string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v == "missing" {
		return errors.New("voice 'missing' not available")
	}
	f.voice = v
	return nil
}

func (f *fakeSynth) SetListener(l tts.Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listener = l
}

func (f *fakeSynth) GetAvailableVoices() ([]string, error) { return []string{"fake"}, nil }

func (f *fakeSynth) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSynth) lastID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ids) == 0 {
		return ""
	}
	return f.ids[len(f.ids)-1]
}

// done reports completion of the most recent utterance.
func (f *fakeSynth) done() {
	id := f.lastID()
	f.mu.Lock()
	l := f.listener
	f.mu.Unlock()
	l.UtteranceDone(id)
}

func (f *fakeSynth) fail(err error) {
	id := f.lastID()
	f.mu.Lock()
	l := f.listener
	f.mu.Unlock()
	l.UtteranceError(id, err)
}

type fakeExtractor struct {
	mu    sync.Mutex
	title string
	pages [][]page.Run
	errs  map[int]error
	gates map[int]chan struct{}
	calls []int
}

func (f *fakeExtractor) Open(ctx context.Context, id string) (document.Document, error) {
	return document.Document{ID: id, Title: f.title, PageCount: len(f.pages)}, nil
}

func (f *fakeExtractor) ExtractRuns(ctx context.Context, id string, pageIndex int) ([]page.Run, error) {
	f.mu.Lock()
	f.calls = append(f.calls, pageIndex)
	gate := f.gates[pageIndex]
	err := f.errs[pageIndex]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}
	if err != nil {
		return nil, err
	}
	return f.pages[pageIndex], nil
}

// paragraphs builds a page whose runs segment into exactly the given texts.
func paragraphs(texts ...string) []page.Run {
	var runs []page.Run
	for i, t := range texts {
		if i > 0 {
			runs = append(runs, page.Run{Text: "\n\n"})
		}
		runs = append(runs, page.Run{Text: t})
	}
	return runs
}

type harness struct {
	t       *testing.T
	session *Session
	synth   *fakeSynth
	ext     *fakeExtractor
	states  chan State
	cancel  context.CancelFunc
}

func newHarness(t *testing.T, ext *fakeExtractor, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		synth:  &fakeSynth{},
		ext:    ext,
		states: make(chan State, 256),
	}
	opts := Options{
		NewSynthesizer: func() (tts.Synthesizer, error) { return h.synth, nil },
		SkipEmptyPages: true,
		OnState:        func(s State) { h.states <- s },
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.session = New(ext, opts)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go h.session.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.session.Done()
	})
	return h
}

func (h *harness) next() State {
	h.t.Helper()
	select {
	case s := <-h.states:
		return s
	case <-time.After(waitFor):
		h.t.Fatal("timed out waiting for state")
		return State{}
	}
}

func (h *harness) expect(status Status) State {
	h.t.Helper()
	s := h.next()
	require.Equal(h.t, status, s.Status, "state %+v", s)
	return s
}

func (h *harness) expectSpeaking(text string) State {
	h.t.Helper()
	s := h.expect(Speaking)
	require.NotNil(h.t, s.Paragraph)
	assert.Equal(h.t, text, s.Paragraph.Text)
	return s
}

func (h *harness) quiet() {
	h.t.Helper()
	select {
	case s := <-h.states:
		h.t.Fatalf("unexpected state %+v", s)
	case <-time.After(50 * time.Millisecond):
	}
}

func threeParagraphs() *fakeExtractor {
	return &fakeExtractor{
		title: "Book",
		pages: [][]page.Run{paragraphs(
			"The first paragraph of this page ends here.",
			"The second paragraph of this page ends here.",
			"The third paragraph of this page ends here.",
		)},
	}
}

func TestStateOrdering(t *testing.T) {
	h := newHarness(t, threeParagraphs(), nil)

	require.NoError(t, h.session.Start("doc", 0, 0))
	h.expect(LoadingPage)
	s := h.expectSpeaking("The first paragraph of this page ends here.")
	assert.Equal(t, "Book", s.Title)
	assert.Equal(t, 3, s.ParagraphCount)

	h.synth.done()
	s = h.expectSpeaking("The second paragraph of this page ends here.")
	assert.Equal(t, 1, s.Position.ParagraphIndex)

	h.synth.done()
	h.expectSpeaking("The third paragraph of this page ends here.")

	require.NoError(t, h.session.Pause())
	h.expect(Paused)

	require.NoError(t, h.session.Resume())
	s = h.expectSpeaking("The third paragraph of this page ends here.")
	assert.Equal(t, 2, s.Position.ParagraphIndex)

	require.NoError(t, h.session.Stop())
	s = h.expect(Idle)
	assert.Nil(t, s.Paragraph)
	h.quiet()
}

func TestFinishesAtEndOfDocument(t *testing.T) {
	ext := threeParagraphs()
	ext.pages = append(ext.pages, paragraphs("Only paragraph on the second and final page."))
	h := newHarness(t, ext, nil)

	require.NoError(t, h.session.Start("doc", 0, 2))
	h.expect(LoadingPage)
	h.expectSpeaking("The third paragraph of this page ends here.")

	h.synth.done()
	s := h.expect(LoadingPage)
	assert.Equal(t, 1, s.Position.PageIndex)
	h.expectSpeaking("Only paragraph on the second and final page.")

	h.synth.done()
	h.expect(Finished)
	h.quiet()
}

func TestPauseIsIdempotent(t *testing.T) {
	h := newHarness(t, threeParagraphs(), nil)

	require.NoError(t, h.session.Start("doc", 0, 0))
	h.expect(LoadingPage)
	h.expectSpeaking("The first paragraph of this page ends here.")

	require.NoError(t, h.session.Pause())
	h.expect(Paused)
	require.NoError(t, h.session.Pause())
	require.NoError(t, h.session.Resume())
	h.expectSpeaking("The first paragraph of this page ends here.")
	require.NoError(t, h.session.Resume())
	h.quiet()
}

func TestLateCallbackAfterPauseIsIgnored(t *testing.T) {
	h := newHarness(t, threeParagraphs(), nil)

	require.NoError(t, h.session.Start("doc", 0, 0))
	h.expect(LoadingPage)
	h.expectSpeaking("The first paragraph of this page ends here.")

	require.NoError(t, h.session.Pause())
	h.expect(Paused)
	h.synth.done()
	h.quiet()
	assert.Equal(t, Paused, h.session.State().Status)
}

func TestCallbackForOtherUtteranceIsIgnored(t *testing.T) {
	h := newHarness(t, threeParagraphs(), nil)

	require.NoError(t, h.session.Start("doc", 0, 0))
	h.expect(LoadingPage)
	h.expectSpeaking("The first paragraph of this page ends here.")

	h.session.UtteranceDone("somebody-else#1")
	h.quiet()
}

func TestStaleLoadIsDropped(t *testing.T) {
	ext := threeParagraphs()
	ext.pages = append(ext.pages, paragraphs("A paragraph on page two that is long enough."))
	gate := make(chan struct{})
	ext.gates = map[int]chan struct{}{0: gate}
	h := newHarness(t, ext, nil)

	require.NoError(t, h.session.Start("doc", 0, 0))
	h.expect(LoadingPage)

	// Page 0 is still loading when the user jumps to page 1.
	require.NoError(t, h.session.Start("doc", 1, 0))
	s := h.expect(LoadingPage)
	assert.Equal(t, 1, s.Position.PageIndex)
	h.expectSpeaking("A paragraph on page two that is long enough.")

	close(gate)
	h.quiet()
	assert.Equal(t, 1, h.session.State().Position.PageIndex)
}

func TestStopDuringLoad(t *testing.T) {
	ext := threeParagraphs()
	gate := make(chan struct{})
	ext.gates = map[int]chan struct{}{0: gate}
	h := newHarness(t, ext, nil)

	require.NoError(t, h.session.Start("doc", 0, 0))
	h.expect(LoadingPage)
	require.NoError(t, h.session.Stop())
	h.expect(Idle)

	close(gate)
	h.quiet()
}

func TestExtractionFailure(t *testing.T) {
	ext := threeParagraphs()
	ext.errs = map[int]error{0: errors.New("corrupt page")}
	h := newHarness(t, ext, nil)

	require.NoError(t, h.session.Start("doc", 0, 0))
	h.expect(LoadingPage)
	s := h.expect(Failed)
	assert.Equal(t, ErrExtraction.Error(), s.Reason)
	assert.Contains(t, s.Error, "corrupt page")

	// Commands other than start do nothing while failed.
	require.NoError(t, h.session.Next())
	h.quiet()

	// A fresh start is allowed and clears the error.
	ext.mu.Lock()
	ext.errs = nil
	ext.mu.Unlock()
	require.NoError(t, h.session.Start("doc", 0, 0))
	s = h.expect(LoadingPage)
	assert.Empty(t, s.Reason)
	h.expectSpeaking("The first paragraph of this page ends here.")
}

func TestPageOutOfRange(t *testing.T) {
	h := newHarness(t, threeParagraphs(), nil)

	require.NoError(t, h.session.Start("doc", 5, 0))
	h.expect(LoadingPage)
	s := h.expect(Failed)
	assert.Equal(t, ErrExtraction.Error(), s.Reason)
}

func TestSynthesizerInitFailure(t *testing.T) {
	attempts := 0
	h := newHarness(t, threeParagraphs(), func(o *Options) {
		o.NewSynthesizer = func() (tts.Synthesizer, error) {
			attempts++
			return nil, errors.New("no audio device")
		}
	})

	require.NoError(t, h.session.Start("doc", 0, 0))
	s := h.expect(Failed)
	assert.Equal(t, ErrSynthesizerInit.Error(), s.Reason)
	assert.Contains(t, s.Error, "no audio device")

	require.NoError(t, h.session.Start("doc", 0, 0))
	h.expect(Failed)
	assert.Equal(t, 2, attempts)
}

func TestRejectedSpeakFails(t *testing.T) {
	h := newHarness(t, threeParagraphs(), nil)
	h.synth.reject = true

	require.NoError(t, h.session.Start("doc", 0, 0))
	h.expect(LoadingPage)
	s := h.expect(Failed)
	assert.Equal(t, ErrSynthesizerInit.Error(), s.Reason)
}

func TestUtteranceErrorSkipsParagraph(t *testing.T) {
	h := newHarness(t, threeParagraphs(), nil)

	require.NoError(t, h.session.Start("doc", 0, 0))
	h.expect(LoadingPage)
	h.expectSpeaking("The first paragraph of this page ends here.")

	h.synth.fail(errors.New("network down"))
	s := h.expectSpeaking("The second paragraph of this page ends here.")
	assert.Equal(t, ErrUtterance.Error(), s.Reason)
	assert.Contains(t, s.Error, "network down")

	h.synth.done()
	s = h.expectSpeaking("The third paragraph of this page ends here.")
	assert.Empty(t, s.Reason)
}

func TestEmptyPagesAreSkipped(t *testing.T) {
	ext := &fakeExtractor{pages: [][]page.Run{
		paragraphs("Last paragraph before the blank pages arrives here."),
		nil,
		{{Text: "   "}},
		paragraphs("First paragraph after the blank pages arrives here."),
	}}
	h := newHarness(t, ext, nil)

	require.NoError(t, h.session.Start("doc", 0, 0))
	h.expect(LoadingPage)
	h.expectSpeaking("Last paragraph before the blank pages arrives here.")

	require.NoError(t, h.session.Next())
	assert.Equal(t, 1, h.expect(LoadingPage).Position.PageIndex)
	assert.Equal(t, 2, h.expect(LoadingPage).Position.PageIndex)
	assert.Equal(t, 3, h.expect(LoadingPage).Position.PageIndex)
	s := h.expectSpeaking("First paragraph after the blank pages arrives here.")
	assert.Equal(t, 3, s.Position.PageIndex)

	require.NoError(t, h.session.Previous())
	assert.Equal(t, 2, h.expect(LoadingPage).Position.PageIndex)
	assert.Equal(t, 1, h.expect(LoadingPage).Position.PageIndex)
	h.expect(LoadingPage)
	s = h.expectSpeaking("Last paragraph before the blank pages arrives here.")
	assert.Equal(t, 0, s.Position.PageIndex)
}

func TestEmptyPageFinishesWithoutSkipping(t *testing.T) {
	ext := &fakeExtractor{pages: [][]page.Run{
		nil,
		paragraphs("Unreachable paragraph on the second page of the book."),
	}}
	h := newHarness(t, ext, func(o *Options) { o.SkipEmptyPages = false })

	require.NoError(t, h.session.Start("doc", 0, 0))
	h.expect(LoadingPage)
	h.expect(Finished)
}

func TestPreviousLandsOnLastParagraphOfPreviousPage(t *testing.T) {
	ext := threeParagraphs()
	ext.pages = append(ext.pages, paragraphs("A paragraph on page two that is long enough."))
	h := newHarness(t, ext, nil)

	require.NoError(t, h.session.Start("doc", 1, 0))
	h.expect(LoadingPage)
	h.expectSpeaking("A paragraph on page two that is long enough.")

	require.NoError(t, h.session.Previous())
	s := h.expect(LoadingPage)
	assert.Equal(t, 0, s.Position.PageIndex)
	s = h.expectSpeaking("The third paragraph of this page ends here.")
	assert.Equal(t, 2, s.Position.ParagraphIndex)
}

func TestPreviousAtStartRestarts(t *testing.T) {
	h := newHarness(t, threeParagraphs(), nil)

	require.NoError(t, h.session.Start("doc", 0, 0))
	h.expect(LoadingPage)
	h.expectSpeaking("The first paragraph of this page ends here.")

	require.NoError(t, h.session.Previous())
	s := h.expectSpeaking("The first paragraph of this page ends here.")
	assert.Equal(t, 0, s.Position.ParagraphIndex)

	h.synth.mu.Lock()
	defer h.synth.mu.Unlock()
	require.Len(t, h.synth.ids, 2)
	assert.NotEqual(t, h.synth.ids[0], h.synth.ids[1])
}

func TestNextWhilePausedSpeaksNextParagraph(t *testing.T) {
	h := newHarness(t, threeParagraphs(), nil)

	require.NoError(t, h.session.Start("doc", 0, 0))
	h.expect(LoadingPage)
	h.expectSpeaking("The first paragraph of this page ends here.")
	require.NoError(t, h.session.Pause())
	h.expect(Paused)

	require.NoError(t, h.session.Next())
	h.expectSpeaking("The second paragraph of this page ends here.")
}

func TestStartClampsParagraphIndex(t *testing.T) {
	h := newHarness(t, threeParagraphs(), nil)

	require.NoError(t, h.session.Start("doc", 0, 99))
	h.expect(LoadingPage)
	s := h.expectSpeaking("The third paragraph of this page ends here.")
	assert.Equal(t, 2, s.Position.ParagraphIndex)
}

func TestSettingsApplyToSynthesizer(t *testing.T) {
	h := newHarness(t, threeParagraphs(), func(o *Options) {
		o.Speed = 1.5
		o.Voice = "fake"
	})

	require.NoError(t, h.session.Start("doc", 0, 0))
	h.expect(LoadingPage)
	h.expectSpeaking("The first paragraph of this page ends here.")

	h.synth.mu.Lock()
	assert.Equal(t, 1.5, h.synth.rate)
	assert.Equal(t, "fake", h.synth.voice)
	h.synth.mu.Unlock()

	require.NoError(t, h.session.SetSpeed(10))
	s := h.expect(Speaking)
	assert.Equal(t, maxSpeed, s.Speed)

	require.NoError(t, h.session.SetPitch(1.2))
	s = h.expect(Speaking)
	assert.Equal(t, 1.2, s.Pitch)

	require.NoError(t, h.session.SetVoice("missing"))
	s = h.expect(Speaking)
	assert.Equal(t, ErrSettings.Error(), s.Reason)
	assert.Equal(t, "missing", s.Voice)
}

func TestOutOfRangeSpeedIsClampedBeforeStart(t *testing.T) {
	h := newHarness(t, threeParagraphs(), func(o *Options) {
		o.Speed = 10
	})

	require.NoError(t, h.session.Start("doc", 0, 0))
	h.expect(LoadingPage)
	s := h.expectSpeaking("The first paragraph of this page ends here.")
	assert.Equal(t, maxSpeed, s.Speed)

	h.synth.mu.Lock()
	assert.Equal(t, maxSpeed, h.synth.rate)
	h.synth.mu.Unlock()
}

func TestNaNSettingsAreRejected(t *testing.T) {
	h := newHarness(t, threeParagraphs(), func(o *Options) {
		o.Speed = math.NaN()
		o.Pitch = math.NaN()
	})
	assert.Equal(t, 1.0, h.session.State().Speed)
	assert.Equal(t, 1.0, h.session.State().Pitch)

	assert.ErrorIs(t, h.session.SetSpeed(math.NaN()), ErrSettings)
	assert.ErrorIs(t, h.session.SetPitch(math.NaN()), ErrSettings)
	h.quiet()

	require.NoError(t, h.session.Start("doc", 0, 0))
	h.expect(LoadingPage)
	s := h.expectSpeaking("The first paragraph of this page ends here.")
	assert.Equal(t, 1.0, s.Speed)
}

func TestInitialSettings(t *testing.T) {
	tests := []struct {
		name         string
		speed, pitch float64
		wantSpeed    float64
		wantPitch    float64
	}{
		{"unset", 0, 0, 1, 1},
		{"kept", 1.5, 0.8, 1.5, 0.8},
		{"too fast", 10, 1, maxSpeed, 1},
		{"too slow", 0.01, 1, minSpeed, 1},
		{"negative", -2, -1, 1, 1},
		{"low pitch", 1, 0.01, 1, minPitch},
		{"nan", math.NaN(), math.NaN(), 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			speed, pitch := InitialSettings(tt.speed, tt.pitch)
			assert.Equal(t, tt.wantSpeed, speed)
			assert.Equal(t, tt.wantPitch, pitch)
		})
	}
}

func TestCommandsAfterShutdown(t *testing.T) {
	h := newHarness(t, threeParagraphs(), nil)

	require.NoError(t, h.session.Start("doc", 0, 0))
	h.expect(LoadingPage)
	h.expectSpeaking("The first paragraph of this page ends here.")

	h.cancel()
	<-h.session.Done()

	assert.ErrorIs(t, h.session.Next(), ErrClosed)
	h.synth.mu.Lock()
	defer h.synth.mu.Unlock()
	assert.True(t, h.synth.closed)
}

func TestUtteranceIDsAreUnique(t *testing.T) {
	h := newHarness(t, threeParagraphs(), nil)

	require.NoError(t, h.session.Start("doc", 0, 0))
	h.expect(LoadingPage)
	h.expectSpeaking("The first paragraph of this page ends here.")
	for i := 0; i < 3; i++ {
		require.NoError(t, h.session.Pause())
		h.expect(Paused)
		require.NoError(t, h.session.Resume())
		h.expect(Speaking)
	}

	h.synth.mu.Lock()
	defer h.synth.mu.Unlock()
	seen := map[string]bool{}
	for _, id := range h.synth.ids {
		assert.False(t, seen[id], fmt.Sprintf("duplicate id %s", id))
		seen[id] = true
	}
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "speaking", Speaking.String())
	assert.Equal(t, "loading", LoadingPage.String())
	assert.Equal(t, "unknown", Status(42).String())
}
