// Package session drives paragraph-by-paragraph narration of one document.
//
// All mutable state is owned by the goroutine running Run. Commands and
// synthesizer callbacks are queued as events and handled strictly in arrival
// order, so a Session never needs a lock around its cursor.
package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"readaloud/internal/domain/document"
	"readaloud/internal/domain/page"
	"readaloud/internal/narration/segment"
	"readaloud/internal/tts"

	"github.com/sirupsen/logrus"
)

// Extractor provides document metadata and the positioned runs of one page.
type Extractor interface {
	Open(ctx context.Context, documentID string) (document.Document, error)
	ExtractRuns(ctx context.Context, documentID string, pageIndex int) ([]page.Run, error)
}

// Options configure a Session.
type Options struct {
	// NewSynthesizer is called on the first Start, and again after a
	// synthesizer failure.
	NewSynthesizer func() (tts.Synthesizer, error)
	Segmenter      segment.Segmenter
	SkipEmptyPages bool

	Speed float64
	Pitch float64
	Voice string

	// OnState receives every published snapshot on the session goroutine.
	// It must not block on the session.
	OnState func(State)
	Logger  *logrus.Entry
}

const (
	eventBuffer   = 64
	lastParagraph = -1
	minSpeed      = 0.1
	maxSpeed      = 4.0
	minPitch      = 0.1
)

// ClampSpeed limits speed to the range a session speaks at. NaN is rejected.
func ClampSpeed(speed float64) (float64, error) {
	if math.IsNaN(speed) {
		return 0, fmt.Errorf("%w: speed is not a number", ErrSettings)
	}
	return min(max(speed, minSpeed), maxSpeed), nil
}

// ClampPitch floors pitch at minPitch. NaN is rejected.
func ClampPitch(pitch float64) (float64, error) {
	if math.IsNaN(pitch) {
		return 0, fmt.Errorf("%w: pitch is not a number", ErrSettings)
	}
	return max(pitch, minPitch), nil
}

// InitialSettings returns the speed and pitch a new session starts with.
// Unset, non-positive or NaN values fall back to 1.0.
func InitialSettings(speed, pitch float64) (float64, float64) {
	if v, err := ClampSpeed(speed); err == nil && speed > 0 {
		speed = v
	} else {
		speed = 1.0
	}
	if v, err := ClampPitch(pitch); err == nil && pitch > 0 {
		pitch = v
	} else {
		pitch = 1.0
	}
	return speed, pitch
}

type eventKind int

const (
	evStart eventKind = iota
	evPause
	evResume
	evNext
	evPrevious
	evStop
	evSpeed
	evPitch
	evVoice
	evUtteranceDone
	evUtteranceError
	evPageLoaded
)

type event struct {
	kind      eventKind
	position  document.Position
	value     float64
	voice     string
	utterance string
	err       error
	load      *loadResult
}

type loadResult struct {
	gen        uint64
	pageIndex  int
	want       int
	direction  int
	doc        document.Document
	paragraphs []page.Paragraph
	err        error
}

// Session is a narration state machine for one document at a time.
type Session struct {
	extractor Extractor
	opts      Options
	log       *logrus.Entry

	events chan event
	done   chan struct{}

	mu   sync.RWMutex
	last State

	// owned by the Run goroutine
	synth      tts.Synthesizer
	state      State
	doc        document.Document
	paragraphs []page.Paragraph
	utterance  string
	seq        uint64
	loadGen    uint64
	loadCancel context.CancelFunc
	notice     error
}

// New creates an idle session. Nothing happens until Run is called.
func New(extractor Extractor, opts Options) *Session {
	opts.Speed, opts.Pitch = InitialSettings(opts.Speed, opts.Pitch)
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	s := &Session{
		extractor: extractor,
		opts:      opts,
		log:       log.WithField("component", "session"),
		events:    make(chan event, eventBuffer),
		done:      make(chan struct{}),
	}
	s.state = State{Status: Idle, Speed: opts.Speed, Pitch: opts.Pitch, Voice: opts.Voice}
	s.last = s.state.clone()
	return s
}

// Run processes events until ctx is cancelled. The synthesizer is stopped and
// closed on the way out.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)
	defer s.shutdown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-s.events:
			s.handle(ctx, ev)
		}
	}
}

// Done is closed once Run has returned.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// State returns the most recently published snapshot.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last.clone()
}

// Start begins narration of documentID at the given page and paragraph.
func (s *Session) Start(documentID string, pageIndex, paragraphIndex int) error {
	return s.send(event{kind: evStart, position: document.Position{
		DocumentID:     documentID,
		PageIndex:      pageIndex,
		ParagraphIndex: paragraphIndex,
	}})
}

func (s *Session) Pause() error    { return s.send(event{kind: evPause}) }
func (s *Session) Resume() error   { return s.send(event{kind: evResume}) }
func (s *Session) Next() error     { return s.send(event{kind: evNext}) }
func (s *Session) Previous() error { return s.send(event{kind: evPrevious}) }
func (s *Session) Stop() error     { return s.send(event{kind: evStop}) }

// SetSpeed changes the speaking rate from the next utterance on.
func (s *Session) SetSpeed(speed float64) error {
	speed, err := ClampSpeed(speed)
	if err != nil {
		return err
	}
	return s.send(event{kind: evSpeed, value: speed})
}

// SetPitch changes the pitch multiplier from the next utterance on.
func (s *Session) SetPitch(pitch float64) error {
	pitch, err := ClampPitch(pitch)
	if err != nil {
		return err
	}
	return s.send(event{kind: evPitch, value: pitch})
}

// SetVoice selects a synthesizer voice from the next utterance on.
func (s *Session) SetVoice(voice string) error {
	return s.send(event{kind: evVoice, voice: voice})
}

func (s *Session) send(ev event) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.events <- ev:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

// UtteranceDone implements tts.Listener.
func (s *Session) UtteranceDone(utteranceID string) {
	_ = s.send(event{kind: evUtteranceDone, utterance: utteranceID})
}

// UtteranceError implements tts.Listener.
func (s *Session) UtteranceError(utteranceID string, err error) {
	_ = s.send(event{kind: evUtteranceError, utterance: utteranceID, err: err})
}

func (s *Session) handle(ctx context.Context, ev event) {
	switch ev.kind {
	case evStart:
		s.start(ctx, ev.position)
	case evPause:
		s.pause()
	case evResume:
		s.resume()
	case evNext:
		s.next(ctx)
	case evPrevious:
		s.previous(ctx)
	case evStop:
		s.stop()
	case evSpeed:
		s.setSpeed(ev.value)
	case evPitch:
		s.setPitch(ev.value)
	case evVoice:
		s.setVoice(ev.voice)
	case evUtteranceDone:
		s.utteranceDone(ctx, ev.utterance)
	case evUtteranceError:
		s.utteranceError(ctx, ev.utterance, ev.err)
	case evPageLoaded:
		s.pageLoaded(ctx, ev.load)
	}
}

func (s *Session) start(ctx context.Context, pos document.Position) {
	s.silence()
	if err := s.ensureSynthesizer(); err != nil {
		s.fail(ErrSynthesizerInit, err)
		return
	}
	if pos.DocumentID != s.doc.ID {
		s.doc = document.Document{ID: pos.DocumentID}
		s.state.Title = ""
		s.state.PageCount = 0
	}
	s.load(ctx, max(pos.PageIndex, 0), max(pos.ParagraphIndex, 0), 1)
}

func (s *Session) ensureSynthesizer() error {
	if s.synth != nil {
		return nil
	}
	if s.opts.NewSynthesizer == nil {
		return errors.New("no synthesizer configured")
	}
	synth, err := s.opts.NewSynthesizer()
	if err != nil {
		return err
	}
	if err := synth.SetRate(s.state.Speed); err != nil {
		s.log.WithError(err).Warn("Synthesizer rejected speed")
	}
	if err := synth.SetPitchShift(s.state.Pitch); err != nil {
		s.log.WithError(err).Warn("Synthesizer rejected pitch")
	}
	if s.state.Voice != "" {
		if err := synth.SetVoice(s.state.Voice); err != nil {
			s.log.WithError(err).Warn("Synthesizer rejected voice")
		}
	}
	synth.SetListener(s)
	s.synth = synth
	return nil
}

// load moves to LoadingPage and fetches pageIndex in the background. want is
// the paragraph to land on, or lastParagraph; direction is where to keep
// looking when the page turns out to be empty.
func (s *Session) load(ctx context.Context, pageIndex, want, direction int) {
	s.cancelLoad()
	gen := s.loadGen

	lctx, cancel := context.WithCancel(ctx)
	s.loadCancel = cancel
	s.paragraphs = nil
	s.utterance = ""

	s.state.Status = LoadingPage
	s.state.Position = document.Position{
		DocumentID:     s.doc.ID,
		PageIndex:      pageIndex,
		ParagraphIndex: max(want, 0),
	}
	s.state.Paragraph = nil
	s.state.ParagraphCount = 0
	s.publish()

	s.log.WithFields(logrus.Fields{
		"document": s.doc.ID,
		"page":     pageIndex,
	}).Debug("Loading page")

	docID := s.doc.ID
	go func() {
		res := &loadResult{gen: gen, pageIndex: pageIndex, want: want, direction: direction}
		res.doc, res.paragraphs, res.err = s.fetch(lctx, docID, pageIndex)
		_ = s.send(event{kind: evPageLoaded, load: res})
	}()
}

func (s *Session) fetch(ctx context.Context, documentID string, pageIndex int) (document.Document, []page.Paragraph, error) {
	doc, err := s.extractor.Open(ctx, documentID)
	if err != nil {
		return doc, nil, err
	}
	if pageIndex >= doc.PageCount {
		return doc, nil, fmt.Errorf("page %d out of range (document has %d)", pageIndex, doc.PageCount)
	}
	runs, err := s.extractor.ExtractRuns(ctx, documentID, pageIndex)
	if err != nil {
		return doc, nil, err
	}
	return doc, s.opts.Segmenter.Segment(runs, pageIndex), nil
}

// cancelLoad abandons any in-flight page load; its result will be stale.
func (s *Session) cancelLoad() {
	s.loadGen++
	if s.loadCancel != nil {
		s.loadCancel()
		s.loadCancel = nil
	}
}

func (s *Session) pageLoaded(ctx context.Context, res *loadResult) {
	if res.gen != s.loadGen {
		s.log.WithField("page", res.pageIndex).Debug("Dropping stale page load")
		return
	}
	if s.loadCancel != nil {
		s.loadCancel()
		s.loadCancel = nil
	}
	if res.err != nil {
		s.fail(ErrExtraction, res.err)
		return
	}

	s.doc = res.doc
	s.state.Title = res.doc.Title
	s.state.PageCount = res.doc.PageCount

	if len(res.paragraphs) == 0 {
		following := res.pageIndex + res.direction
		if s.opts.SkipEmptyPages && following >= 0 && following < s.doc.PageCount {
			want := 0
			if res.direction < 0 {
				want = lastParagraph
			}
			s.load(ctx, following, want, res.direction)
			return
		}
		s.finish()
		return
	}

	s.paragraphs = res.paragraphs
	idx := res.want
	if idx < 0 || idx >= len(s.paragraphs) {
		idx = len(s.paragraphs) - 1
	}
	s.state.Position.ParagraphIndex = idx
	s.speak()
}

// speak dispatches the paragraph under the cursor.
func (s *Session) speak() {
	p := s.paragraphs[s.state.Position.ParagraphIndex]
	s.seq++
	id := fmt.Sprintf("%s#%d", p.ID, s.seq)

	if !s.synth.Speak(p.Text, id) {
		s.fail(ErrSynthesizerInit, errors.New("synthesizer rejected utterance"))
		return
	}
	s.utterance = id
	s.state.Status = Speaking
	s.state.Paragraph = &p
	s.state.ParagraphCount = len(s.paragraphs)
	s.publish()
}

// silence stops audio and forgets the current utterance so late callbacks are ignored.
func (s *Session) silence() {
	s.utterance = ""
	if s.synth == nil {
		return
	}
	if err := s.synth.Stop(); err != nil {
		s.log.WithError(err).Debug("Synthesizer stop failed")
	}
}

func (s *Session) pause() {
	if s.state.Status != Speaking {
		return
	}
	s.silence()
	s.state.Status = Paused
	s.publish()
}

func (s *Session) resume() {
	if s.state.Status != Paused {
		return
	}
	s.speak()
}

func (s *Session) navigable() bool {
	return s.state.Status == Speaking || s.state.Status == Paused
}

func (s *Session) next(ctx context.Context) {
	if !s.navigable() {
		return
	}
	s.silence()
	s.advance(ctx)
}

func (s *Session) advance(ctx context.Context) {
	pos := s.state.Position
	switch {
	case pos.ParagraphIndex+1 < len(s.paragraphs):
		s.state.Position.ParagraphIndex++
		s.speak()
	case pos.PageIndex+1 < s.doc.PageCount:
		s.load(ctx, pos.PageIndex+1, 0, 1)
	default:
		s.finish()
	}
}

func (s *Session) previous(ctx context.Context) {
	if !s.navigable() {
		return
	}
	s.silence()

	pos := s.state.Position
	switch {
	case pos.ParagraphIndex > 0:
		s.state.Position.ParagraphIndex--
		s.speak()
	case pos.PageIndex > 0:
		s.load(ctx, pos.PageIndex-1, lastParagraph, -1)
	default:
		s.speak()
	}
}

func (s *Session) stop() {
	if s.state.Status == Idle {
		return
	}
	s.silence()
	s.cancelLoad()
	s.paragraphs = nil
	s.state.Status = Idle
	s.state.Position = document.Position{}
	s.state.Paragraph = nil
	s.state.ParagraphCount = 0
	s.publish()
}

func (s *Session) finish() {
	s.silence()
	s.state.Status = Finished
	s.publish()
}

func (s *Session) fail(kind, err error) {
	s.silence()
	s.cancelLoad()
	if kind == ErrSynthesizerInit && s.synth != nil {
		if cerr := s.synth.Close(); cerr != nil {
			s.log.WithError(cerr).Debug("Synthesizer close failed")
		}
		s.synth = nil
	}

	wrapped := fmt.Errorf("%w: %v", kind, err)
	s.log.WithError(err).WithField("reason", kind.Error()).Warn("Narration failed")

	s.state.Status = Failed
	s.state.Reason = kind.Error()
	s.state.Error = wrapped.Error()
	s.publish()
}

func (s *Session) utteranceDone(ctx context.Context, id string) {
	if s.state.Status != Speaking || id != s.utterance {
		return
	}
	s.utterance = ""
	s.advance(ctx)
}

func (s *Session) utteranceError(ctx context.Context, id string, err error) {
	if s.state.Status != Speaking || id != s.utterance {
		return
	}
	s.log.WithError(err).WithField("utterance", id).Warn("Skipping paragraph that failed to render")
	s.notice = fmt.Errorf("%w: %v", ErrUtterance, err)
	s.utterance = ""
	s.advance(ctx)
}

func (s *Session) setSpeed(speed float64) {
	s.state.Speed = speed
	if s.synth != nil {
		if err := s.synth.SetRate(speed); err != nil {
			s.notice = fmt.Errorf("%w: %v", ErrSettings, err)
		}
	}
	s.publish()
}

func (s *Session) setPitch(pitch float64) {
	s.state.Pitch = pitch
	if s.synth != nil {
		if err := s.synth.SetPitchShift(pitch); err != nil {
			s.notice = fmt.Errorf("%w: %v", ErrSettings, err)
		}
	}
	s.publish()
}

func (s *Session) setVoice(voice string) {
	s.state.Voice = voice
	if s.synth != nil {
		if err := s.synth.SetVoice(voice); err != nil {
			s.notice = fmt.Errorf("%w: %v", ErrSettings, err)
		}
	}
	s.publish()
}

// publish hands a snapshot to OnState. Failure details stay until the next
// successful transition; a notice is shown exactly once.
func (s *Session) publish() {
	if s.state.Status != Failed {
		s.state.Reason = ""
		s.state.Error = ""
	}
	snapshot := s.state.clone()
	if s.notice != nil {
		snapshot.Reason = reason(s.notice)
		snapshot.Error = s.notice.Error()
		s.notice = nil
	}

	s.mu.Lock()
	s.last = snapshot
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"status":    snapshot.Status,
		"page":      snapshot.Position.PageIndex,
		"paragraph": snapshot.Position.ParagraphIndex,
	}).Debug("State changed")

	if s.opts.OnState != nil {
		s.opts.OnState(snapshot.clone())
	}
}

func reason(err error) string {
	for _, kind := range []error{ErrExtraction, ErrSynthesizerInit, ErrUtterance, ErrSettings} {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}
	return "error"
}

func (s *Session) shutdown() {
	s.cancelLoad()
	if s.synth == nil {
		return
	}
	s.silence()
	if err := s.synth.Close(); err != nil {
		s.log.WithError(err).Debug("Synthesizer close failed")
	}
	s.synth = nil
}
