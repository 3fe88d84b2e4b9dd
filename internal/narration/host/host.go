// Package host keeps narration alive independently of any one observer and
// lets clients attach, detach and reconnect to it.
package host

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"readaloud/internal/narration/session"
	"readaloud/internal/narration/sleeptimer"

	"github.com/sirupsen/logrus"
)

var (
	// ErrHostClosed is returned once a host (or the runtime owning it) has shut down.
	ErrHostClosed = errors.New("host closed")
	// ErrRuntimeStopped is returned by a Runtime that will never bind again.
	ErrRuntimeStopped = fmt.Errorf("runtime stopped: %w", ErrHostClosed)
	// ErrUnknownAction is returned by Dispatch for an unrecognised media action.
	ErrUnknownAction = errors.New("unknown media action")
)

// Snapshot is what observers receive: the narration state and the sleep
// timer state, numbered in publication order.
type Snapshot struct {
	Seq       uint64           `json:"seq"`
	Narration session.State    `json:"narration"`
	Sleep     sleeptimer.State `json:"sleep"`
}

// Options configure a Host.
type Options struct {
	Extractor session.Extractor
	// Session is the template for every session the host creates. OnState
	// and Logger are overwritten.
	Session session.Options
	Timer   []sleeptimer.Option
	Logger  *logrus.Entry
}

// Host owns at most one narration session plus the sleep timer, and
// republishes their combined state to subscribers.
type Host struct {
	opts Options
	log  *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc

	// mu guards session ownership; it is held across session replacement.
	mu          sync.Mutex
	sess        *session.Session
	sessCancel  context.CancelFunc
	documentID  string
	timer       *sleeptimer.Timer
	sleepCancel context.CancelFunc
	closed      bool

	// stateMu guards the published snapshot.
	stateMu  sync.Mutex
	sessGen  uint64
	sleepGen uint64
	current  Snapshot
	subs     *Broadcaster[Snapshot]

	closeOnce sync.Once
	done      chan struct{}
}

// New creates a running host with no session.
func New(opts Options) *Host {
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	ctx, cancel := context.WithCancel(context.Background())

	speed, pitch := session.InitialSettings(opts.Session.Speed, opts.Session.Pitch)
	opts.Session.Speed, opts.Session.Pitch = speed, pitch

	h := &Host{
		opts:   opts,
		log:    log.WithField("component", "host"),
		ctx:    ctx,
		cancel: cancel,
		timer:  sleeptimer.New(opts.Timer...),
		subs:   NewBroadcaster[Snapshot](),
		done:   make(chan struct{}),
	}
	h.current.Narration = session.State{
		Status: session.Idle,
		Speed:  speed,
		Pitch:  pitch,
		Voice:  opts.Session.Voice,
	}
	return h
}

// Start begins narration. A different document replaces the current session.
func (h *Host) Start(documentID string, pageIndex, paragraphIndex int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHostClosed
	}

	if h.sess == nil || documentID != h.documentID {
		h.replaceLocked(documentID)
	}
	return h.sess.Start(documentID, pageIndex, paragraphIndex)
}

func (h *Host) replaceLocked(documentID string) {
	h.closeSessionLocked()

	h.stateMu.Lock()
	h.sessGen++
	gen := h.sessGen
	h.stateMu.Unlock()

	opts := h.opts.Session
	opts.Logger = h.log.WithField("document", documentID)
	opts.OnState = func(st session.State) { h.onNarration(gen, st) }

	sctx, cancel := context.WithCancel(h.ctx)
	sess := session.New(h.opts.Extractor, opts)
	go func() {
		if err := sess.Run(sctx); err != nil && !errors.Is(err, context.Canceled) {
			h.log.WithError(err).Warn("Session loop exited")
		}
	}()

	h.sess = sess
	h.sessCancel = cancel
	h.documentID = documentID
	h.log.WithField("document", documentID).Info("Session created")
}

// closeSessionLocked ends the current session and waits for its loop to exit.
// Its final states are discarded by bumping the generation first.
func (h *Host) closeSessionLocked() {
	if h.sess == nil {
		return
	}
	h.stateMu.Lock()
	h.sessGen++
	h.stateMu.Unlock()

	h.sessCancel()
	<-h.sess.Done()
	h.sess = nil
	h.sessCancel = nil
	h.documentID = ""
}

func (h *Host) session() *session.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sess
}

func (h *Host) forward(cmd func(*session.Session) error) error {
	h.mu.Lock()
	closed, sess := h.closed, h.sess
	h.mu.Unlock()
	if closed {
		return ErrHostClosed
	}
	if sess == nil {
		return nil
	}
	if err := cmd(sess); err != nil && !errors.Is(err, session.ErrClosed) {
		return err
	}
	return nil
}

func (h *Host) Pause() error    { return h.forward((*session.Session).Pause) }
func (h *Host) Resume() error   { return h.forward((*session.Session).Resume) }
func (h *Host) Next() error     { return h.forward((*session.Session).Next) }
func (h *Host) Previous() error { return h.forward((*session.Session).Previous) }
func (h *Host) Stop() error     { return h.forward((*session.Session).Stop) }

// SetSpeed applies to the current session and to any session started later.
func (h *Host) SetSpeed(speed float64) error {
	speed, err := session.ClampSpeed(speed)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.opts.Session.Speed = speed
	h.mu.Unlock()
	if h.session() == nil {
		h.updateIdle(func(st *session.State) { st.Speed = speed })
	}
	return h.forward(func(s *session.Session) error { return s.SetSpeed(speed) })
}

// SetPitch applies to the current session and to any session started later.
func (h *Host) SetPitch(pitch float64) error {
	pitch, err := session.ClampPitch(pitch)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.opts.Session.Pitch = pitch
	h.mu.Unlock()
	if h.session() == nil {
		h.updateIdle(func(st *session.State) { st.Pitch = pitch })
	}
	return h.forward(func(s *session.Session) error { return s.SetPitch(pitch) })
}

// SetVoice applies to the current session and to any session started later.
func (h *Host) SetVoice(voice string) error {
	h.mu.Lock()
	h.opts.Session.Voice = voice
	h.mu.Unlock()
	if h.session() == nil {
		h.updateIdle(func(st *session.State) { st.Voice = voice })
	}
	return h.forward(func(s *session.Session) error { return s.SetVoice(voice) })
}

func (h *Host) updateIdle(apply func(*session.State)) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	apply(&h.current.Narration)
	h.publishLocked()
}

// Media actions understood by Dispatch.
const (
	ActionPlay     = "play"
	ActionPause    = "pause"
	ActionToggle   = "toggle"
	ActionNext     = "next"
	ActionPrevious = "previous"
	ActionStop     = "stop"
)

// Dispatch maps a media-button style action onto a narration command.
func (h *Host) Dispatch(action string) error {
	switch action {
	case ActionPlay:
		return h.Resume()
	case ActionPause:
		return h.Pause()
	case ActionToggle, "play_pause":
		switch h.Snapshot().Narration.Status {
		case session.Speaking:
			return h.Pause()
		case session.Paused:
			return h.Resume()
		}
		return nil
	case ActionNext:
		return h.Next()
	case ActionPrevious:
		return h.Previous()
	case ActionStop:
		return h.Stop()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}

// StartSleepTimer stops narration after the given number of minutes. It
// replaces any countdown already running.
func (h *Host) StartSleepTimer(minutes int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHostClosed
	}
	if h.sleepCancel != nil {
		h.sleepCancel()
	}

	h.stateMu.Lock()
	h.sleepGen++
	gen := h.sleepGen
	h.stateMu.Unlock()

	ctx, cancel := context.WithCancel(h.ctx)
	h.sleepCancel = cancel
	ticks := h.timer.Start(ctx, minutes)

	h.log.WithField("minutes", minutes).Info("Sleep timer started")
	go h.consumeSleep(gen, ticks)
	return nil
}

func (h *Host) consumeSleep(gen uint64, ticks <-chan int) {
	for remaining := range ticks {
		if !h.onSleep(gen, sleeptimer.State{Active: remaining > 0, RemainingSeconds: remaining}) {
			continue
		}
		if remaining == 0 {
			h.log.Info("Sleep timer expired, stopping narration")
			if err := h.Stop(); err != nil {
				h.log.WithError(err).Warn("Sleep timer could not stop narration")
			}
		}
	}
}

// CancelSleepTimer abandons the countdown without stopping narration.
func (h *Host) CancelSleepTimer() {
	h.mu.Lock()
	if h.sleepCancel != nil {
		h.sleepCancel()
		h.sleepCancel = nil
	}
	h.timer.Cancel()
	h.mu.Unlock()

	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	h.sleepGen++
	if h.current.Sleep == (sleeptimer.State{}) {
		return
	}
	h.current.Sleep = sleeptimer.State{}
	h.publishLocked()
}

func (h *Host) onNarration(gen uint64, st session.State) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	if gen != h.sessGen {
		return
	}
	h.current.Narration = st
	h.publishLocked()
}

func (h *Host) onSleep(gen uint64, st sleeptimer.State) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	if gen != h.sleepGen {
		return false
	}
	h.current.Sleep = st
	h.publishLocked()
	return true
}

func (h *Host) publishLocked() {
	h.current.Seq++
	h.subs.Publish(h.current)
}

// Snapshot returns the latest published snapshot.
func (h *Host) Snapshot() Snapshot {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	return h.current
}

// Subscribe attaches an observer. The current snapshot is delivered first.
func (h *Host) Subscribe() (*Subscription[Snapshot], error) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	sub := h.subs.Subscribe(h.current)
	if sub == nil {
		return nil, ErrHostClosed
	}
	return sub, nil
}

// SubscriberCount reports how many observers are attached.
func (h *Host) SubscriberCount() int {
	return h.subs.Len()
}

// Close stops narration and the sleep timer and ends every subscription.
func (h *Host) Close() {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		h.closeSessionLocked()
		if h.sleepCancel != nil {
			h.sleepCancel()
			h.sleepCancel = nil
		}
		h.timer.Cancel()
		h.mu.Unlock()

		h.cancel()
		h.subs.Close()
		close(h.done)
		h.log.Info("Host closed")
	})
}

// Done is closed once the host has shut down.
func (h *Host) Done() <-chan struct{} {
	return h.done
}
