// Package sleeptimer provides the countdown that halts narration unattended.
package sleeptimer

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State is a snapshot of the countdown.
type State struct {
	Active           bool `json:"active"`
	RemainingSeconds int  `json:"remaining_seconds"`
}

// Option configures a Timer.
type Option func(*Timer)

// WithTick sets how often the countdown ticks and how many seconds each tick removes.
func WithTick(interval time.Duration, stepSeconds int) Option {
	return func(t *Timer) {
		if interval > 0 {
			t.interval = interval
		}
		if stepSeconds > 0 {
			t.step = stepSeconds
		}
	}
}

// Timer runs at most one countdown at a time.
type Timer struct {
	interval time.Duration
	step     int

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	state  State
}

// New creates an inactive timer ticking once per second.
func New(opts ...Option) *Timer {
	t := &Timer{interval: time.Second, step: 1}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start begins a countdown of durationMinutes, replacing any active one. The returned
// channel receives the remaining seconds, starting with the full duration and ending
// with 0, then closes. A cancelled countdown closes the channel without sending 0.
func (t *Timer) Start(ctx context.Context, durationMinutes int) <-chan int {
	total := durationMinutes * 60
	if total < 0 {
		total = 0
	}

	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
	}
	t.gen++
	gen := t.gen
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.state = State{Active: true, RemainingSeconds: total}
	t.mu.Unlock()

	out := make(chan int)
	go t.run(ctx, cancel, gen, total, out)
	return out
}

func (t *Timer) run(ctx context.Context, cancel context.CancelFunc, gen uint64, remaining int, out chan<- int) {
	defer close(out)
	defer cancel()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		if !t.emit(ctx, gen, remaining, out) {
			return
		}
		if remaining <= 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		remaining = max(remaining-t.step, 0)
	}
}

// emit records and delivers one value, unless this countdown was superseded.
func (t *Timer) emit(ctx context.Context, gen uint64, remaining int, out chan<- int) bool {
	t.mu.Lock()
	if t.gen != gen || ctx.Err() != nil {
		t.mu.Unlock()
		return false
	}
	t.state = State{Active: remaining > 0, RemainingSeconds: remaining}
	if remaining <= 0 {
		t.cancel = nil
	}
	t.mu.Unlock()

	select {
	case out <- remaining:
		return true
	case <-ctx.Done():
		return false
	}
}

// Cancel stops the active countdown, if any. No further values are delivered.
func (t *Timer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.gen++
	t.state = State{}
}

// State returns the current countdown state.
func (t *Timer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Format renders seconds as MM:SS.
func Format(totalSeconds int) string {
	if totalSeconds < 0 {
		totalSeconds = 0
	}
	return fmt.Sprintf("%02d:%02d", totalSeconds/60, totalSeconds%60)
}
