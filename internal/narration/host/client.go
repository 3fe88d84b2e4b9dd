package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/googleapis/gax-go/v2"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotConnected is returned when a client has no host to talk to.
	ErrNotConnected = errors.New("not connected")
	// ErrConnectionFailed is returned once every connection attempt has failed.
	ErrConnectionFailed = errors.New("connection failed")
)

// ConnState is the client's view of its link to the host.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
	ConnectionFailed
)

func (c ConnState) String() string {
	switch c {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case ConnectionFailed:
		return "connection-failed"
	default:
		return "unknown"
	}
}

// ClientOptions configure connection retries.
type ClientOptions struct {
	Attempts int
	Backoff  gax.Backoff
	Logger   *logrus.Entry
}

// DefaultClientOptions retries five times starting at 100ms.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		Attempts: 5,
		Backoff: gax.Backoff{
			Initial:    100 * time.Millisecond,
			Max:        time.Second,
			Multiplier: 2,
		},
	}
}

// Client is an observer and remote control for the host behind a Binder.
// Disconnecting stops observation only; narration continues.
type Client struct {
	binder Binder
	opts   ClientOptions
	log    *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc

	connMu sync.Mutex // serialises connection attempts

	mu    sync.Mutex
	state ConnState
	host  *Host
	sub   *Subscription[Snapshot]
	last  Snapshot

	local  *Broadcaster[Snapshot]
	states *Broadcaster[ConnState]
}

// NewClient returns a disconnected client.
func NewClient(binder Binder, opts ClientOptions) *Client {
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		binder: binder,
		opts:   opts,
		log:    log.WithField("component", "client"),
		ctx:    ctx,
		cancel: cancel,
		local:  NewBroadcaster[Snapshot](),
		states: NewBroadcaster[ConnState](),
	}
}

// Connect binds to the host, retrying with backoff. Connecting while
// connected is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.mu.Lock()
	bound := c.state == Connected && c.host != nil
	c.mu.Unlock()
	if bound {
		return nil
	}
	c.setState(Connecting)

	bo := c.opts.Backoff
	var lastErr error
	for attempt := 1; attempt <= c.opts.Attempts; attempt++ {
		err := c.attach(ctx)
		if err == nil {
			c.log.WithField("attempt", attempt).Debug("Connected to host")
			return nil
		}
		lastErr = err
		c.log.WithError(err).WithField("attempt", attempt).Debug("Connection attempt failed")

		if ctx.Err() != nil || errors.Is(err, ErrRuntimeStopped) || attempt == c.opts.Attempts {
			break
		}
		if err := gax.Sleep(ctx, bo.Pause()); err != nil {
			lastErr = err
			break
		}
	}

	c.setState(ConnectionFailed)
	c.log.WithError(lastErr).Warn("Could not connect to host")
	return fmt.Errorf("%w: %w", ErrConnectionFailed, lastErr)
}

func (c *Client) attach(ctx context.Context) error {
	h, err := c.binder.Bind(ctx)
	if err != nil {
		return err
	}
	sub, err := h.Subscribe()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.host = h
	c.sub = sub
	c.mu.Unlock()
	c.setState(Connected)

	go c.watch(sub)
	return nil
}

// watch relays host snapshots until the subscription ends. An end the client
// did not ask for is a lost connection and triggers a reconnect.
func (c *Client) watch(sub *Subscription[Snapshot]) {
	for snap := range sub.C {
		c.mu.Lock()
		c.last = snap
		c.mu.Unlock()
		c.local.Publish(snap)
	}

	if !c.drop(nil, sub) {
		return
	}

	if c.ctx.Err() != nil {
		return
	}
	c.log.Warn("Lost connection to host, reconnecting")
	if err := c.Connect(c.ctx); err != nil {
		c.log.WithError(err).Warn("Reconnect failed")
	}
}

// drop forgets the binding if it still matches h or sub. The host and the
// state change together, so a Connected client always has a host.
func (c *Client) drop(h *Host, sub *Subscription[Snapshot]) bool {
	c.mu.Lock()
	current := c.sub != nil && (c.sub == sub || c.host == h)
	if current {
		sub = c.sub
		c.host = nil
		c.sub = nil
	}
	changed := current && c.state != Disconnected
	if changed {
		c.state = Disconnected
	}
	c.mu.Unlock()

	if current {
		sub.Cancel()
	}
	if changed {
		c.states.Publish(Disconnected)
	}
	return current
}

// Disconnect stops observing the host. Narration is unaffected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.host = nil
	c.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
	c.setState(Disconnected)
}

// Close disconnects and ends local subscriptions.
func (c *Client) Close() {
	c.cancel()
	c.Disconnect()
	c.local.Close()
	c.states.Close()
}

func (c *Client) setState(s ConnState) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed {
		c.states.Publish(s)
	}
}

// State reports the connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns the last snapshot received from the host.
func (c *Client) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Subscribe republishes host snapshots locally, starting with the last one seen.
func (c *Client) Subscribe() *Subscription[Snapshot] {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last.Seq == 0 {
		return c.local.Subscribe()
	}
	return c.local.Subscribe(c.last)
}

// ConnStates reports every connection state change.
func (c *Client) ConnStates() *Subscription[ConnState] {
	return c.states.Subscribe()
}

// connected returns the bound host, connecting first if necessary.
func (c *Client) connected(ctx context.Context) (*Host, error) {
	c.mu.Lock()
	h := c.host
	c.mu.Unlock()
	if h != nil {
		return h, nil
	}

	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.host == nil {
		return nil, ErrNotConnected
	}
	return c.host, nil
}

// do runs cmd on the bound host. A host that closed under the client is
// dropped and the command retried once on a fresh binding.
func (c *Client) do(ctx context.Context, cmd func(*Host) error) error {
	h, err := c.connected(ctx)
	if err != nil {
		return err
	}
	err = cmd(h)
	if !errors.Is(err, ErrHostClosed) {
		return err
	}

	c.drop(h, nil)
	if h, err = c.connected(ctx); err != nil {
		return err
	}
	return cmd(h)
}

// Start begins narration of documentID on the host.
func (c *Client) Start(ctx context.Context, documentID string, pageIndex, paragraphIndex int) error {
	return c.do(ctx, func(h *Host) error { return h.Start(documentID, pageIndex, paragraphIndex) })
}

func (c *Client) Pause(ctx context.Context) error    { return c.do(ctx, (*Host).Pause) }
func (c *Client) Resume(ctx context.Context) error   { return c.do(ctx, (*Host).Resume) }
func (c *Client) Next(ctx context.Context) error     { return c.do(ctx, (*Host).Next) }
func (c *Client) Previous(ctx context.Context) error { return c.do(ctx, (*Host).Previous) }
func (c *Client) Stop(ctx context.Context) error     { return c.do(ctx, (*Host).Stop) }

func (c *Client) SetSpeed(ctx context.Context, speed float64) error {
	return c.do(ctx, func(h *Host) error { return h.SetSpeed(speed) })
}

func (c *Client) SetPitch(ctx context.Context, pitch float64) error {
	return c.do(ctx, func(h *Host) error { return h.SetPitch(pitch) })
}

func (c *Client) SetVoice(ctx context.Context, voice string) error {
	return c.do(ctx, func(h *Host) error { return h.SetVoice(voice) })
}

func (c *Client) Dispatch(ctx context.Context, action string) error {
	return c.do(ctx, func(h *Host) error { return h.Dispatch(action) })
}

func (c *Client) StartSleepTimer(ctx context.Context, minutes int) error {
	return c.do(ctx, func(h *Host) error { return h.StartSleepTimer(minutes) })
}

func (c *Client) CancelSleepTimer(ctx context.Context) error {
	return c.do(ctx, func(h *Host) error {
		h.CancelSleepTimer()
		return nil
	})
}
