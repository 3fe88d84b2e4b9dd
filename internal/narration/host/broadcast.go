package host

import "sync"

// Broadcaster fans values out to any number of subscribers. Each subscriber
// has its own unbounded queue, so a slow reader never drops or reorders
// values and never holds up the publisher.
type Broadcaster[T any] struct {
	mu     sync.Mutex
	subs   map[uint64]*queue[T]
	nextID uint64
	closed bool
}

// NewBroadcaster returns an open broadcaster with no subscribers.
func NewBroadcaster[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{subs: make(map[uint64]*queue[T])}
}

// Subscription is one reader's view of a Broadcaster. C is closed when the
// subscription is cancelled or the broadcaster is closed.
type Subscription[T any] struct {
	C <-chan T

	id uint64
	b  *Broadcaster[T]
	q  *queue[T]
}

// Subscribe registers a new reader. It returns nil once the broadcaster is closed.
func (b *Broadcaster[T]) Subscribe(initial ...T) *Subscription[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}

	q := newQueue[T]()
	for _, v := range initial {
		q.push(v)
	}
	b.nextID++
	b.subs[b.nextID] = q
	go q.pump()

	return &Subscription[T]{C: q.out, id: b.nextID, b: b, q: q}
}

// Publish queues v for every current subscriber.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, q := range b.subs {
		q.push(v)
	}
}

// Len reports the number of live subscriptions.
func (b *Broadcaster[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every subscription after its queued values have been delivered.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, q := range b.subs {
		q.close()
		delete(b.subs, id)
	}
}

// Cancel detaches the subscription and closes C, discarding undelivered values.
func (s *Subscription[T]) Cancel() {
	s.b.mu.Lock()
	delete(s.b.subs, s.id)
	s.b.mu.Unlock()
	s.q.abort()
}

type queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	closed bool
	out    chan T
	stop   chan struct{}
	once   sync.Once
}

func newQueue[T any]() *queue[T] {
	q := &queue[T]{out: make(chan T), stop: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *queue[T]) push(v T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, v)
	q.cond.Signal()
}

func (q *queue[T]) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Signal()
}

func (q *queue[T]) abort() {
	q.once.Do(func() { close(q.stop) })
	q.close()
}

func (q *queue[T]) pump() {
	defer close(q.out)
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.items) == 0 {
			q.mu.Unlock()
			return
		}
		v := q.items[0]
		var zero T
		q.items[0] = zero
		q.items = q.items[1:]
		q.mu.Unlock()

		select {
		case q.out <- v:
		case <-q.stop:
			return
		}
	}
}
