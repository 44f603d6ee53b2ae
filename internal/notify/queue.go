package notify

import (
	"log"
	"sync"
	"time"

	"interviewhub/pkg/types"
)

// Default display cadence. A notification owns the screen for the display
// window, fades, then leaves a gap before the next one renders.
const (
	DefaultDisplayDuration = 2000 * time.Millisecond
	DefaultFadeDuration    = 300 * time.Millisecond
	DefaultGapDuration     = 100 * time.Millisecond
)

// Sink renders notifications for one client. Show is called when a
// notification becomes the visible one; Hide when its display window ends.
type Sink interface {
	Show(n types.Notification) error
	Hide() error
}

// Queue serializes presence notifications for one connection.
//
// FUNCTIONAL DISCOVERY: At most one notification is ever visible; a burst of
// joins renders one at a time in arrival order rather than stacking. The
// queue is unbounded because entries leave only by being displayed.
type Queue struct {
	sink Sink

	display time.Duration
	fade    time.Duration
	gap     time.Duration
	sleep   func(time.Duration)

	mu      sync.Mutex
	pending []types.Notification
	running bool
	closed  bool
	wake    chan struct{}
	done    sync.WaitGroup
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithTimings overrides the display cadence (tests).
func WithTimings(display, fade, gap time.Duration) QueueOption {
	return func(q *Queue) {
		q.display = display
		q.fade = fade
		q.gap = gap
	}
}

// WithSleeper injects the wait function (tests).
func WithSleeper(sleep func(time.Duration)) QueueOption {
	return func(q *Queue) { q.sleep = sleep }
}

// NewQueue creates a notification queue feeding one sink.
func NewQueue(sink Sink, opts ...QueueOption) *Queue {
	q := &Queue{
		sink:    sink,
		display: DefaultDisplayDuration,
		fade:    DefaultFadeDuration,
		gap:     DefaultGapDuration,
		sleep:   time.Sleep,
		wake:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends a notification. Never blocks and never drops.
func (q *Queue) Enqueue(n types.Notification) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, n)
	if !q.running {
		q.running = true
		q.done.Add(1)
		go q.drain()
	}
	q.mu.Unlock()
}

// drain displays pending notifications one at a time until the queue
// empties, then exits. A later Enqueue starts a fresh drainer.
func (q *Queue) drain() {
	defer q.done.Done()
	for {
		q.mu.Lock()
		if len(q.pending) == 0 || q.closed {
			q.running = false
			q.mu.Unlock()
			return
		}
		n := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		if err := q.sink.Show(n); err != nil {
			log.Printf("notify: failed to show notification: %v", err)
			continue
		}
		q.sleep(q.display)
		if err := q.sink.Hide(); err != nil {
			log.Printf("notify: failed to hide notification: %v", err)
		}
		q.sleep(q.fade + q.gap)
	}
}

// Close stops the queue. Pending notifications are discarded; the currently
// displayed one finishes its window.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.pending = nil
	q.mu.Unlock()
	q.done.Wait()
}

// Len reports how many notifications are waiting (excludes the one being
// displayed).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
