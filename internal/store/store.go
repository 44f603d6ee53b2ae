package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is an in-process realtime hierarchical key-value store: the
// platform-side stand-in for the external synchronization backend, exposed
// to components through interfaces.RealtimeStore.
//
// ARCHITECTURAL DISCOVERY: Snapshots are computed and enqueued per
// subscriber while the write lock is held, so every subscriber observes
// updates to a path in write order. Concurrent writers to the same path are
// still last-writer-wins; there is no cross-path transaction.
type Store struct {
	mu   sync.RWMutex
	root map[string]any // JSON-shaped tree: map[string]any / string / float64 / bool

	subs    map[int]*subscription
	nextSub int

	leases map[string]map[string]*lease // ownerID -> path -> lease

	connected bool
	connSubs  map[int]func(bool)
	nextConn  int

	now           func() time.Time
	sweepInterval time.Duration

	closed   bool
	shutdown chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// lease is a disconnect-cleanup intent: the path is removed when the lease
// expires without renewal or when the owner is released outright.
// FUNCTIONAL DISCOVERY: TTL-based expiry replaces the proprietary
// client-disconnect hook of the original backend - liveness is whatever
// keeps calling TouchLeases, not a transport-level callback
type lease struct {
	owner   string
	path    string
	ttl     time.Duration
	expires time.Time
}

// subscription delivers snapshots to one listener in enqueue order.
// TECHNICAL DISCOVERY: An unbounded queue drained by a dedicated goroutine
// keeps writers non-blocking without dropping snapshots; presence diffing
// is only correct if consecutive snapshots all arrive
type subscription struct {
	path []string
	fn   func(json.RawMessage)

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []json.RawMessage
	closed bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithSweepInterval overrides how often expired leases are collected.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Store) { s.sweepInterval = d }
}

// NewStore creates a store. Call Start to run the lease sweeper.
func NewStore(opts ...Option) *Store {
	s := &Store{
		root:          make(map[string]any),
		subs:          make(map[int]*subscription),
		leases:        make(map[string]map[string]*lease),
		connSubs:      make(map[int]func(bool)),
		now:           time.Now,
		sweepInterval: 5 * time.Second,
		shutdown:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start marks the store connected and begins lease sweeping.
func (s *Store) Start() {
	s.wg.Add(1)
	go s.sweepLoop()
	s.SetConnected(true)
}

// Stop halts sweeping and releases all subscriptions.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.shutdown)
	})
	s.wg.Wait()

	s.mu.Lock()
	s.closed = true
	subs := make([]*subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subs = make(map[int]*subscription)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

func (s *Store) sweepLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.SweepLeases()
		case <-s.shutdown:
			return
		}
	}
}

// SweepLeases fires every lease past its expiry. Exported so tests can
// drive expiry deterministically with an injected clock.
func (s *Store) SweepLeases() {
	now := s.now()

	s.mu.Lock()
	var fired []string
	for owner, paths := range s.leases {
		for path, l := range paths {
			if now.After(l.expires) {
				fired = append(fired, path)
				delete(paths, path)
			}
		}
		if len(paths) == 0 {
			delete(s.leases, owner)
		}
	}
	s.mu.Unlock()

	for _, path := range fired {
		log.Printf("store: lease expired, removing %s", path)
		if err := s.Remove(context.Background(), path); err != nil {
			log.Printf("store: lease removal failed for %s: %v", path, err)
		}
	}
}

// Get reads a subtree once. Missing paths yield (nil, nil).
func (s *Store) Get(ctx context.Context, path string) (json.RawMessage, error) {
	segs, err := splitPath(path)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return marshalSubtree(lookup(s.root, segs))
}

// Set replaces the subtree at path. Setting nil removes it.
func (s *Store) Set(ctx context.Context, path string, value any) error {
	segs, err := splitPath(path)
	if err != nil {
		return err
	}
	node, err := s.normalize(value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.setLocked(segs, node)
	return nil
}

// Update atomically read-modify-writes one subtree under the write lock.
func (s *Store) Update(ctx context.Context, path string, fn func(current json.RawMessage) (any, error)) error {
	segs, err := splitPath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	current, err := marshalSubtree(lookup(s.root, segs))
	if err != nil {
		return err
	}
	replacement, err := fn(current)
	if err != nil {
		return err
	}
	node, err := s.normalize(replacement)
	if err != nil {
		return err
	}
	s.setLocked(segs, node)
	return nil
}

// Push appends value under a generated child key and returns the key.
// Keys embed the write time so keyed-by-push-id listings sort insertion
// order lexicographically.
func (s *Store) Push(ctx context.Context, path string, value any) (string, error) {
	key := fmt.Sprintf("%013x-%s", s.now().UnixMilli(), strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
	if err := s.Set(ctx, path+"/"+key, value); err != nil {
		return "", err
	}
	return key, nil
}

// Remove deletes the subtree at path.
func (s *Store) Remove(ctx context.Context, path string) error {
	return s.Set(ctx, path, nil)
}

// Subscribe delivers full snapshots of path in write order, starting with
// the current state.
func (s *Store) Subscribe(path string, fn func(snapshot json.RawMessage)) func() {
	segs, err := splitPath(path)
	if err != nil {
		log.Printf("store: subscribe rejected: %v", err)
		return func() {}
	}

	sub := &subscription{path: segs, fn: fn}
	sub.cond = sync.NewCond(&sub.mu)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = sub

	// Initial snapshot enqueued under the same lock that serializes writes,
	// so a concurrent write can neither be missed nor outrun it.
	if initial, merr := marshalSubtree(lookup(s.root, segs)); merr == nil {
		sub.enqueue(initial)
	}
	s.mu.Unlock()

	go sub.drain()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
		sub.close()
	}
}

// RegisterLease arranges removal of path when ownerID disconnects.
func (s *Store) RegisterLease(ownerID, path string, ttl time.Duration) error {
	if _, err := splitPath(path); err != nil {
		return err
	}
	if ttl <= 0 {
		return fmt.Errorf("lease ttl must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.leases[ownerID] == nil {
		s.leases[ownerID] = make(map[string]*lease)
	}
	s.leases[ownerID][path] = &lease{
		owner:   ownerID,
		path:    path,
		ttl:     ttl,
		expires: s.now().Add(ttl),
	}
	return nil
}

// TouchLeases renews every lease held by ownerID.
func (s *Store) TouchLeases(ownerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.leases[ownerID] {
		l.expires = s.now().Add(l.ttl)
	}
}

// ReleaseOwner fires all of ownerID's leases immediately.
func (s *Store) ReleaseOwner(ownerID string) {
	s.mu.Lock()
	paths := make([]string, 0, len(s.leases[ownerID]))
	for path := range s.leases[ownerID] {
		paths = append(paths, path)
	}
	delete(s.leases, ownerID)
	s.mu.Unlock()

	for _, path := range paths {
		if err := s.Remove(context.Background(), path); err != nil {
			log.Printf("store: disconnect removal failed for %s: %v", path, err)
		}
	}
}

// CancelLease discards a lease without firing it.
func (s *Store) CancelLease(ownerID, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if paths := s.leases[ownerID]; paths != nil {
		delete(paths, path)
		if len(paths) == 0 {
			delete(s.leases, ownerID)
		}
	}
}

// Connected reports the connectivity signal.
func (s *Store) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// SetConnected flips the connectivity signal and notifies observers.
func (s *Store) SetConnected(connected bool) {
	s.mu.Lock()
	s.connected = connected
	observers := make([]func(bool), 0, len(s.connSubs))
	for _, fn := range s.connSubs {
		observers = append(observers, fn)
	}
	s.mu.Unlock()

	for _, fn := range observers {
		fn(connected)
	}
}

// SubscribeConnected observes connectivity transitions, starting with the
// current state.
func (s *Store) SubscribeConnected(fn func(bool)) func() {
	s.mu.Lock()
	id := s.nextConn
	s.nextConn++
	s.connSubs[id] = fn
	current := s.connected
	s.mu.Unlock()

	fn(current)

	return func() {
		s.mu.Lock()
		delete(s.connSubs, id)
		s.mu.Unlock()
	}
}

// setLocked writes node at segs and fans snapshots out to every overlapping
// subscriber. Caller holds the write lock.
func (s *Store) setLocked(segs []string, node any) {
	if node == nil {
		removeAt(s.root, segs)
	} else {
		setAt(s.root, segs, node)
	}

	for _, sub := range s.subs {
		if !pathsOverlap(sub.path, segs) {
			continue
		}
		snapshot, err := marshalSubtree(lookup(s.root, sub.path))
		if err != nil {
			log.Printf("store: snapshot marshal failed: %v", err)
			continue
		}
		sub.enqueue(snapshot)
	}
}

// normalize converts an arbitrary Go value into the store's JSON tree shape
// and resolves server-timestamp markers against the store clock.
func (s *Store) normalize(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("unstorable value: %w", err)
	}
	var node any
	if err := json.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("unstorable value: %w", err)
	}
	return s.resolveTimestamps(node), nil
}

func (s *Store) resolveTimestamps(node any) any {
	m, ok := node.(map[string]any)
	if !ok {
		return node
	}
	if sv, ok := m[".sv"]; ok && len(m) == 1 && sv == "timestamp" {
		return float64(s.now().UnixMilli())
	}
	for k, v := range m {
		m[k] = s.resolveTimestamps(v)
	}
	return node
}

func (sub *subscription) enqueue(snapshot json.RawMessage) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}
	sub.queue = append(sub.queue, snapshot)
	sub.cond.Signal()
}

func (sub *subscription) drain() {
	for {
		sub.mu.Lock()
		for len(sub.queue) == 0 && !sub.closed {
			sub.cond.Wait()
		}
		if sub.closed && len(sub.queue) == 0 {
			sub.mu.Unlock()
			return
		}
		snapshot := sub.queue[0]
		sub.queue = sub.queue[1:]
		sub.mu.Unlock()

		sub.fn(snapshot)
	}
}

func (sub *subscription) close() {
	sub.mu.Lock()
	sub.closed = true
	sub.queue = nil
	sub.cond.Broadcast()
	sub.mu.Unlock()
}
