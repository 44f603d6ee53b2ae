package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"interviewhub/pkg/interfaces"
	"interviewhub/pkg/types"
)

// Default presence timing. The heartbeat renews the disconnect lease well
// inside its TTL so a healthy connection never ages out.
const (
	DefaultHeartbeatInterval = 2 * time.Minute
	DefaultLeaseTTL          = 5 * time.Minute
)

// Callbacks receive presence transitions for one connection's view of a
// session. All callbacks run on the store's delivery goroutine for this
// subscription, so they observe roster changes in write order.
type Callbacks struct {
	// OnJoin fires once per participant who appears after the first snapshot.
	OnJoin func(p types.Participant)
	// OnLeave fires once per participant who disappears.
	OnLeave func(p types.Participant)
	// OnRoster fires on every snapshot with the full participant set.
	OnRoster func(users map[string]types.Participant)
}

// Tracker manages one participant's presence record and watches the roster
// for joins and leaves.
//
// ARCHITECTURAL DISCOVERY: Joins and leaves are computed by diffing
// consecutive roster snapshots rather than trusting per-event messages; a
// missed event cannot desynchronize the view because the next snapshot
// carries the full truth.
type Tracker struct {
	store       interfaces.RealtimeStore
	sessionCode string
	participant types.Participant
	callbacks   Callbacks

	heartbeatInterval time.Duration
	leaseTTL          time.Duration

	mu         sync.Mutex
	registered bool
	seeded     bool
	previous   map[string]types.Participant
	unsubUsers func()
	unsubConn  func()
	stopBeat   chan struct{}
	wg         sync.WaitGroup
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithHeartbeatInterval overrides the lease renewal cadence (tests).
func WithHeartbeatInterval(d time.Duration) TrackerOption {
	return func(t *Tracker) { t.heartbeatInterval = d }
}

// WithLeaseTTL overrides the disconnect lease TTL (tests).
func WithLeaseTTL(d time.Duration) TrackerOption {
	return func(t *Tracker) { t.leaseTTL = d }
}

// NewTracker creates a presence tracker for one participant in one session.
// The participant must carry a valid ID, name, and role.
func NewTracker(store interfaces.RealtimeStore, sessionCode string, participant types.Participant, callbacks Callbacks, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		store:             store,
		sessionCode:       sessionCode,
		participant:       participant,
		callbacks:         callbacks,
		heartbeatInterval: DefaultHeartbeatInterval,
		leaseTTL:          DefaultLeaseTTL,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) presencePath() string {
	return "sessions/" + t.sessionCode + "/users/" + t.participant.ID
}

func (t *Tracker) rosterPath() string {
	return "sessions/" + t.sessionCode + "/users"
}

// Register writes the presence record, arms the disconnect lease, and
// starts watching the roster. Idempotent: a second call is a no-op.
func (t *Tracker) Register(ctx context.Context) error {
	t.mu.Lock()
	if t.registered {
		t.mu.Unlock()
		return nil
	}
	t.registered = true
	t.stopBeat = make(chan struct{})
	t.mu.Unlock()

	if err := t.writePresence(ctx); err != nil {
		t.mu.Lock()
		t.registered = false
		t.mu.Unlock()
		return err
	}

	// FUNCTIONAL DISCOVERY: The roster subscription starts after our own
	// record is written, so the seeding snapshot already contains us and we
	// never announce our own join back to ourselves.
	unsubUsers := t.store.Subscribe(t.rosterPath(), t.handleRosterSnapshot)

	// Re-arm presence after a reconnect: the lease may have fired while we
	// were away, removing our record.
	unsubConn := t.store.SubscribeConnected(func(connected bool) {
		if !connected {
			return
		}
		t.mu.Lock()
		active := t.registered
		t.mu.Unlock()
		if !active {
			return
		}
		if err := t.writePresence(context.Background()); err != nil {
			log.Printf("presence: re-register after reconnect failed for %s: %v", t.participant.ID, err)
		}
	})

	t.mu.Lock()
	t.unsubUsers = unsubUsers
	t.unsubConn = unsubConn
	t.mu.Unlock()

	t.wg.Add(1)
	go t.heartbeatLoop()

	log.Printf("presence: %s (%s) registered in session %s", t.participant.Name, t.participant.ID, t.sessionCode)
	return nil
}

// writePresence stores the participant record and arms the lease.
func (t *Tracker) writePresence(ctx context.Context) error {
	if err := t.store.Set(ctx, t.presencePath(), t.participant); err != nil {
		return fmt.Errorf("failed to write presence record: %w", err)
	}
	if err := t.store.RegisterLease(t.participant.ID, t.presencePath(), t.leaseTTL); err != nil {
		return fmt.Errorf("failed to arm disconnect lease: %w", err)
	}
	return nil
}

func (t *Tracker) heartbeatLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.store.TouchLeases(t.participant.ID)
		case <-t.stopBeat:
			return
		}
	}
}

// handleRosterSnapshot diffs each roster snapshot against the previous one.
func (t *Tracker) handleRosterSnapshot(snap json.RawMessage) {
	current := make(map[string]types.Participant)
	if snap != nil {
		if err := json.Unmarshal(snap, &current); err != nil {
			log.Printf("presence: undecodable roster snapshot in %s: %v", t.sessionCode, err)
			return
		}
	}

	t.mu.Lock()
	seeded := t.seeded
	previous := t.previous
	t.previous = current
	t.seeded = true
	t.mu.Unlock()

	if t.callbacks.OnRoster != nil {
		t.callbacks.OnRoster(current)
	}

	// The first snapshot only seeds the baseline; everyone already present
	// is not "joining" from this connection's point of view.
	if !seeded {
		return
	}

	for id, p := range current {
		if id == t.participant.ID {
			continue
		}
		if _, was := previous[id]; !was {
			if p.ID == "" {
				p.ID = id
			}
			if t.callbacks.OnJoin != nil {
				t.callbacks.OnJoin(p)
			}
		}
	}
	for id, p := range previous {
		if id == t.participant.ID {
			continue
		}
		if _, is := current[id]; !is {
			if p.ID == "" {
				p.ID = id
			}
			if t.callbacks.OnLeave != nil {
				t.callbacks.OnLeave(p)
			}
		}
	}
}

// Unregister removes the presence record gracefully: the lease is cancelled
// first so the explicit removal is the only leave the roster sees.
func (t *Tracker) Unregister(ctx context.Context) error {
	t.mu.Lock()
	if !t.registered {
		t.mu.Unlock()
		return nil
	}
	t.registered = false
	unsubUsers, unsubConn := t.unsubUsers, t.unsubConn
	t.unsubUsers, t.unsubConn = nil, nil
	close(t.stopBeat)
	t.mu.Unlock()

	t.wg.Wait()
	if unsubUsers != nil {
		unsubUsers()
	}
	if unsubConn != nil {
		unsubConn()
	}

	t.store.CancelLease(t.participant.ID, t.presencePath())
	if err := t.store.Remove(ctx, t.presencePath()); err != nil {
		return fmt.Errorf("failed to remove presence record: %w", err)
	}
	log.Printf("presence: %s (%s) left session %s", t.participant.Name, t.participant.ID, t.sessionCode)
	return nil
}
