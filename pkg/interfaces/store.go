package interfaces

import (
	"context"
	"encoding/json"
	"time"
)

// ServerTimestamp is the write marker a client embeds where the store should
// substitute its own clock (Unix milliseconds) at commit time.
// FUNCTIONAL DISCOVERY: Kept as a JSON value rather than a Go sentinel type
// so the marker survives marshaling inside nested structures
var ServerTimestamp = map[string]any{".sv": "timestamp"}

// RealtimeStore is the platform's view of the external realtime database:
// an eventually-consistent hierarchical key-path store with subscribe/set/
// push/remove operations and last-writer-wins per path.
//
// ARCHITECTURAL DISCOVERY: Snapshots cross this boundary as json.RawMessage.
// The store is a wire-format boundary - components decode into their own
// types and never share mutable state through it.
type RealtimeStore interface {
	// Get reads a subtree once. A missing path yields (nil, nil).
	Get(ctx context.Context, path string) (json.RawMessage, error)

	// Set replaces the subtree at path. Setting nil removes it.
	Set(ctx context.Context, path string, value any) error

	// Update atomically read-modify-writes one subtree. fn receives the
	// current snapshot (nil if absent) and returns the replacement.
	// FUNCTIONAL DISCOVERY: This is the only compound-write primitive the
	// store offers; multi-path writes remain non-transactional.
	Update(ctx context.Context, path string, fn func(current json.RawMessage) (any, error)) error

	// Push appends value under a generated child key and returns the key.
	Push(ctx context.Context, path string, value any) (string, error)

	// Remove deletes the subtree at path.
	Remove(ctx context.Context, path string) error

	// Subscribe delivers a full snapshot of the subtree at path on every
	// change, in per-path write order, starting with the current state.
	// The returned function cancels the subscription.
	Subscribe(path string, fn func(snapshot json.RawMessage)) (unsubscribe func())

	// RegisterLease arranges for path to be removed when the owning client
	// disconnects: the lease expires ttl after its last renewal, or fires
	// immediately when the owner is released.
	RegisterLease(ownerID, path string, ttl time.Duration) error

	// TouchLeases renews every lease held by ownerID.
	TouchLeases(ownerID string)

	// ReleaseOwner fires all of ownerID's leases (abrupt disconnect).
	ReleaseOwner(ownerID string)

	// CancelLease discards a lease without firing it (graceful logout where
	// the client already removed the path itself).
	CancelLease(ownerID, path string)

	// Connected reports whether the store connection is established.
	Connected() bool

	// SubscribeConnected observes connectivity transitions, starting with
	// the current state.
	SubscribeConnected(fn func(connected bool)) (unsubscribe func())
}
