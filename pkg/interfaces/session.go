package interfaces

import (
	"context"

	"interviewhub/pkg/types"
)

// ValidationResult is what a join attempt sees. Error carries the exact
// human-readable message to display; it is never a Go error because
// validation failures are expected outcomes, not faults.
type ValidationResult struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// SessionValidator decides whether a session may be joined.
type SessionValidator interface {
	// Validate reads the session record once (no subscription) and applies
	// the role-specific joinability rules. Read-only, never panics.
	Validate(ctx context.Context, code string, role string) ValidationResult
}

// SessionManager is the admin-side lifecycle surface.
type SessionManager interface {
	// CreateSession generates a collision-checked 6-digit code and writes
	// the creation metadata.
	CreateSession(ctx context.Context, createdBy string) (*types.Session, error)

	// GetSession reads the live session record.
	GetSession(ctx context.Context, code string) (*types.Session, error)

	// EndSession snapshots live users into preservedParticipants, writes the
	// terminated marker, and archives the session to durable storage.
	EndSession(ctx context.Context, code, endedBy string) error

	// DeleteSession removes the session subtree entirely. Irreversible.
	DeleteSession(ctx context.Context, code string) error

	// ListSessions classifies every non-terminated session for the
	// dashboard and auto-archives anything past the expiry window.
	ListSessions(ctx context.Context) ([]*types.SessionInfo, error)
}
