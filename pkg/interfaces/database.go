package interfaces

import (
	"context"

	"interviewhub/pkg/types"
)

// DatabaseManager handles all durable persistence: session archives written
// at termination time and the tracking audit trail.
// ARCHITECTURAL DISCOVERY: Single interface for all persistence operations
// enables consistent write serialization and connection management
type DatabaseManager interface {
	// ArchiveSession persists the terminal snapshot of a session. Called by
	// EndSession after the terminated marker is written.
	ArchiveSession(ctx context.Context, archive *types.SessionArchive) error

	// GetSessionArchive retrieves an archived session by code.
	GetSessionArchive(ctx context.Context, code string) (*types.SessionArchive, error)

	// ListSessionArchives returns archives newest-first.
	ListSessionArchives(ctx context.Context) ([]*types.SessionArchive, error)

	// StoreTrackingEvent appends one audit entry for a session.
	StoreTrackingEvent(ctx context.Context, sessionCode string, event *types.TrackingEvent) error

	// ListTrackingEvents returns a session's audit entries oldest-first.
	ListTrackingEvents(ctx context.Context, sessionCode string) ([]*types.TrackingEvent, error)

	// HealthCheck verifies connectivity and basic operations.
	HealthCheck(ctx context.Context) error

	// Close flushes pending writes and closes the connection.
	Close() error
}
