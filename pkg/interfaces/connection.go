package interfaces

// Connection represents one participant's gateway connection.
// ARCHITECTURAL DISCOVERY: Pure abstraction without transport details so the
// hub and presence plumbing can be tested against in-memory fakes
type Connection interface {
	// WriteJSON sends a JSON message to the client. Thread-safe; all
	// implementations must serialize writes.
	WriteJSON(v any) error

	// Close closes the connection and releases resources. Idempotent.
	Close() error

	// GetParticipantID returns the presence key (<role>_<random>).
	GetParticipantID() string

	// GetName returns the display name supplied at handshake.
	GetName() string

	// GetRole returns types.RoleCandidate or types.RoleInterviewer.
	GetRole() string

	// GetSessionCode returns the 6-digit code this connection joined.
	GetSessionCode() string

	// IsAuthenticated reports whether credentials have been set.
	IsAuthenticated() bool

	// SetCredentials binds the participant identity after validation.
	SetCredentials(participantID, name, role, sessionCode string) error
}
