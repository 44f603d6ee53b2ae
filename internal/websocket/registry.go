package websocket

import (
	"log"
	"sync"

	"interviewhub/pkg/types"
)

// Registry tracks live WebSocket connections by participant and session.
// ARCHITECTURAL DISCOVERY: Pure connection management without business logic;
// role-split maps make interviewer-only routing (security warnings, activity
// summaries) an O(session) lookup
type Registry struct {
	mu                  sync.RWMutex // TECHNICAL DISCOVERY: RWMutex optimizes for read-heavy lookup patterns
	globalConnections   map[string]*Connection            // participantID -> Connection
	sessionInterviewers map[string]map[string]*Connection // sessionCode -> participantID -> Connection
	sessionCandidates   map[string]map[string]*Connection // sessionCode -> participantID -> Connection
}

// NewRegistry creates a connection registry with all maps initialized.
func NewRegistry() *Registry {
	return &Registry{
		globalConnections:   make(map[string]*Connection),
		sessionInterviewers: make(map[string]map[string]*Connection),
		sessionCandidates:   make(map[string]map[string]*Connection),
	}
}

// RegisterConnection adds a connection to all appropriate maps atomically.
func (r *Registry) RegisterConnection(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if !conn.IsAuthenticated() {
		return ErrConnectionNotAuthenticated
	}

	participantID := conn.GetParticipantID()
	role := conn.GetRole()
	sessionCode := conn.GetSessionCode()

	r.mu.Lock()
	defer r.mu.Unlock()

	// FUNCTIONAL DISCOVERY: Close any existing connection for the same
	// participant asynchronously; the replacement is registered immediately
	if existingConn, exists := r.globalConnections[participantID]; exists {
		go func() {
			if err := existingConn.Close(); err != nil {
				log.Printf("websocket: failed to close replaced connection: %v", err)
			}
		}()
	}

	r.globalConnections[participantID] = conn

	switch role {
	case types.RoleInterviewer:
		if r.sessionInterviewers[sessionCode] == nil {
			r.sessionInterviewers[sessionCode] = make(map[string]*Connection)
		}
		r.sessionInterviewers[sessionCode][participantID] = conn
	case types.RoleCandidate:
		if r.sessionCandidates[sessionCode] == nil {
			r.sessionCandidates[sessionCode] = make(map[string]*Connection)
		}
		r.sessionCandidates[sessionCode][participantID] = conn
	}

	return nil
}

// UnregisterConnection removes a connection if it is still the registered
// one. Idempotent; a replaced connection cannot evict its successor.
func (r *Registry) UnregisterConnection(conn *Connection) {
	if conn == nil {
		return
	}

	participantID := conn.GetParticipantID()
	r.mu.Lock()
	defer r.mu.Unlock()

	registeredConn, exists := r.globalConnections[participantID]
	if !exists || registeredConn != conn {
		return
	}

	role := conn.GetRole()
	sessionCode := conn.GetSessionCode()

	delete(r.globalConnections, participantID)

	// TECHNICAL DISCOVERY: Clean up empty session maps to prevent memory leaks
	switch role {
	case types.RoleInterviewer:
		if interviewers, ok := r.sessionInterviewers[sessionCode]; ok {
			delete(interviewers, participantID)
			if len(interviewers) == 0 {
				delete(r.sessionInterviewers, sessionCode)
			}
		}
	case types.RoleCandidate:
		if candidates, ok := r.sessionCandidates[sessionCode]; ok {
			delete(candidates, participantID)
			if len(candidates) == 0 {
				delete(r.sessionCandidates, sessionCode)
			}
		}
	}
}

// GetParticipantConnection returns the current connection for a participant.
func (r *Registry) GetParticipantConnection(participantID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.globalConnections[participantID]
	return conn, exists
}

// GetSessionConnections returns every connection in a session.
func (r *Registry) GetSessionConnections(sessionCode string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var connections []*Connection
	for _, conn := range r.sessionInterviewers[sessionCode] {
		connections = append(connections, conn)
	}
	for _, conn := range r.sessionCandidates[sessionCode] {
		connections = append(connections, conn)
	}
	return connections
}

// GetSessionInterviewers returns the interviewer connections in a session,
// the audience for security warnings and activity summaries.
func (r *Registry) GetSessionInterviewers(sessionCode string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var connections []*Connection
	for _, conn := range r.sessionInterviewers[sessionCode] {
		connections = append(connections, conn)
	}
	return connections
}

// GetSessionCandidates returns the candidate connections in a session.
func (r *Registry) GetSessionCandidates(sessionCode string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var connections []*Connection
	for _, conn := range r.sessionCandidates[sessionCode] {
		connections = append(connections, conn)
	}
	return connections
}

// GetStats reports connection counts for the health endpoint.
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	uniqueSessions := make(map[string]bool)
	for sessionCode := range r.sessionInterviewers {
		uniqueSessions[sessionCode] = true
	}
	for sessionCode := range r.sessionCandidates {
		uniqueSessions[sessionCode] = true
	}

	return map[string]int{
		"total_connections": len(r.globalConnections),
		"active_sessions":   len(uniqueSessions),
	}
}
