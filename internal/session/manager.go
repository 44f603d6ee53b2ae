package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"time"

	"interviewhub/pkg/interfaces"
	"interviewhub/pkg/types"
)

// maxCodeAttempts bounds collision redraws during session creation.
const maxCodeAttempts = 5

// autoArchiveReason is recorded on sessions aged out by the dashboard sweep.
const autoArchiveReason = "Auto-archived after 2 hours"

// Manager implements the admin-side session lifecycle over the realtime
// store, with terminal snapshots persisted to the archive database.
type Manager struct {
	store    interfaces.RealtimeStore
	database interfaces.DatabaseManager
	now      func() time.Time
	newCode  func() string
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerClock injects a clock (tests).
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithCodeGenerator injects the code source (tests force collisions).
func WithCodeGenerator(gen func() string) ManagerOption {
	return func(m *Manager) { m.newCode = gen }
}

// NewManager creates a lifecycle manager.
func NewManager(store interfaces.RealtimeStore, database interfaces.DatabaseManager, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:    store,
		database: database,
		now:      time.Now,
		newCode:  randomSessionCode,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// randomSessionCode draws a 6-digit code with no leading zero, matching the
// format candidates are asked to type.
func randomSessionCode() string {
	return fmt.Sprintf("%06d", 100000+rand.Intn(900000))
}

// CreateSession generates a fresh session record.
//
// FUNCTIONAL DISCOVERY: The code space is only a million values, so the
// generator checks for an existing record and redraws on collision instead
// of silently adopting someone else's live session.
func (m *Manager) CreateSession(ctx context.Context, createdBy string) (*types.Session, error) {
	if createdBy == "" {
		return nil, fmt.Errorf("createdBy is required")
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code := m.newCode()

		existing, err := m.store.Get(ctx, "sessions/"+code)
		if err != nil {
			return nil, fmt.Errorf("failed to check code %s: %w", code, err)
		}
		if existing != nil {
			log.Printf("session: code collision on %s, redrawing", code)
			continue
		}

		record := map[string]any{
			"created":   interfaces.ServerTimestamp,
			"createdBy": createdBy,
			"settings": map[string]any{
				"language": "javascript",
				"theme":    "monokai",
			},
		}
		if err := m.store.Set(ctx, "sessions/"+code, record); err != nil {
			return nil, fmt.Errorf("failed to write session %s: %w", code, err)
		}

		log.Printf("session: created %s by %s", code, createdBy)
		return &types.Session{
			Code:      code,
			Created:   m.now().UnixMilli(),
			CreatedBy: createdBy,
			Settings:  &types.Settings{Language: "javascript", Theme: "monokai"},
		}, nil
	}

	return nil, ErrCodeSpaceExhausted
}

// GetSession reads the live record at sessions/{code}.
func (m *Manager) GetSession(ctx context.Context, code string) (*types.Session, error) {
	raw, err := m.store.Get(ctx, "sessions/"+code)
	if err != nil {
		return nil, fmt.Errorf("failed to read session %s: %w", code, err)
	}
	if raw == nil {
		return nil, interfaces.ErrSessionNotFound
	}

	var session types.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", code, err)
	}
	session.Code = code
	return &session, nil
}

// EndSession terminates a session and archives its terminal state.
//
// ARCHITECTURAL DISCOVERY: The participant snapshot and the terminated
// marker are written in one atomic read-modify-write, so a participant
// disconnecting mid-termination can neither vanish from the preserved set
// nor linger in the live one. The mutation works on the raw map rather
// than a typed struct so keys this package does not model (editor content,
// tracking entries, warnings) survive the round trip.
func (m *Manager) EndSession(ctx context.Context, code, endedBy string) error {
	archive := &types.SessionArchive{Code: code}

	err := m.store.Update(ctx, "sessions/"+code, func(current json.RawMessage) (any, error) {
		if current == nil {
			return nil, interfaces.ErrSessionNotFound
		}

		var record map[string]any
		if err := json.Unmarshal(current, &record); err != nil {
			return nil, fmt.Errorf("failed to decode session %s: %w", code, err)
		}

		var typed types.Session
		if err := json.Unmarshal(current, &typed); err != nil {
			return nil, fmt.Errorf("failed to decode session %s: %w", code, err)
		}
		if typed.IsTerminated() {
			return nil, interfaces.ErrSessionTerminated
		}

		now := m.now().UnixMilli()

		if len(typed.Users) > 0 {
			record["preservedParticipants"] = record["users"]
		}
		if typed.ActivityFinalSummary == nil && typed.ActivitySummary != nil {
			record["activity_final_summary"] = record["activity_summary"]
		}
		record["terminated"] = map[string]any{
			"terminated":   true,
			"terminatedBy": endedBy,
			"terminatedAt": now,
		}

		archive.Created = typed.Created
		archive.CreatedBy = typed.CreatedBy
		archive.TerminatedBy = endedBy
		archive.TerminatedAt = now
		archive.PreservedParticipants = typed.Users
		archive.FinalSummary = typed.ActivityFinalSummary
		if archive.FinalSummary == nil {
			archive.FinalSummary = typed.ActivitySummary
		}
		archive.Notes = typed.InterviewerNotes

		return record, nil
	})
	if err != nil {
		return err
	}

	log.Printf("session: %s ended by %s", code, endedBy)

	// The terminated marker is already committed; an archive failure leaves
	// the session ended but undurable, so it must surface to the caller.
	if err := m.database.ArchiveSession(ctx, archive); err != nil {
		return fmt.Errorf("session %s ended but archive failed: %w", code, err)
	}
	return nil
}

// DeleteSession removes the session subtree entirely.
func (m *Manager) DeleteSession(ctx context.Context, code string) error {
	raw, err := m.store.Get(ctx, "sessions/"+code)
	if err != nil {
		return fmt.Errorf("failed to read session %s: %w", code, err)
	}
	if raw == nil {
		return interfaces.ErrSessionNotFound
	}
	if err := m.store.Remove(ctx, "sessions/"+code); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", code, err)
	}
	log.Printf("session: %s deleted", code)
	return nil
}

// ListSessions classifies every non-terminated session for the dashboard.
// Sessions past the expiry window are marked expired and flagged with an
// archive marker on first sight.
func (m *Manager) ListSessions(ctx context.Context) ([]*types.SessionInfo, error) {
	raw, err := m.store.Get(ctx, "sessions")
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	if raw == nil {
		return nil, nil
	}

	var records map[string]*types.Session
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("failed to decode session list: %w", err)
	}

	now := m.now()
	var infos []*types.SessionInfo
	for code, record := range records {
		if record.IsTerminated() {
			continue
		}

		info := &types.SessionInfo{
			Code:       code,
			Users:      record.Users,
			UserCount:  len(record.Users),
			Created:    record.Created,
			CreatedBy:  record.CreatedBy,
			Candidates: []string{},
		}

		var hasCandidate, hasInterviewer bool
		for _, p := range record.Users {
			switch p.Role {
			case types.RoleCandidate:
				hasCandidate = true
				info.Candidates = append(info.Candidates, p.Name)
			case types.RoleInterviewer:
				hasInterviewer = true
			}
		}
		sort.Strings(info.Candidates)

		if record.Age(now) > types.SessionExpiry {
			info.Status = types.StatusExpired
			info.IsExpired = true
			if record.Archived == nil {
				m.autoArchive(ctx, code)
			}
		} else if hasCandidate && hasInterviewer {
			info.Status = types.StatusInProgress
		} else if hasInterviewer {
			info.Status = types.StatusWaiting
		} else {
			info.Status = types.StatusActive
		}

		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Created > infos[j].Created })
	return infos, nil
}

// autoArchive stamps an expired session so the sweep flags it once.
func (m *Manager) autoArchive(ctx context.Context, code string) {
	marker := map[string]any{
		"archived":   true,
		"archivedAt": interfaces.ServerTimestamp,
		"reason":     autoArchiveReason,
	}
	if err := m.store.Set(ctx, "sessions/"+code+"/archived", marker); err != nil {
		log.Printf("session: failed to auto-archive %s: %v", code, err)
	}
}
