package hub

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"interviewhub/internal/store"
	"interviewhub/pkg/interfaces"
	"interviewhub/pkg/types"
)

// mockConn implements interfaces.Connection and records outbound messages.
type mockConn struct {
	mu            sync.Mutex
	participantID string
	name          string
	role          string
	sessionCode   string
	messages      []map[string]any
	wrote         chan struct{}
}

func newMockConn(id, name, role, sessionCode string) *mockConn {
	return &mockConn{
		participantID: id,
		name:          name,
		role:          role,
		sessionCode:   sessionCode,
		wrote:         make(chan struct{}, 128),
	}
}

func (m *mockConn) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	m.mu.Lock()
	m.messages = append(m.messages, msg)
	m.mu.Unlock()
	m.wrote <- struct{}{}
	return nil
}

func (m *mockConn) Close() error              { return nil }
func (m *mockConn) GetParticipantID() string  { return m.participantID }
func (m *mockConn) GetName() string           { return m.name }
func (m *mockConn) GetRole() string           { return m.role }
func (m *mockConn) GetSessionCode() string    { return m.sessionCode }
func (m *mockConn) IsAuthenticated() bool     { return true }
func (m *mockConn) SetCredentials(participantID, name, role, sessionCode string) error {
	return nil
}

// waitFor blocks until a message of the given type arrives.
func (m *mockConn) waitFor(t *testing.T, msgType string) map[string]any {
	t.Helper()
	return m.waitForMessage(t, func(msg map[string]any) bool {
		return msg["type"] == msgType
	})
}

func (m *mockConn) waitForMessage(t *testing.T, match func(map[string]any) bool) map[string]any {
	t.Helper()
	deadline := time.After(2 * time.Second)
	seen := 0
	for {
		m.mu.Lock()
		for ; seen < len(m.messages); seen++ {
			if match(m.messages[seen]) {
				msg := m.messages[seen]
				m.mu.Unlock()
				return msg
			}
		}
		m.mu.Unlock()
		select {
		case <-m.wrote:
		case <-deadline:
			t.Fatalf("timed out waiting for message, got %v", m.snapshot())
		}
	}
}

func (m *mockConn) snapshot() []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]map[string]any(nil), m.messages...)
}

// mockDatabase records tracking events.
type mockDatabase struct {
	mu     sync.Mutex
	events []*types.TrackingEvent
}

func (m *mockDatabase) ArchiveSession(_ context.Context, _ *types.SessionArchive) error { return nil }
func (m *mockDatabase) GetSessionArchive(_ context.Context, _ string) (*types.SessionArchive, error) {
	return nil, interfaces.ErrArchiveNotFound
}
func (m *mockDatabase) ListSessionArchives(_ context.Context) ([]*types.SessionArchive, error) {
	return nil, nil
}
func (m *mockDatabase) StoreTrackingEvent(_ context.Context, _ string, event *types.TrackingEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}
func (m *mockDatabase) ListTrackingEvents(_ context.Context, _ string) ([]*types.TrackingEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*types.TrackingEvent(nil), m.events...), nil
}
func (m *mockDatabase) HealthCheck(_ context.Context) error { return nil }
func (m *mockDatabase) Close() error                        { return nil }

func newTestHub(t *testing.T) (*Hub, *store.Store, *mockDatabase) {
	t.Helper()
	s := store.NewStore()
	db := &mockDatabase{}
	h := NewHub(s, db, WithNotificationTiming(5*time.Millisecond, time.Millisecond, time.Millisecond))
	return h, s, db
}

func connect(t *testing.T, h *Hub, conn *mockConn) types.Participant {
	t.Helper()
	p := types.Participant{
		ID:       conn.participantID,
		Name:     conn.name,
		Role:     conn.role,
		Color:    "#FF6B6B",
		JoinedAt: time.Now().UnixMilli(),
	}
	if err := h.HandleConnect(conn, p); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	return p
}

func TestHub_ConnectRegistersPresence(t *testing.T) {
	h, s, _ := newTestHub(t)
	conn := newMockConn("candidate_a", "Alice", types.RoleCandidate, "123456")
	connect(t, h, conn)
	defer h.HandleDisconnect(conn)

	raw, _ := s.Get(context.Background(), "sessions/123456/users/candidate_a")
	if raw == nil {
		t.Fatal("presence record not written")
	}

	roster := conn.waitFor(t, "participants")
	users, ok := roster["users"].(map[string]any)
	if !ok || len(users) != 1 {
		t.Errorf("roster: %v", roster)
	}
	if h.ClientCount() != 1 {
		t.Errorf("client count: %d", h.ClientCount())
	}
}

func TestHub_JoinAndLeaveNotifications(t *testing.T) {
	h, _, _ := newTestHub(t)

	alice := newMockConn("candidate_a", "Alice", types.RoleCandidate, "123456")
	connect(t, h, alice)
	defer h.HandleDisconnect(alice)
	alice.waitFor(t, "participants")

	ivy := newMockConn("interviewer_b", "Ivy", types.RoleInterviewer, "123456")
	connect(t, h, ivy)

	// Alice sees Ivy join; Ivy, arriving second, sees nobody join
	joined := alice.waitFor(t, "notification")
	if joined["message"] != "Ivy joined the session" || joined["kind"] != types.NotificationJoin {
		t.Errorf("join notification: %v", joined)
	}
	alice.waitFor(t, "notification_hide")

	h.HandleDisconnect(ivy)
	alice.waitForMessage(t, func(msg map[string]any) bool {
		return msg["type"] == "notification" && msg["message"] == "Ivy left the session"
	})

	for _, msg := range ivy.snapshot() {
		if msg["type"] == "notification" {
			t.Errorf("second joiner received a notification: %v", msg)
		}
	}
}

func TestHub_SettingsUpdateBroadcasts(t *testing.T) {
	h, s, _ := newTestHub(t)

	alice := newMockConn("candidate_a", "Alice", types.RoleCandidate, "123456")
	ivy := newMockConn("interviewer_b", "Ivy", types.RoleInterviewer, "123456")
	connect(t, h, alice)
	connect(t, h, ivy)
	defer h.HandleDisconnect(alice)
	defer h.HandleDisconnect(ivy)

	h.HandleMessage(ivy, []byte(`{"type":"settings_update","settings":{"language":"python","theme":"monokai"}}`))

	raw, _ := s.Get(context.Background(), "sessions/123456/settings")
	var settings types.Settings
	if raw == nil || json.Unmarshal(raw, &settings) != nil || settings.Language != "python" {
		t.Fatalf("settings not stored: %s", raw)
	}

	msg := alice.waitFor(t, "settings")
	inner, _ := msg["settings"].(map[string]any)
	if inner["language"] != "python" {
		t.Errorf("settings broadcast: %v", msg)
	}

	// Unsupported language is rejected, not stored
	h.HandleMessage(ivy, []byte(`{"type":"settings_update","settings":{"language":"cobol"}}`))
	ivy.waitFor(t, "error")
	raw, _ = s.Get(context.Background(), "sessions/123456/settings")
	_ = json.Unmarshal(raw, &settings)
	if settings.Language != "python" {
		t.Errorf("invalid settings applied: %+v", settings)
	}
}

func TestHub_NotesRequireInterviewer(t *testing.T) {
	h, s, _ := newTestHub(t)

	alice := newMockConn("candidate_a", "Alice", types.RoleCandidate, "123456")
	ivy := newMockConn("interviewer_b", "Ivy", types.RoleInterviewer, "123456")
	connect(t, h, alice)
	connect(t, h, ivy)
	defer h.HandleDisconnect(alice)
	defer h.HandleDisconnect(ivy)

	notes := `{"type":"notes_update","notes":{"recommendation":"HIRE","content":"solid"}}`

	h.HandleMessage(alice, []byte(notes))
	raw, _ := s.Get(context.Background(), "sessions/123456/interviewerNotes")
	if raw != nil {
		t.Errorf("candidate wrote notes: %s", raw)
	}

	h.HandleMessage(ivy, []byte(notes))
	raw, _ = s.Get(context.Background(), "sessions/123456/interviewerNotes")
	var got types.InterviewerNotes
	if raw == nil || json.Unmarshal(raw, &got) != nil || got.Recommendation != "HIRE" {
		t.Errorf("interviewer notes not stored: %s", raw)
	}
}

func TestHub_TrackingEventsPersist(t *testing.T) {
	h, s, db := newTestHub(t)

	alice := newMockConn("candidate_a", "Alice", types.RoleCandidate, "123456")
	connect(t, h, alice)
	defer h.HandleDisconnect(alice)

	h.HandleMessage(alice, []byte(`{"type":"tracking_event","eventType":"page_loaded","metadata":{"timezone":"UTC"}}`))

	raw, _ := s.Get(context.Background(), "sessions/123456/tracking")
	if raw == nil {
		t.Error("tracking entry not pushed to store")
	}

	events, _ := db.ListTrackingEvents(context.Background(), "123456")
	if len(events) != 1 || events[0].EventType != "page_loaded" || events[0].UserName != "Alice" {
		t.Errorf("events: %+v", events)
	}
}

func TestHub_ActivitySignalsReachMonitor(t *testing.T) {
	h, s, _ := newTestHub(t)

	alice := newMockConn("candidate_a", "Alice", types.RoleCandidate, "123456")
	connect(t, h, alice)
	defer h.HandleDisconnect(alice)

	h.HandleMessage(alice, []byte(`{"type":"activity_signal","signal":"tab_hidden"}`))

	raw, _ := s.Get(context.Background(), "sessions/123456/activity_log")
	var entries map[string]map[string]any
	if raw == nil || json.Unmarshal(raw, &entries) != nil || len(entries) != 1 {
		t.Fatalf("activity log: %s", raw)
	}
	for _, entry := range entries {
		if entry["type"] != "tab_hidden" {
			t.Errorf("entry: %v", entry)
		}
	}

	// Interviewer signals are ignored
	ivy := newMockConn("interviewer_b", "Ivy", types.RoleInterviewer, "123456")
	connect(t, h, ivy)
	defer h.HandleDisconnect(ivy)
	h.HandleMessage(ivy, []byte(`{"type":"activity_signal","signal":"tab_hidden"}`))

	raw, _ = s.Get(context.Background(), "sessions/123456/activity_log")
	entries = nil
	_ = json.Unmarshal(raw, &entries)
	if len(entries) != 1 {
		t.Errorf("interviewer signal logged: %d entries", len(entries))
	}
}

func TestHub_InterviewerReceivesWarnings(t *testing.T) {
	h, s, _ := newTestHub(t)

	ivy := newMockConn("interviewer_b", "Ivy", types.RoleInterviewer, "123456")
	connect(t, h, ivy)
	defer h.HandleDisconnect(ivy)

	warning := types.SecurityWarning{
		AlertType: "excessive_tab_switching",
		Message:   "Alice has switched tabs 10 times",
		UserID:    "candidate_a",
		Timestamp: time.Now().UnixMilli(),
	}
	if _, err := s.Push(context.Background(), "sessions/123456/security_warnings", warning); err != nil {
		t.Fatalf("push failed: %v", err)
	}

	msg := ivy.waitFor(t, "security_warning")
	inner, _ := msg["warning"].(map[string]any)
	if inner["alertType"] != "excessive_tab_switching" {
		t.Errorf("warning: %v", msg)
	}
}

func TestHub_SessionEndedBroadcast(t *testing.T) {
	h, s, _ := newTestHub(t)

	alice := newMockConn("candidate_a", "Alice", types.RoleCandidate, "123456")
	connect(t, h, alice)
	defer h.HandleDisconnect(alice)

	term := types.Termination{Terminated: true, TerminatedBy: "interviewer@example.com", TerminatedAt: time.Now().UnixMilli()}
	if err := s.Set(context.Background(), "sessions/123456/terminated", term); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	msg := alice.waitFor(t, "session_ended")
	if msg["endedBy"] != "interviewer@example.com" {
		t.Errorf("ended message: %v", msg)
	}
}

func TestHub_DisconnectCleansUp(t *testing.T) {
	h, s, _ := newTestHub(t)

	alice := newMockConn("candidate_a", "Alice", types.RoleCandidate, "123456")
	connect(t, h, alice)
	h.HandleDisconnect(alice)

	raw, _ := s.Get(context.Background(), "sessions/123456/users/candidate_a")
	if raw != nil {
		t.Error("presence record not removed on disconnect")
	}
	if h.ClientCount() != 0 {
		t.Errorf("client count: %d", h.ClientCount())
	}

	// A candidate leaves a final summary behind for the record
	raw, _ = s.Get(context.Background(), "sessions/123456/activity_summary")
	if raw == nil {
		t.Error("final activity summary not written")
	}

	// Idempotent
	h.HandleDisconnect(alice)
}
