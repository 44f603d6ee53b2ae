package session

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

// mockDatabase records archives without touching SQLite.
type mockDatabase struct {
	mu       sync.Mutex
	archives map[string]*types.SessionArchive
	failNext bool
}

func newMockDatabase() *mockDatabase {
	return &mockDatabase{archives: make(map[string]*types.SessionArchive)}
}

func (m *mockDatabase) ArchiveSession(_ context.Context, archive *types.SessionArchive) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext {
		m.failNext = false
		return context.DeadlineExceeded
	}
	m.archives[archive.Code] = archive
	return nil
}

func (m *mockDatabase) GetSessionArchive(_ context.Context, code string) (*types.SessionArchive, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.archives[code]; ok {
		return a, nil
	}
	return nil, interfaces.ErrArchiveNotFound
}

func (m *mockDatabase) ListSessionArchives(_ context.Context) ([]*types.SessionArchive, error) {
	return nil, nil
}

func (m *mockDatabase) StoreTrackingEvent(_ context.Context, _ string, _ *types.TrackingEvent) error {
	return nil
}

func (m *mockDatabase) ListTrackingEvents(_ context.Context, _ string) ([]*types.TrackingEvent, error) {
	return nil, nil
}

func (m *mockDatabase) HealthCheck(_ context.Context) error { return nil }
func (m *mockDatabase) Close() error                        { return nil }

// fixedCodes yields a scripted sequence of session codes.
func fixedCodes(codes ...string) func() string {
	i := 0
	return func() string {
		code := codes[i%len(codes)]
		i++
		return code
	}
}

func TestManager_InterfaceCompliance(t *testing.T) {
	var _ interfaces.SessionManager = NewManager(store.NewStore(), newMockDatabase())
}

func TestManager_CreateSession(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	s := store.NewStore(store.WithClock(clock))
	m := NewManager(s, newMockDatabase(), WithManagerClock(clock), WithCodeGenerator(fixedCodes("123456")))

	session, err := m.CreateSession(context.Background(), "interviewer@example.com")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if session.Code != "123456" || session.CreatedBy != "interviewer@example.com" {
		t.Errorf("unexpected session: %+v", session)
	}
	if session.Settings == nil || session.Settings.Language != "javascript" || session.Settings.Theme != "monokai" {
		t.Errorf("default settings missing: %+v", session.Settings)
	}

	stored, err := m.GetSession(context.Background(), "123456")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Created != now.UnixMilli() {
		t.Errorf("server timestamp not resolved: got %d, want %d", stored.Created, now.UnixMilli())
	}
}

func TestManager_CreateSessionRedrawsOnCollision(t *testing.T) {
	s := store.NewStore()
	m := NewManager(s, newMockDatabase(), WithCodeGenerator(fixedCodes("111111", "111111", "222222")))

	first, err := m.CreateSession(context.Background(), "a@example.com")
	if err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	if first.Code != "111111" {
		t.Fatalf("got %q", first.Code)
	}

	second, err := m.CreateSession(context.Background(), "b@example.com")
	if err != nil {
		t.Fatalf("second create failed: %v", err)
	}
	if second.Code != "222222" {
		t.Errorf("collision not redrawn: got %q", second.Code)
	}
}

func TestManager_CreateSessionExhaustsCodeSpace(t *testing.T) {
	s := store.NewStore()
	m := NewManager(s, newMockDatabase(), WithCodeGenerator(fixedCodes("111111")))

	if _, err := m.CreateSession(context.Background(), "a@example.com"); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	if _, err := m.CreateSession(context.Background(), "b@example.com"); err != ErrCodeSpaceExhausted {
		t.Errorf("got %v, want ErrCodeSpaceExhausted", err)
	}
}

func TestManager_EndSessionLifecycle(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	s := store.NewStore(store.WithClock(clock))
	s.SetConnected(true)
	db := newMockDatabase()
	m := NewManager(s, db, WithManagerClock(clock), WithCodeGenerator(fixedCodes("123456")))
	v := NewValidator(s, WithValidatorClock(clock))
	ctx := context.Background()

	if _, err := m.CreateSession(ctx, "interviewer@example.com"); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// Alice joins and is visible, plus state the lifecycle does not model
	if err := s.Set(ctx, "sessions/123456/users/candidate_abc", types.Participant{
		Name: "Alice", Role: types.RoleCandidate, Color: "#FF6B6B", JoinedAt: now.UnixMilli(),
	}); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if err := s.Set(ctx, "sessions/123456/activity_summary", types.ActivitySummary{ActivityScore: 90, TabSwitches: 2}); err != nil {
		t.Fatalf("summary write failed: %v", err)
	}
	if _, err := s.Push(ctx, "sessions/123456/tracking", types.TrackingEvent{EventType: "join"}); err != nil {
		t.Fatalf("tracking push failed: %v", err)
	}

	if result := v.Validate(ctx, "123456", types.RoleCandidate); !result.Valid {
		t.Fatalf("expected joinable session, got %q", result.Error)
	}

	if err := m.EndSession(ctx, "123456", "interviewer@example.com"); err != nil {
		t.Fatalf("end failed: %v", err)
	}

	ended, err := m.GetSession(ctx, "123456")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !ended.IsTerminated() || ended.Terminated.TerminatedBy != "interviewer@example.com" {
		t.Errorf("terminated marker missing: %+v", ended.Terminated)
	}
	if p, ok := ended.PreservedParticipants["candidate_abc"]; !ok || p.Name != "Alice" {
		t.Errorf("participants not preserved: %+v", ended.PreservedParticipants)
	}
	if ended.ActivityFinalSummary == nil || ended.ActivityFinalSummary.ActivityScore != 90 {
		t.Errorf("final summary not snapshotted: %+v", ended.ActivityFinalSummary)
	}

	// Keys the lifecycle does not model must survive the termination write
	raw, _ := s.Get(ctx, "sessions/123456/tracking")
	if raw == nil {
		t.Error("tracking entries lost during termination")
	}

	if result := v.Validate(ctx, "123456", types.RoleCandidate); result.Valid || result.Error != MsgAlreadyEnded {
		t.Errorf("terminated session still joinable: %+v", result)
	}

	archive, err := db.GetSessionArchive(ctx, "123456")
	if err != nil {
		t.Fatalf("archive missing: %v", err)
	}
	if archive.TerminatedBy != "interviewer@example.com" || len(archive.PreservedParticipants) != 1 {
		t.Errorf("unexpected archive: %+v", archive)
	}

	if err := m.EndSession(ctx, "123456", "interviewer@example.com"); err != interfaces.ErrSessionTerminated {
		t.Errorf("got %v, want ErrSessionTerminated", err)
	}
}

func TestManager_EndSessionMissing(t *testing.T) {
	m := NewManager(store.NewStore(), newMockDatabase())
	if err := m.EndSession(context.Background(), "000000", "x"); err != interfaces.ErrSessionNotFound {
		t.Errorf("got %v, want ErrSessionNotFound", err)
	}
}

func TestManager_DeleteSession(t *testing.T) {
	s := store.NewStore()
	m := NewManager(s, newMockDatabase(), WithCodeGenerator(fixedCodes("123456")))
	ctx := context.Background()

	if err := m.DeleteSession(ctx, "123456"); err != interfaces.ErrSessionNotFound {
		t.Errorf("got %v, want ErrSessionNotFound", err)
	}

	if _, err := m.CreateSession(ctx, "a@example.com"); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := m.DeleteSession(ctx, "123456"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := m.GetSession(ctx, "123456"); err != interfaces.ErrSessionNotFound {
		t.Errorf("session still readable after delete: %v", err)
	}
}

func TestManager_ListSessionsClassification(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	s := store.NewStore(store.WithClock(clock))
	m := NewManager(s, newMockDatabase(), WithManagerClock(clock))
	ctx := context.Background()

	write := func(code string, session map[string]any) {
		t.Helper()
		if err := s.Set(ctx, "sessions/"+code, session); err != nil {
			t.Fatalf("set %s failed: %v", code, err)
		}
	}

	write("100001", map[string]any{ // nobody joined yet
		"created": now.Add(-10 * time.Minute).UnixMilli(), "createdBy": "a",
	})
	write("100002", map[string]any{ // interviewer waiting
		"created": now.Add(-20 * time.Minute).UnixMilli(), "createdBy": "a",
		"users": map[string]any{
			"interviewer_x": map[string]any{"name": "Ivy", "role": types.RoleInterviewer},
		},
	})
	write("100003", map[string]any{ // both present
		"created": now.Add(-30 * time.Minute).UnixMilli(), "createdBy": "a",
		"users": map[string]any{
			"interviewer_x": map[string]any{"name": "Ivy", "role": types.RoleInterviewer},
			"candidate_y":   map[string]any{"name": "Alice", "role": types.RoleCandidate},
		},
	})
	write("100004", map[string]any{ // past the expiry window
		"created": now.Add(-3 * time.Hour).UnixMilli(), "createdBy": "a",
	})
	write("100005", map[string]any{ // terminated, must not appear
		"created": now.Add(-time.Hour).UnixMilli(), "createdBy": "a",
		"terminated": map[string]any{
			"terminated": true, "terminatedBy": "a", "terminatedAt": now.UnixMilli(),
		},
	})

	infos, err := m.ListSessions(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}

	byCode := make(map[string]*types.SessionInfo)
	for _, info := range infos {
		byCode[info.Code] = info
	}
	if len(byCode) != 4 {
		t.Fatalf("got %d sessions, want 4: %v", len(byCode), byCode)
	}

	checks := map[string]string{
		"100001": types.StatusActive,
		"100002": types.StatusWaiting,
		"100003": types.StatusInProgress,
		"100004": types.StatusExpired,
	}
	for code, want := range checks {
		if byCode[code] == nil || byCode[code].Status != want {
			t.Errorf("%s: got %+v, want status %q", code, byCode[code], want)
		}
	}
	if got := byCode["100003"].Candidates; len(got) != 1 || got[0] != "Alice" {
		t.Errorf("candidates: got %v", got)
	}
	if !byCode["100004"].IsExpired {
		t.Error("expired session not flagged")
	}

	// Newest first
	for i := 1; i < len(infos); i++ {
		if infos[i-1].Created < infos[i].Created {
			t.Errorf("list not sorted newest-first at %d", i)
		}
	}

	// The expired session picked up an archive marker
	raw, _ := s.Get(ctx, "sessions/100004/archived")
	var marker types.ArchiveMarker
	if raw == nil || json.Unmarshal(raw, &marker) != nil || !marker.Archived {
		t.Errorf("auto-archive marker missing: %s", raw)
	}
	if marker.Reason != autoArchiveReason {
		t.Errorf("reason: got %q", marker.Reason)
	}
}
