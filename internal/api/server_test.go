package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"interviewhub/internal/auth"
	"interviewhub/internal/session"
	"interviewhub/internal/slack"
	"interviewhub/internal/store"
	"interviewhub/pkg/interfaces"
	"interviewhub/pkg/types"
)

// fakeDatabase backs the API tests without SQLite.
type fakeDatabase struct {
	mu       sync.Mutex
	archives map[string]*types.SessionArchive
	events   map[string][]*types.TrackingEvent
}

func newFakeDatabase() *fakeDatabase {
	return &fakeDatabase{
		archives: make(map[string]*types.SessionArchive),
		events:   make(map[string][]*types.TrackingEvent),
	}
}

func (f *fakeDatabase) ArchiveSession(_ context.Context, archive *types.SessionArchive) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.archives[archive.Code] = archive
	return nil
}

func (f *fakeDatabase) GetSessionArchive(_ context.Context, code string) (*types.SessionArchive, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.archives[code]; ok {
		return a, nil
	}
	return nil, interfaces.ErrArchiveNotFound
}

func (f *fakeDatabase) ListSessionArchives(_ context.Context) ([]*types.SessionArchive, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.SessionArchive
	for _, a := range f.archives {
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeDatabase) StoreTrackingEvent(_ context.Context, code string, event *types.TrackingEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[code] = append(f.events[code], event)
	return nil
}

func (f *fakeDatabase) ListTrackingEvents(_ context.Context, code string) ([]*types.TrackingEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[code], nil
}

func (f *fakeDatabase) HealthCheck(_ context.Context) error { return nil }
func (f *fakeDatabase) Close() error                        { return nil }

// fakeNotifier records Slack payloads.
type fakeNotifier struct {
	mu       sync.Mutex
	payloads []*slack.Payload
}

func (f *fakeNotifier) Send(_ context.Context, payload *slack.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
	return nil
}

type testEnv struct {
	server *Server
	store  *store.Store
	db     *fakeDatabase
	slack  *fakeNotifier
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()

	s := store.NewStore()
	s.SetConnected(true)
	db := newFakeDatabase()
	notifier := &fakeNotifier{}

	codes := []string{"111111", "222222", "333333"}
	i := 0
	manager := session.NewManager(s, db, session.WithCodeGenerator(func() string {
		code := codes[i%len(codes)]
		i++
		return code
	}))

	tokens, err := auth.NewTokenIssuer("test-secret-for-the-admin-api!!", "interviewhub", time.Hour)
	if err != nil {
		t.Fatalf("token issuer: %v", err)
	}

	srv := NewServer(Deps{
		Sessions:      manager,
		Validator:     session.NewValidator(s),
		Database:      db,
		Tokens:        tokens,
		Notifier:      notifier,
		Guard:         NewLoginGuard("test-salt"),
		Movies:        NewMovieCache("", time.Hour),
		AdminEmail:    "admin@example.com",
		AdminPassword: "hunter2",
	})
	return &testEnv{server: srv, store: s, db: db, slack: notifier}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.server.ServeHTTP(w, req)
	return w
}

func (e *testEnv) adminToken(t *testing.T) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "admin@example.com", "password": "hunter2",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("admin login failed: %d %s", w.Code, w.Body)
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp["token"]
}

func TestServer_Health(t *testing.T) {
	env := newTestServer(t)
	w := env.do(t, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("got %d", w.Code)
	}
}

func TestServer_ValidateSession(t *testing.T) {
	env := newTestServer(t)

	// Unknown but well-formed code
	w := env.do(t, http.MethodPost, "/api/validate-session", "", map[string]string{
		"sessionCode": "999999", "role": types.RoleCandidate,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("got %d", w.Code)
	}
	var result interfaces.ValidationResult
	_ = json.Unmarshal(w.Body.Bytes(), &result)
	if result.Valid || result.Error != session.MsgCodeNotFound {
		t.Errorf("result: %+v", result)
	}

	// Malformed code short-circuits before the store
	w = env.do(t, http.MethodPost, "/api/validate-session", "", map[string]string{
		"sessionCode": "abc", "role": types.RoleCandidate,
	})
	_ = json.Unmarshal(w.Body.Bytes(), &result)
	if w.Code != http.StatusOK || result.Valid {
		t.Errorf("malformed code accepted: %d %+v", w.Code, result)
	}

	// A live session validates
	token := env.adminToken(t)
	if w := env.do(t, http.MethodPost, "/api/admin/sessions", token, map[string]string{"createdBy": "admin@example.com"}); w.Code != http.StatusCreated {
		t.Fatalf("create failed: %d %s", w.Code, w.Body)
	}
	w = env.do(t, http.MethodPost, "/api/validate-session", "", map[string]string{
		"sessionCode": "111111", "role": types.RoleCandidate,
	})
	_ = json.Unmarshal(w.Body.Bytes(), &result)
	if !result.Valid {
		t.Errorf("live session rejected: %+v", result)
	}
}

func (e *testEnv) loginAction(t *testing.T, body, ip string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/check-duplicate-login", bytes.NewBufferString(body))
	req.Header.Set("X-Forwarded-For", ip)
	req.Header.Set("User-Agent", "test-agent")
	w := httptest.NewRecorder()
	e.server.ServeHTTP(w, req)
	return w
}

func TestServer_CheckDuplicateLogin(t *testing.T) {
	env := newTestServer(t)

	w := env.loginAction(t, `{"sessionCode":"111111","userId":"candidate_a","userName":"Alice","action":"login"}`, "203.0.113.7")
	if w.Code != http.StatusOK {
		t.Fatalf("first login: %d %s", w.Code, w.Body)
	}

	// Same user from another IP is refused with the blocking session's details
	w = env.loginAction(t, `{"sessionCode":"111111","userId":"candidate_a","userName":"Alice","action":"login"}`, "203.0.113.99")
	if w.Code != http.StatusForbidden {
		t.Fatalf("duplicate login: got %d, want 403", w.Code)
	}
	var denied map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &denied)
	if denied["error"] != "Multiple login detected" || denied["existingDevice"] != "test-agent" {
		t.Errorf("403 body: %s", w.Body)
	}

	// Heartbeat and check never refuse, even from the other IP
	w = env.loginAction(t, `{"sessionCode":"111111","userId":"candidate_a","action":"heartbeat"}`, "203.0.113.99")
	if w.Code != http.StatusOK {
		t.Errorf("heartbeat: got %d", w.Code)
	}
	w = env.loginAction(t, `{"sessionCode":"111111","userId":"candidate_a","action":"check"}`, "203.0.113.99")
	if w.Code != http.StatusOK {
		t.Fatalf("check: got %d", w.Code)
	}
	var checked map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &checked)
	if checked["exists"] != true || checked["session"] == nil {
		t.Errorf("check body: %s", w.Body)
	}

	// Logout releases the slot; the second device may now log in
	w = env.loginAction(t, `{"sessionCode":"111111","userId":"candidate_a","action":"logout"}`, "203.0.113.7")
	if w.Code != http.StatusOK {
		t.Fatalf("logout: got %d", w.Code)
	}
	w = env.loginAction(t, `{"sessionCode":"111111","userId":"candidate_a","userName":"Alice","action":"login"}`, "203.0.113.99")
	if w.Code != http.StatusOK {
		t.Errorf("login after logout: got %d %s", w.Code, w.Body)
	}

	// Missing fields and unknown actions are client errors
	w = env.do(t, http.MethodPost, "/api/check-duplicate-login", "", map[string]string{"action": "login"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing fields: got %d, want 400", w.Code)
	}
	w = env.do(t, http.MethodPost, "/api/check-duplicate-login", "", map[string]string{
		"sessionCode": "111111", "userId": "candidate_a", "action": "reboot",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid action: got %d, want 400", w.Code)
	}
}

func TestServer_AdminAuth(t *testing.T) {
	env := newTestServer(t)

	w := env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "admin@example.com", "password": "wrong",
	})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad password: got %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/api/admin/sessions", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("missing token: got %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/api/admin/sessions", "garbage", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("garbage token: got %d", w.Code)
	}
}

func TestServer_SessionLifecycle(t *testing.T) {
	env := newTestServer(t)
	token := env.adminToken(t)

	w := env.do(t, http.MethodPost, "/api/admin/sessions", token, map[string]string{"createdBy": "admin@example.com"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body)
	}
	var created types.Session
	_ = json.Unmarshal(w.Body.Bytes(), &created)
	if created.Code != "111111" {
		t.Fatalf("created: %+v", created)
	}

	w = env.do(t, http.MethodGet, "/api/admin/sessions", token, nil)
	var infos []*types.SessionInfo
	_ = json.Unmarshal(w.Body.Bytes(), &infos)
	if w.Code != http.StatusOK || len(infos) != 1 || infos[0].Code != "111111" {
		t.Errorf("list: %d %s", w.Code, w.Body)
	}

	w = env.do(t, http.MethodPost, "/api/admin/sessions/111111/end", token, map[string]string{"endedBy": "admin@example.com"})
	if w.Code != http.StatusOK {
		t.Fatalf("end: %d %s", w.Code, w.Body)
	}

	// Ending twice conflicts
	w = env.do(t, http.MethodPost, "/api/admin/sessions/111111/end", token, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("double end: got %d, want 409", w.Code)
	}

	// The archive is durable and retrievable
	w = env.do(t, http.MethodGet, "/api/admin/archives/111111", token, nil)
	if w.Code != http.StatusOK {
		t.Errorf("archive: %d %s", w.Code, w.Body)
	}

	// Deletion demands an explicit confirmation echo
	w = env.do(t, http.MethodDelete, "/api/admin/sessions/111111", token, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("unconfirmed delete: got %d, want 400", w.Code)
	}
	w = env.do(t, http.MethodDelete, "/api/admin/sessions/111111?confirm=111111", token, nil)
	if w.Code != http.StatusOK {
		t.Errorf("delete: %d %s", w.Code, w.Body)
	}
	w = env.do(t, http.MethodDelete, "/api/admin/sessions/111111?confirm=111111", token, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("double delete: got %d, want 404", w.Code)
	}
}

func TestServer_SlackSend(t *testing.T) {
	env := newTestServer(t)

	w := env.do(t, http.MethodPost, "/api/slack/send", "", map[string]string{"sessionCode": "999999"})
	if w.Code != http.StatusNotFound {
		t.Errorf("missing archive: got %d", w.Code)
	}

	env.db.archives["111111"] = &types.SessionArchive{
		Code: "111111", Created: 1, TerminatedAt: 2,
		Notes: &types.InterviewerNotes{Recommendation: "HIRE"},
	}
	w = env.do(t, http.MethodPost, "/api/slack/send", "", map[string]string{"sessionCode": "111111"})
	if w.Code != http.StatusOK {
		t.Fatalf("send: %d %s", w.Code, w.Body)
	}
	env.slack.mu.Lock()
	defer env.slack.mu.Unlock()
	if len(env.slack.payloads) != 1 || len(env.slack.payloads[0].Attachments) != 1 {
		t.Errorf("payloads: %+v", env.slack.payloads)
	}
}

func TestServer_MoviesFallback(t *testing.T) {
	env := newTestServer(t) // no upstream configured
	w := env.do(t, http.MethodGet, "/api/movies", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("got %d", w.Code)
	}
	var catalog map[string][]any
	if err := json.Unmarshal(w.Body.Bytes(), &catalog); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if productions, ok := catalog["productions"]; !ok || len(productions) != 0 {
		t.Errorf("fallback catalog: %s", w.Body)
	}
}

func TestMovieCache_CachesUpstream(t *testing.T) {
	hits := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, _ = w.Write([]byte(`{"productions":[{"title":"Heat"}]}`))
	}))
	defer upstream.Close()

	cache := NewMovieCache(upstream.URL, time.Hour)
	first := cache.Get(context.Background())
	second := cache.Get(context.Background())

	if hits != 1 {
		t.Errorf("upstream hit %d times, want 1", hits)
	}
	if !bytes.Equal(first, second) {
		t.Error("cache returned different bodies")
	}
	var catalog map[string][]map[string]string
	if err := json.Unmarshal(first, &catalog); err != nil || len(catalog["productions"]) != 1 {
		t.Errorf("catalog: %s", first)
	}
}

func TestMovieCache_ServesStaleOnFailure(t *testing.T) {
	healthy := true
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy {
			http.Error(w, "down", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"productions":[{"title":"Heat"}]}`))
	}))
	defer upstream.Close()

	cache := NewMovieCache(upstream.URL, time.Millisecond)
	fresh := cache.Get(context.Background())

	healthy = false
	time.Sleep(5 * time.Millisecond)
	stale := cache.Get(context.Background())

	if !bytes.Equal(fresh, stale) {
		t.Error("stale cache not served on upstream failure")
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	env := newTestServer(t)
	w := env.do(t, http.MethodDelete, "/health", "", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("got %d, want 405", w.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp["error"] == "" {
		t.Errorf("405 body not JSON: %s", w.Body)
	}
}
