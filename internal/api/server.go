package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"interviewhub/internal/auth"
	"interviewhub/internal/slack"
	"interviewhub/pkg/interfaces"
	"interviewhub/pkg/types"
)

// Deps carries everything the API server talks to.
type Deps struct {
	Sessions  interfaces.SessionManager
	Validator interfaces.SessionValidator
	Database  interfaces.DatabaseManager
	Tokens    *auth.TokenIssuer
	Notifier  slack.Notifier
	Guard     *LoginGuard
	Movies    *MovieCache

	AdminEmail    string
	AdminPassword string

	// WebSocketHandler serves GET /ws when set.
	WebSocketHandler http.HandlerFunc
	// Stats feeds the health endpoint's connection counts.
	Stats func() map[string]int
}

// Server is the HTTP surface: join validation, the duplicate-login guard,
// the admin dashboard API, and the auxiliary proxies.
type Server struct {
	deps   Deps
	router chi.Router
}

// NewServer builds the router.
func NewServer(deps Deps) *Server {
	s := &Server{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/health", s.handleHealth)
	r.Post("/api/validate-session", s.handleValidateSession)
	r.Post("/api/check-duplicate-login", s.handleCheckDuplicateLogin)
	r.Get("/api/movies", s.handleMovies)
	r.Post("/api/slack/send", s.handleSlackSend)
	r.Post("/api/auth/login", s.handleAdminLogin)

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Post("/sessions", s.handleCreateSession)
		r.Get("/sessions", s.handleListSessions)
		r.Post("/sessions/{code}/end", s.handleEndSession)
		r.Delete("/sessions/{code}", s.handleDeleteSession)
		r.Get("/sessions/{code}/events", s.handleListEvents)
		r.Get("/archives", s.handleListArchives)
		r.Get("/archives/{code}", s.handleGetArchive)
	})

	if deps.WebSocketHandler != nil {
		r.Get("/ws", deps.WebSocketHandler)
	}

	s.router = r
	return s
}

// ServeHTTP makes the server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"status": "ok"}
	if s.deps.Stats != nil {
		status["connections"] = s.deps.Stats()
	}
	if s.deps.Database != nil {
		if err := s.deps.Database.HealthCheck(r.Context()); err != nil {
			status["status"] = "degraded"
			status["database"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, status)
			return
		}
	}
	writeJSON(w, http.StatusOK, status)
}

type validateRequest struct {
	SessionCode string `json:"sessionCode"`
	Role        string `json:"role"`
}

func (s *Server) handleValidateSession(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !types.IsValidSessionCode(req.SessionCode) {
		writeJSON(w, http.StatusOK, interfaces.ValidationResult{
			Valid: false,
			Error: "Session code not found. Please verify the code with your interviewer.",
		})
		return
	}
	role := req.Role
	if !types.IsValidRole(role) {
		role = types.RoleCandidate
	}
	writeJSON(w, http.StatusOK, s.deps.Validator.Validate(r.Context(), req.SessionCode, role))
}

type checkLoginRequest struct {
	UserID      string `json:"userId"`
	UserName    string `json:"userName"`
	SessionCode string `json:"sessionCode"`
	Action      string `json:"action"`
}

// handleCheckDuplicateLogin tracks which device holds each session slot.
// Only the login action can be refused; heartbeat, logout and check are
// always 200 so a flaky client never gets locked out by its own liveness
// traffic.
func (s *Server) handleCheckDuplicateLogin(w http.ResponseWriter, r *http.Request) {
	var req checkLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" || req.SessionCode == "" {
		writeError(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	switch req.Action {
	case "login":
		location := r.Header.Get("CF-IPCountry")
		if location == "" {
			location = "Unknown"
		}
		device := r.Header.Get("User-Agent")
		if len(device) > 50 {
			device = device[:50]
		}
		conflict, err := s.deps.Guard.Login(req.SessionCode, req.UserID, req.UserName, clientIP(r), location, device)
		if err != nil {
			writeJSON(w, http.StatusForbidden, map[string]any{
				"error":            "Multiple login detected",
				"message":          "You are already logged into this session from another location",
				"existingLocation": conflict.Location,
				"existingDevice":   conflict.Device,
				"lastActivity":     conflict.LastActivity.UTC().Format(time.RFC3339),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Login tracked successfully"})
	case "heartbeat":
		s.deps.Guard.Heartbeat(req.SessionCode, req.UserID)
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	case "logout":
		s.deps.Guard.Logout(req.SessionCode, req.UserID)
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Logout successful"})
	case "check":
		status, exists := s.deps.Guard.Check(req.SessionCode, req.UserID)
		body := map[string]any{"exists": exists, "session": nil}
		if exists {
			body["session"] = map[string]any{
				"loginTime":    status.LoginTime.UnixMilli(),
				"lastActivity": status.LastActivity.UnixMilli(),
				"location":     status.Location,
			}
		}
		writeJSON(w, http.StatusOK, body)
	default:
		writeError(w, http.StatusBadRequest, "Invalid action")
	}
}

func (s *Server) handleMovies(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(s.deps.Movies.Get(r.Context())); err != nil {
		log.Printf("api: movies write failed: %v", err)
	}
}

type slackSendRequest struct {
	SessionCode string `json:"sessionCode"`
}

func (s *Server) handleSlackSend(w http.ResponseWriter, r *http.Request) {
	var req slackSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	archive, err := s.deps.Database.GetSessionArchive(r.Context(), req.SessionCode)
	if err != nil {
		if errors.Is(err, interfaces.ErrArchiveNotFound) {
			writeError(w, http.StatusNotFound, "session archive not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load session archive")
		return
	}

	if err := s.deps.Notifier.Send(r.Context(), slack.FormatSessionReport(archive)); err != nil {
		if errors.Is(err, slack.ErrNotConfigured) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		log.Printf("api: slack send failed for %s: %v", req.SessionCode, err)
		writeError(w, http.StatusBadGateway, "failed to deliver report")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"sent": true})
}

type adminLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req adminLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	emailOK := subtle.ConstantTimeCompare([]byte(req.Email), []byte(s.deps.AdminEmail)) == 1
	passwordOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(s.deps.AdminPassword)) == 1
	if !emailOK || !passwordOK {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := s.deps.Tokens.NewAccessToken(req.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// requireAdmin guards the dashboard endpoints with a bearer token.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const prefix = "Bearer "
		header := r.Header.Get("Authorization")
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := s.deps.Tokens.ParseToken(header[len(prefix):])
		if err != nil || !claims.Admin {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type createSessionRequest struct {
	CreatedBy string `json:"createdBy"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CreatedBy == "" {
		writeError(w, http.StatusBadRequest, "createdBy is required")
		return
	}

	session, err := s.deps.Sessions.CreateSession(r.Context(), req.CreatedBy)
	if err != nil {
		log.Printf("api: session creation failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.deps.Sessions.ListSessions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []*types.SessionInfo{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

type endSessionRequest struct {
	EndedBy string `json:"endedBy"`
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	var req endSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.EndedBy == "" {
		req.EndedBy = "Admin Dashboard"
	}

	err := s.deps.Sessions.EndSession(r.Context(), code, req.EndedBy)
	switch {
	case errors.Is(err, interfaces.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, interfaces.ErrSessionTerminated):
		writeError(w, http.StatusConflict, "session already ended")
	case err != nil:
		log.Printf("api: end session %s failed: %v", code, err)
		writeError(w, http.StatusInternalServerError, "failed to end session")
	default:
		writeJSON(w, http.StatusOK, map[string]bool{"ended": true})
	}
}

// handleDeleteSession removes a session permanently. The caller must echo
// the code in the confirm query parameter; deletion is irreversible.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if r.URL.Query().Get("confirm") != code {
		writeError(w, http.StatusBadRequest, "confirmation required: pass confirm="+code)
		return
	}
	err := s.deps.Sessions.DeleteSession(r.Context(), code)
	switch {
	case errors.Is(err, interfaces.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to delete session")
	default:
		writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
	}
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	events, err := s.deps.Database.ListTrackingEvents(r.Context(), code)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list tracking events")
		return
	}
	if events == nil {
		events = []*types.TrackingEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleListArchives(w http.ResponseWriter, r *http.Request) {
	archives, err := s.deps.Database.ListSessionArchives(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list archives")
		return
	}
	if archives == nil {
		archives = []*types.SessionArchive{}
	}
	writeJSON(w, http.StatusOK, archives)
}

func (s *Server) handleGetArchive(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	archive, err := s.deps.Database.GetSessionArchive(r.Context(), code)
	if err != nil {
		if errors.Is(err, interfaces.ErrArchiveNotFound) {
			writeError(w, http.StatusNotFound, "archive not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load archive")
		return
	}
	writeJSON(w, http.StatusOK, archive)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: response encode failed: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
