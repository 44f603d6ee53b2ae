package websocket

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"interviewhub/pkg/interfaces"
	"interviewhub/pkg/types"
)

// ARCHITECTURAL DISCOVERY: Separate upgrader configuration enables reuse
// and consistent WebSocket settings across handler instances
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// FUNCTIONAL DISCOVERY: Allow all origins for development
		// Production deployments should implement stricter origin checking
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// SessionHub receives validated connections and their messages. The handler
// owns transport concerns; the hub owns session semantics.
type SessionHub interface {
	HandleConnect(conn interfaces.Connection, participant types.Participant) error
	HandleMessage(conn interfaces.Connection, data []byte)
	HandleDisconnect(conn interfaces.Connection)
}

// Handler validates join requests and upgrades them to WebSocket connections.
type Handler struct {
	registry  *Registry
	validator interfaces.SessionValidator
	store     interfaces.RealtimeStore
	hub       SessionHub
}

// NewHandler creates a WebSocket handler with dependency injection.
func NewHandler(registry *Registry, validator interfaces.SessionValidator, store interfaces.RealtimeStore, hub SessionHub) *Handler {
	return &Handler{
		registry:  registry,
		validator: validator,
		store:     store,
		hub:       hub,
	}
}

// HandleWebSocket handles join requests.
// ARCHITECTURAL DISCOVERY: Multi-stage validation (parameters -> session ->
// upgrade -> registration) keeps invalid joins from consuming resources
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionCode := r.URL.Query().Get("session")
	name := r.URL.Query().Get("name")
	role := r.URL.Query().Get("role")

	if sessionCode == "" || name == "" || role == "" {
		http.Error(w, "Missing required query parameters: session, name, role", http.StatusBadRequest)
		return
	}
	if !types.IsValidSessionCode(sessionCode) {
		http.Error(w, "Invalid session code format", http.StatusBadRequest)
		return
	}
	if !types.IsValidDisplayName(name) {
		http.Error(w, "Invalid display name", http.StatusBadRequest)
		return
	}
	if !types.IsValidRole(role) {
		http.Error(w, "Invalid role: must be 'candidate' or 'interviewer'", http.StatusBadRequest)
		return
	}

	// The validator returns user-facing messages, forwarded verbatim so the
	// join page can show them
	result := h.validator.Validate(r.Context(), sessionCode, role)
	if !result.Valid {
		http.Error(w, result.Error, http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket: upgrade failed: %v", err)
		return
	}

	wsConn := NewConnection(conn)

	participant := types.Participant{
		ID:       types.NewParticipantID(role),
		Name:     name,
		Role:     role,
		Color:    h.pickColor(r.Context(), sessionCode),
		JoinedAt: time.Now().UnixMilli(),
	}

	if err := wsConn.SetCredentials(participant.ID, name, role, sessionCode); err != nil {
		log.Printf("websocket: failed to set credentials: %v", err)
		_ = wsConn.Close()
		return
	}

	if err := h.registry.RegisterConnection(wsConn); err != nil {
		log.Printf("websocket: failed to register connection: %v", err)
		_ = wsConn.Close()
		return
	}

	if err := h.hub.HandleConnect(wsConn, participant); err != nil {
		log.Printf("websocket: hub rejected connection: %v", err)
		h.registry.UnregisterConnection(wsConn)
		_ = wsConn.Close()
		return
	}

	go h.handleConnection(wsConn)
}

// pickColor assigns the next palette color based on how many participants
// the session already has. Cosmetic only; collisions after a wrap are fine.
func (h *Handler) pickColor(ctx context.Context, sessionCode string) string {
	count := 0
	raw, err := h.store.Get(ctx, "sessions/"+sessionCode+"/users")
	if err == nil && raw != nil {
		var users map[string]json.RawMessage
		if json.Unmarshal(raw, &users) == nil {
			count = len(users)
		}
	}
	return types.ParticipantColors[count%len(types.ParticipantColors)]
}

// handleConnection manages the connection lifecycle with heartbeat monitoring
// ARCHITECTURAL DISCOVERY: Single goroutine per connection handles both
// heartbeat and message reading to prevent goroutine proliferation
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		h.hub.HandleDisconnect(conn)
		h.registry.UnregisterConnection(conn)
		_ = conn.Close()
	}()

	// TECHNICAL DISCOVERY: 60-second read deadline with 30-second ping interval
	if err := conn.conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
		log.Printf("websocket: failed to set read deadline: %v", err)
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("websocket: read error from %s: %v", conn.GetParticipantID(), err)
			}
			break
		}

		if messageType == websocket.TextMessage {
			h.hub.HandleMessage(conn, data)
		}
	}
}
