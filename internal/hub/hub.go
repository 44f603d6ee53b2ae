package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"interviewhub/internal/activity"
	"interviewhub/internal/notify"
	"interviewhub/internal/presence"
	"interviewhub/pkg/interfaces"
	"interviewhub/pkg/types"
)

// client is the per-connection assembly: presence tracking, the
// notification queue, and the role-specific activity component.
type client struct {
	conn        interfaces.Connection
	participant types.Participant
	tracker     *presence.Tracker
	queue       *notify.Queue
	monitor     *activity.Monitor  // candidates only
	observer    *activity.Observer // interviewers only
	unsubs      []func()
}

// Hub wires validated connections into the session machinery and routes
// their messages.
//
// ARCHITECTURAL DISCOVERY: Each connection gets its own presence tracker and
// notification queue rather than one shared per session, because join/leave
// visibility is relative to the viewer: you never see your own transitions.
type Hub struct {
	store             interfaces.RealtimeStore
	database          interfaces.DatabaseManager
	heartbeatInterval time.Duration
	leaseTTL          time.Duration
	queueOpts         []notify.QueueOption

	mu      sync.Mutex
	clients map[interfaces.Connection]*client
}

// Option configures a Hub.
type Option func(*Hub)

// WithPresenceTiming overrides the lease cadence passed to trackers.
func WithPresenceTiming(heartbeat, leaseTTL time.Duration) Option {
	return func(h *Hub) {
		h.heartbeatInterval = heartbeat
		h.leaseTTL = leaseTTL
	}
}

// WithNotificationTiming overrides the display cadence passed to each
// connection's notification queue (tests).
func WithNotificationTiming(display, fade, gap time.Duration) Option {
	return func(h *Hub) {
		h.queueOpts = []notify.QueueOption{notify.WithTimings(display, fade, gap)}
	}
}

// NewHub creates a hub.
func NewHub(store interfaces.RealtimeStore, database interfaces.DatabaseManager, opts ...Option) *Hub {
	h := &Hub{
		store:             store,
		database:          database,
		heartbeatInterval: presence.DefaultHeartbeatInterval,
		leaseTTL:          presence.DefaultLeaseTTL,
		clients:           make(map[interfaces.Connection]*client),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleConnect assembles the per-connection machinery and registers
// presence. Called by the transport after validation.
func (h *Hub) HandleConnect(conn interfaces.Connection, participant types.Participant) error {
	c := &client{
		conn:        conn,
		participant: participant,
		queue:       notify.NewQueue(&connSink{conn: conn}, h.queueOpts...),
	}

	c.tracker = presence.NewTracker(h.store, conn.GetSessionCode(), participant, presence.Callbacks{
		OnJoin: func(p types.Participant) {
			c.queue.Enqueue(types.Notification{
				Message: p.Name + " joined the session",
				Kind:    types.NotificationJoin,
			})
		},
		OnLeave: func(p types.Participant) {
			c.queue.Enqueue(types.Notification{
				Message: p.Name + " left the session",
				Kind:    types.NotificationLeave,
			})
		},
		OnRoster: func(users map[string]types.Participant) {
			h.send(conn, map[string]any{"type": "participants", "users": users})
		},
	}, presence.WithHeartbeatInterval(h.heartbeatInterval), presence.WithLeaseTTL(h.leaseTTL))

	if err := c.tracker.Register(context.Background()); err != nil {
		c.queue.Close()
		return fmt.Errorf("failed to register presence: %w", err)
	}

	switch participant.Role {
	case types.RoleCandidate:
		c.monitor = activity.NewMonitor(h.store, conn.GetSessionCode(), participant.ID, participant.Name)
		c.monitor.Start()
	case types.RoleInterviewer:
		c.observer = activity.NewObserver(h.store, conn.GetSessionCode(),
			func(summary *types.ActivitySummary) {
				h.send(conn, map[string]any{"type": "activity_summary", "summary": summary})
			},
			func(warning types.SecurityWarning) {
				h.send(conn, map[string]any{"type": "security_warning", "warning": warning})
			})
		c.observer.Start()
	}

	// Everyone follows the shared editor settings and the session's fate
	base := "sessions/" + conn.GetSessionCode()
	c.unsubs = append(c.unsubs, h.store.Subscribe(base+"/settings", func(snap json.RawMessage) {
		if snap == nil {
			return
		}
		var settings types.Settings
		if err := json.Unmarshal(snap, &settings); err != nil {
			return
		}
		h.send(conn, map[string]any{"type": "settings", "settings": settings})
	}))
	c.unsubs = append(c.unsubs, h.store.Subscribe(base+"/terminated", func(snap json.RawMessage) {
		if snap == nil {
			return
		}
		var term types.Termination
		if err := json.Unmarshal(snap, &term); err != nil || !term.Terminated {
			return
		}
		h.send(conn, map[string]any{"type": "session_ended", "endedBy": term.TerminatedBy})
	}))

	h.mu.Lock()
	h.clients[conn] = c
	h.mu.Unlock()

	log.Printf("hub: %s (%s) connected to session %s", participant.Name, participant.Role, conn.GetSessionCode())
	return nil
}

// clientMessage is the envelope every inbound message uses.
type clientMessage struct {
	Type      string                  `json:"type"`
	Signal    string                  `json:"signal,omitempty"`
	Size      int                     `json:"size,omitempty"`
	Settings  *types.Settings         `json:"settings,omitempty"`
	Notes     *types.InterviewerNotes `json:"notes,omitempty"`
	EventType string                  `json:"eventType,omitempty"`
	Metadata  map[string]any          `json:"metadata,omitempty"`
}

// HandleMessage routes one inbound message.
func (h *Hub) HandleMessage(conn interfaces.Connection, data []byte) {
	h.mu.Lock()
	c, ok := h.clients[conn]
	h.mu.Unlock()
	if !ok {
		return
	}

	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("hub: undecodable message from %s: %v", conn.GetParticipantID(), err)
		return
	}

	switch msg.Type {
	case "activity_signal":
		h.handleActivitySignal(c, msg)
	case "settings_update":
		h.handleSettingsUpdate(c, msg)
	case "notes_update":
		h.handleNotesUpdate(c, msg)
	case "tracking_event":
		h.handleTrackingEvent(c, msg)
	default:
		log.Printf("hub: unknown message type %q from %s", msg.Type, conn.GetParticipantID())
	}
}

func (h *Hub) handleActivitySignal(c *client, msg clientMessage) {
	// Only candidates are monitored; signals from anyone else are ignored
	if c.monitor == nil {
		return
	}
	switch msg.Signal {
	case "tab_hidden":
		c.monitor.TabHidden()
	case "tab_visible":
		c.monitor.TabVisible()
	case "input":
		c.monitor.Input()
	case "copy":
		c.monitor.Copy()
	case "paste":
		c.monitor.Paste(msg.Size)
	case "focus_lost":
		c.monitor.FocusLost()
	default:
		log.Printf("hub: unknown activity signal %q", msg.Signal)
	}
}

func (h *Hub) handleSettingsUpdate(c *client, msg clientMessage) {
	if msg.Settings == nil {
		return
	}
	if err := msg.Settings.Validate(); err != nil {
		h.send(c.conn, map[string]any{"type": "error", "message": err.Error()})
		return
	}
	path := "sessions/" + c.conn.GetSessionCode() + "/settings"
	if err := h.store.Set(context.Background(), path, msg.Settings); err != nil {
		log.Printf("hub: settings update failed for %s: %v", c.conn.GetSessionCode(), err)
	}
}

func (h *Hub) handleNotesUpdate(c *client, msg clientMessage) {
	// Notes are interviewer feedback; candidates cannot write them
	if c.participant.Role != types.RoleInterviewer || msg.Notes == nil {
		return
	}
	path := "sessions/" + c.conn.GetSessionCode() + "/interviewerNotes"
	if err := h.store.Set(context.Background(), path, msg.Notes); err != nil {
		log.Printf("hub: notes update failed for %s: %v", c.conn.GetSessionCode(), err)
	}
}

func (h *Hub) handleTrackingEvent(c *client, msg clientMessage) {
	if msg.EventType == "" {
		return
	}
	event := &types.TrackingEvent{
		UserID:    c.participant.ID,
		UserName:  c.participant.Name,
		EventType: msg.EventType,
		Metadata:  msg.Metadata,
		Timestamp: time.Now().UnixMilli(),
	}
	sessionCode := c.conn.GetSessionCode()

	if _, err := h.store.Push(context.Background(), "sessions/"+sessionCode+"/tracking", event); err != nil {
		log.Printf("hub: tracking push failed for %s: %v", sessionCode, err)
	}
	if err := h.database.StoreTrackingEvent(context.Background(), sessionCode, event); err != nil {
		log.Printf("hub: tracking persist failed for %s: %v", sessionCode, err)
	}
}

// HandleDisconnect tears down the per-connection machinery. The final
// activity summary is written before presence is removed so an interviewer
// watching the summary sees the candidate's terminal numbers.
func (h *Hub) HandleDisconnect(conn interfaces.Connection) {
	h.mu.Lock()
	c, ok := h.clients[conn]
	delete(h.clients, conn)
	h.mu.Unlock()
	if !ok {
		return
	}

	for _, unsub := range c.unsubs {
		unsub()
	}
	if c.monitor != nil {
		c.monitor.Stop()
	}
	if c.observer != nil {
		c.observer.Stop()
	}
	c.queue.Close()

	if err := c.tracker.Unregister(context.Background()); err != nil {
		log.Printf("hub: presence cleanup failed for %s: %v", c.participant.ID, err)
	}

	log.Printf("hub: %s (%s) disconnected from session %s", c.participant.Name, c.participant.Role, conn.GetSessionCode())
}

// ClientCount reports how many connections the hub is serving.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) send(conn interfaces.Connection, v any) {
	if err := conn.WriteJSON(v); err != nil {
		log.Printf("hub: write to %s failed: %v", conn.GetParticipantID(), err)
	}
}

// connSink renders queued notifications onto one connection.
type connSink struct {
	conn interfaces.Connection
}

func (s *connSink) Show(n types.Notification) error {
	return s.conn.WriteJSON(map[string]any{
		"type":    "notification",
		"message": n.Message,
		"kind":    n.Kind,
	})
}

func (s *connSink) Hide() error {
	return s.conn.WriteJSON(map[string]any{"type": "notification_hide"})
}
