package types

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Participant roles
// ARCHITECTURAL DISCOVERY: Role is an explicit field set at join time rather
// than inferred from the display name, so dashboard classification and
// monitoring decisions never depend on what a participant typed as their name
const (
	RoleCandidate   = "candidate"
	RoleInterviewer = "interviewer"
)

// Derived session status values used by the admin dashboard
const (
	StatusActive     = "active"      // created, only a candidate (or nobody) present
	StatusWaiting    = "waiting"     // interviewer present, no candidate yet
	StatusInProgress = "in-progress" // candidate and interviewer both present
	StatusExpired    = "expired"     // older than the expiry window, not terminated
)

// SessionExpiry is how long a session stays joinable after creation.
const SessionExpiry = 2 * time.Hour

// Notification kinds for presence transitions
const (
	NotificationJoin  = "join"
	NotificationLeave = "leave"
)

// Session is the record stored at sessions/{code} in the realtime store.
// FUNCTIONAL DISCOVERY: All timestamps are Unix milliseconds to match the
// wire format clients already compute ages against (now - created <= 2h)
type Session struct {
	Code                  string                 `json:"code,omitempty"`
	Created               int64                  `json:"created"`
	CreatedBy             string                 `json:"createdBy"`
	Terminated            *Termination           `json:"terminated,omitempty"`
	Archived              *ArchiveMarker         `json:"archived,omitempty"`
	Users                 map[string]Participant `json:"users,omitempty"`
	PreservedParticipants map[string]Participant `json:"preservedParticipants,omitempty"`
	Settings              *Settings              `json:"settings,omitempty"`
	ActivitySummary       *ActivitySummary       `json:"activity_summary,omitempty"`
	ActivityFinalSummary  *ActivitySummary       `json:"activity_final_summary,omitempty"`
	InterviewerNotes      *InterviewerNotes      `json:"interviewerNotes,omitempty"`
}

// Termination marks a session as ended. Once written, the session rejects
// all joins regardless of role.
type Termination struct {
	Terminated   bool   `json:"terminated"`
	TerminatedBy string `json:"terminatedBy"`
	TerminatedAt int64  `json:"terminatedAt"`
}

// ArchiveMarker flags a session aged out by the dashboard sweep.
type ArchiveMarker struct {
	Archived   bool   `json:"archived"`
	ArchivedAt int64  `json:"archivedAt"`
	Reason     string `json:"reason"`
}

// Participant is a live presence record under sessions/{code}/users/{id}.
// Lifecycle: written on join, removed by the store's disconnect lease on
// abrupt disconnect, removed explicitly on graceful logout.
type Participant struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	Color    string `json:"color"`
	JoinedAt int64  `json:"joinedAt"`
}

// Settings are the editor settings shared across a session.
type Settings struct {
	Language string `json:"language,omitempty"`
	Theme    string `json:"theme,omitempty"`
}

// ActivitySummary is the periodic behavioral rollup a monitored candidate
// publishes to sessions/{code}/activity_summary.
type ActivitySummary struct {
	SessionDuration    int64 `json:"sessionDuration"` // seconds
	TabSwitches        int   `json:"tabSwitches"`
	IdlePeriods        int   `json:"idlePeriods"`
	TotalIdleTime      int64 `json:"totalIdleTime"` // seconds
	FocusLostCount     int   `json:"focusLostCount"`
	SuspiciousPatterns int   `json:"suspiciousPatterns"`
	ActivityScore      int   `json:"activityScore"`
}

// Suspicious pattern types recorded by the activity monitor
const (
	PatternQuickTabSwitch = "quick_tab_switch"
	PatternSwitchAndPaste = "switch_and_paste"
)

// SuspiciousPattern is one flagged behavioral event.
type SuspiciousPattern struct {
	Type      string `json:"type"`
	Duration  int64  `json:"duration,omitempty"`  // ms away from tab, quick_tab_switch only
	PasteSize int    `json:"pasteSize,omitempty"` // characters, switch_and_paste only
	Timestamp int64  `json:"timestamp"`
}

// SecurityWarning is an alert pushed to sessions/{code}/security_warnings
// for the interviewer-side observer.
type SecurityWarning struct {
	AlertType string `json:"alertType"`
	Message   string `json:"message"`
	UserID    string `json:"userId"`
	Timestamp int64  `json:"timestamp"`
}

// InterviewerNotes is the free-form feedback record the Slack export reads.
type InterviewerNotes struct {
	Recommendation string   `json:"recommendation,omitempty"`
	Rating         Rating   `json:"rating,omitempty"`
	Content        string   `json:"content,omitempty"`
	Tags           []string `json:"tags,omitempty"`
}

// Rating holds the numeric portion of interviewer feedback.
type Rating struct {
	Overall int `json:"overall,omitempty"`
}

// TrackingEvent is an audit entry keyed by push ID under
// sessions/{code}/tracking.
type TrackingEvent struct {
	UserID    string         `json:"userId"`
	UserName  string         `json:"userName"`
	EventType string         `json:"eventType"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// Notification is one queued presence notification.
// Invariant: at most one notification is visibly rendered at a time and
// entries leave the queue only by being displayed.
type Notification struct {
	Message string `json:"message"`
	Kind    string `json:"kind"`
}

// SessionInfo is the dashboard projection of one session.
type SessionInfo struct {
	Code       string                 `json:"code"`
	Status     string                 `json:"status"`
	Users      map[string]Participant `json:"users"`
	UserCount  int                    `json:"userCount"`
	Created    int64                  `json:"created"`
	CreatedBy  string                 `json:"createdBy"`
	IsExpired  bool                   `json:"isExpired"`
	Candidates []string               `json:"candidates"`
}

// SessionArchive is the row persisted to SQLite when a session ends.
type SessionArchive struct {
	Code                  string                 `json:"code"`
	Created               int64                  `json:"created"`
	CreatedBy             string                 `json:"createdBy"`
	TerminatedBy          string                 `json:"terminatedBy"`
	TerminatedAt          int64                  `json:"terminatedAt"`
	PreservedParticipants map[string]Participant `json:"preservedParticipants,omitempty"`
	FinalSummary          *ActivitySummary       `json:"finalSummary,omitempty"`
	Notes                 *InterviewerNotes      `json:"notes,omitempty"`
}

// ParticipantColors is the fixed cosmetic palette assigned at join.
var ParticipantColors = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#96CEB4", "#FFEAA7",
	"#DDA0DD", "#98D8C8", "#FFD700", "#FF69B4", "#00CED1",
}

// SupportedLanguages lists the editor languages a settings update may select.
var SupportedLanguages = map[string]bool{
	"javascript": true, "python": true, "java": true, "c_cpp": true,
	"csharp": true, "php": true, "ruby": true, "go": true, "rust": true,
	"typescript": true, "swift": true, "kotlin": true, "html": true,
	"css": true, "sql": true, "markdown": true,
}

// NewParticipantID generates a process-unique participant ID in the
// <role>_<random> format presence paths are keyed by.
func NewParticipantID(role string) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
	return role + "_" + suffix
}

// IsTerminated reports whether the session carries a terminated marker.
func (s *Session) IsTerminated() bool {
	return s != nil && s.Terminated != nil && s.Terminated.Terminated
}

// HasCreationMetadata reports whether the session was created through the
// lifecycle manager rather than materialized as a side effect of a write.
func (s *Session) HasCreationMetadata() bool {
	return s != nil && s.Created > 0 && s.CreatedBy != ""
}

// Age returns how old the session is relative to now.
func (s *Session) Age(now time.Time) time.Duration {
	return time.Duration(now.UnixMilli()-s.Created) * time.Millisecond
}
