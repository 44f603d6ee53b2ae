package activity

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"interviewhub/pkg/interfaces"
	"interviewhub/pkg/types"
)

// Behavioral thresholds. All derived from observed cheating patterns:
// short absences followed by large pastes are the signature of looking
// answers up elsewhere.
const (
	IdleThreshold       = 60 * time.Second
	QuickSwitchWindow   = 5 * time.Second
	PasteAfterSwitch    = 3 * time.Second
	LargePasteChars     = 50
	SummaryInterval     = 30 * time.Second
	tabSwitchAlertFloor = 5
)

// Monitor tracks one candidate's behavioral signals and publishes periodic
// rollups to the session's activity_summary path.
//
// ARCHITECTURAL DISCOVERY: Idle time is evaluated lazily at the next signal
// or summary instead of by a watchdog timer, so a backgrounded connection
// costs nothing and the numbers are identical either way.
type Monitor struct {
	store       interfaces.RealtimeStore
	sessionCode string
	userID      string
	userName    string
	now         func() time.Time
	interval    time.Duration

	mu              sync.Mutex
	startedAt       time.Time
	lastActivity    time.Time
	hiddenAt        time.Time
	lastQuickSwitch time.Time
	tabSwitches     int
	idlePeriods     int
	totalIdle       time.Duration
	focusLost       int
	patterns        []types.SuspiciousPattern

	stop chan struct{}
	wg   sync.WaitGroup
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithMonitorClock injects a clock (tests).
func WithMonitorClock(now func() time.Time) MonitorOption {
	return func(m *Monitor) { m.now = now }
}

// WithSummaryInterval overrides the rollup cadence (tests).
func WithSummaryInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) { m.interval = d }
}

// NewMonitor creates a monitor for one candidate in one session.
func NewMonitor(store interfaces.RealtimeStore, sessionCode, userID, userName string, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		store:       store,
		sessionCode: sessionCode,
		userID:      userID,
		userName:    userName,
		now:         time.Now,
		interval:    SummaryInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	now := m.now()
	m.startedAt = now
	m.lastActivity = now
	return m
}

// Start begins periodic summary publication.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.stop != nil {
		m.mu.Unlock()
		return
	}
	m.stop = make(chan struct{})
	m.mu.Unlock()

	m.wg.Add(1)
	go m.summaryLoop()
}

// Stop halts summary publication and writes one final rollup.
func (m *Monitor) Stop() {
	m.mu.Lock()
	stop := m.stop
	m.stop = nil
	m.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	m.wg.Wait()
	m.publishSummary()
}

func (m *Monitor) summaryLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		m.mu.Lock()
		stop := m.stop
		m.mu.Unlock()
		if stop == nil {
			return
		}
		select {
		case <-ticker.C:
			m.publishSummary()
		case <-stop:
			return
		}
	}
}

func (m *Monitor) publishSummary() {
	summary := m.Summary()
	path := "sessions/" + m.sessionCode + "/activity_summary"
	if err := m.store.Set(context.Background(), path, summary); err != nil {
		log.Printf("activity: failed to publish summary for %s: %v", m.sessionCode, err)
	}
}

// markActivity closes any open idle gap and advances the activity clock.
// Callers hold m.mu.
func (m *Monitor) markActivity(now time.Time) {
	if gap := now.Sub(m.lastActivity); gap > IdleThreshold {
		m.idlePeriods++
		m.totalIdle += gap
	}
	m.lastActivity = now
}

// Input records a keystroke or editor change.
func (m *Monitor) Input() {
	m.mu.Lock()
	m.markActivity(m.now())
	m.mu.Unlock()
}

// TabHidden records the candidate leaving the tab.
func (m *Monitor) TabHidden() {
	m.mu.Lock()
	now := m.now()
	m.markActivity(now)
	m.hiddenAt = now
	m.tabSwitches++
	switches := m.tabSwitches
	m.mu.Unlock()

	m.logEvent("tab_hidden", nil)

	// FUNCTIONAL DISCOVERY: Alert on every fifth switch past the floor, not
	// on each one, so the interviewer sees escalation rather than noise
	if switches > tabSwitchAlertFloor && switches%5 == 0 {
		m.pushWarning("excessive_tab_switching",
			fmt.Sprintf("%s has switched tabs %d times", m.userName, switches))
	}
}

// TabVisible records the candidate returning to the tab.
func (m *Monitor) TabVisible() {
	m.mu.Lock()
	now := m.now()
	var away time.Duration
	if !m.hiddenAt.IsZero() {
		away = now.Sub(m.hiddenAt)
		m.hiddenAt = time.Time{}
	}
	if away > 0 && away < QuickSwitchWindow {
		m.lastQuickSwitch = now
		m.patterns = append(m.patterns, types.SuspiciousPattern{
			Type:      types.PatternQuickTabSwitch,
			Duration:  away.Milliseconds(),
			Timestamp: now.UnixMilli(),
		})
	}
	m.markActivity(now)
	m.mu.Unlock()

	m.logEvent("tab_visible", map[string]any{"awayMs": away.Milliseconds()})
}

// Paste records a paste of the given size. Only a paste landing within 3
// seconds of a recorded quick tab switch is flagged; returning from a long
// absence never arms the rule.
func (m *Monitor) Paste(size int) {
	m.mu.Lock()
	now := m.now()
	suspicious := size > LargePasteChars &&
		!m.lastQuickSwitch.IsZero() &&
		now.Sub(m.lastQuickSwitch) <= PasteAfterSwitch
	if suspicious {
		m.patterns = append(m.patterns, types.SuspiciousPattern{
			Type:      types.PatternSwitchAndPaste,
			PasteSize: size,
			Timestamp: now.UnixMilli(),
		})
	}
	m.markActivity(now)
	m.mu.Unlock()

	m.logEvent("paste", map[string]any{"size": size})
	if suspicious {
		m.pushWarning("paste_after_tab_switch",
			fmt.Sprintf("%s pasted %d characters right after returning to the tab", m.userName, size))
	}
}

// Copy records a copy event.
func (m *Monitor) Copy() {
	m.mu.Lock()
	m.markActivity(m.now())
	m.mu.Unlock()
	m.logEvent("copy", nil)
}

// FocusLost records the window losing focus without a tab switch.
func (m *Monitor) FocusLost() {
	m.mu.Lock()
	m.focusLost++
	m.markActivity(m.now())
	m.mu.Unlock()
	m.logEvent("focus_lost", nil)
}

func (m *Monitor) logEvent(eventType string, metadata map[string]any) {
	entry := map[string]any{
		"type":      eventType,
		"userId":    m.userID,
		"timestamp": m.now().UnixMilli(),
	}
	if metadata != nil {
		entry["metadata"] = metadata
	}
	path := "sessions/" + m.sessionCode + "/activity_log"
	if _, err := m.store.Push(context.Background(), path, entry); err != nil {
		log.Printf("activity: failed to log %s event: %v", eventType, err)
	}
}

func (m *Monitor) pushWarning(alertType, message string) {
	warning := types.SecurityWarning{
		AlertType: alertType,
		Message:   message,
		UserID:    m.userID,
		Timestamp: m.now().UnixMilli(),
	}
	path := "sessions/" + m.sessionCode + "/security_warnings"
	if _, err := m.store.Push(context.Background(), path, warning); err != nil {
		log.Printf("activity: failed to push %s warning: %v", alertType, err)
	}
}

// Summary computes the current rollup, including any idle gap still open.
func (m *Monitor) Summary() *types.ActivitySummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	duration := now.Sub(m.startedAt)
	idlePeriods := m.idlePeriods
	totalIdle := m.totalIdle
	if gap := now.Sub(m.lastActivity); gap > IdleThreshold {
		idlePeriods++
		totalIdle += gap
	}

	return &types.ActivitySummary{
		SessionDuration:    int64(duration.Seconds()),
		TabSwitches:        m.tabSwitches,
		IdlePeriods:        idlePeriods,
		TotalIdleTime:      int64(totalIdle.Seconds()),
		FocusLostCount:     m.focusLost,
		SuspiciousPatterns: len(m.patterns),
		ActivityScore:      score(duration, totalIdle, m.tabSwitches, len(m.patterns)),
	}
}

// FinalSummary is the terminal rollup used when the session ends.
func (m *Monitor) FinalSummary() *types.ActivitySummary {
	return m.Summary()
}

// Patterns returns the flagged behavioral events so far.
func (m *Monitor) Patterns() []types.SuspiciousPattern {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.SuspiciousPattern(nil), m.patterns...)
}

// score derives the 0-100 engagement score. Tab switches cost 5 points each
// capped at 30, idle percentage costs half a point per percent capped at 20,
// and each suspicious pattern costs a flat 10.
func score(duration, idle time.Duration, tabSwitches, patterns int) int {
	s := 100.0
	s -= math.Min(30, float64(tabSwitches)*5)
	if duration > 0 {
		idlePercent := idle.Seconds() / duration.Seconds() * 100
		s -= math.Min(20, idlePercent*0.5)
	}
	s -= float64(patterns) * 10
	s = math.Round(s)
	if s < 0 {
		return 0
	}
	return int(s)
}
