package api

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Duplicate-login windows. A second device is blocked only while the first
// is plausibly still active; stale entries age out so a closed laptop never
// locks a candidate out for good.
const (
	ActiveLoginWindow  = 5 * time.Minute
	LoginIdleEviction  = 30 * time.Minute
	GuardSweepInterval = 5 * time.Minute
)

// ErrDuplicateLogin means the same participant is active from another IP.
var ErrDuplicateLogin = errors.New("session is already active from another device")

type loginEntry struct {
	userName  string
	ipHash    string
	location  string
	device    string
	loginTime time.Time
	lastSeen  time.Time
}

// Conflict describes the session blocking a login attempt.
type Conflict struct {
	Location     string
	Device       string
	LastActivity time.Time
}

// LoginStatus is what a check action sees about an active session.
type LoginStatus struct {
	LoginTime    time.Time
	LastActivity time.Time
	Location     string
}

// LoginGuard blocks concurrent logins for the same participant from
// different IPs.
//
// FUNCTIONAL DISCOVERY: Only a salted hash of the IP is kept, never the IP
// itself, so the guard holds no raw network identifiers in memory.
type LoginGuard struct {
	secret string
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]loginEntry
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewLoginGuard creates a guard salted with the given secret.
func NewLoginGuard(secret string) *LoginGuard {
	return &LoginGuard{
		secret:  secret,
		now:     time.Now,
		entries: make(map[string]loginEntry),
	}
}

// Start begins periodic eviction of idle entries.
func (g *LoginGuard) Start() {
	g.mu.Lock()
	if g.stop != nil {
		g.mu.Unlock()
		return
	}
	g.stop = make(chan struct{})
	stop := g.stop
	g.mu.Unlock()

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ticker := time.NewTicker(GuardSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				g.Sweep()
			case <-stop:
				return
			}
		}
	}()
}

// Stop halts the eviction loop.
func (g *LoginGuard) Stop() {
	g.mu.Lock()
	stop := g.stop
	g.stop = nil
	g.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	g.wg.Wait()
}

// Login admits or rejects a login for {sessionCode, userID} from the given
// IP. A non-nil Conflict means another device holds the slot; the caller
// gets the blocking session's details for the error response. Admitted
// logins overwrite the entry.
func (g *LoginGuard) Login(sessionCode, userID, userName, ip, location, device string) (*Conflict, error) {
	key := sessionCode + "-" + userID
	hash := g.hashIP(ip)
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if entry, ok := g.entries[key]; ok {
		if entry.ipHash != hash && now.Sub(entry.lastSeen) < ActiveLoginWindow {
			return &Conflict{
				Location:     entry.location,
				Device:       entry.device,
				LastActivity: entry.lastSeen,
			}, ErrDuplicateLogin
		}
	}
	g.entries[key] = loginEntry{
		userName:  userName,
		ipHash:    hash,
		location:  location,
		device:    device,
		loginTime: now,
		lastSeen:  now,
	}
	return nil, nil
}

// Heartbeat refreshes the activity timestamp for an active session. A
// heartbeat for an unknown session is a no-op, never an error.
func (g *LoginGuard) Heartbeat(sessionCode, userID string) {
	key := sessionCode + "-" + userID
	g.mu.Lock()
	defer g.mu.Unlock()
	if entry, ok := g.entries[key]; ok {
		entry.lastSeen = g.now()
		g.entries[key] = entry
	}
}

// Logout releases the session slot. Idempotent.
func (g *LoginGuard) Logout(sessionCode, userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entries, sessionCode+"-"+userID)
}

// Check reports whether a session slot is held, without recording anything.
func (g *LoginGuard) Check(sessionCode, userID string) (LoginStatus, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	entry, ok := g.entries[sessionCode+"-"+userID]
	if !ok {
		return LoginStatus{}, false
	}
	return LoginStatus{
		LoginTime:    entry.loginTime,
		LastActivity: entry.lastSeen,
		Location:     entry.location,
	}, true
}

// Sweep evicts entries idle past the eviction window.
func (g *LoginGuard) Sweep() {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	for key, entry := range g.entries {
		if now.Sub(entry.lastSeen) >= LoginIdleEviction {
			delete(g.entries, key)
		}
	}
}

func (g *LoginGuard) hashIP(ip string) string {
	sum := sha256.Sum256([]byte(ip + g.secret))
	return hex.EncodeToString(sum[:])[:16]
}

// clientIP extracts the caller's IP, trusting proxy headers first.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if idx := strings.Index(forwarded, ","); idx >= 0 {
			return strings.TrimSpace(forwarded[:idx])
		}
		return strings.TrimSpace(forwarded)
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
