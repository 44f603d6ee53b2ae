package session

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"interviewhub/pkg/interfaces"
	"interviewhub/pkg/types"
)

// User-facing validation messages. Returned verbatim to the join UI, so
// worded for the person typing the code, not for an operator.
const (
	MsgConnectionFailed = "Database connection failed. Please refresh and try again."
	MsgCodeNotFound     = "Session code not found. Please verify the code with your interviewer."
	MsgNotCreated       = "Invalid session. This session was not created by an interviewer."
	MsgExpired          = "This session has expired. Please request a new session code from your interviewer."
	MsgAlreadyEnded     = "This interview session has already ended."
	MsgValidationFailed = "Failed to validate session. Please check your internet connection."
)

// Validator decides whether a session may be joined. Read-only: it never
// writes to the store, and failures come back as messages, never panics.
type Validator struct {
	store      interfaces.RealtimeStore
	retryDelay time.Duration
	now        func() time.Time
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithRetryDelay overrides the connection-wait delay (tests).
func WithRetryDelay(d time.Duration) ValidatorOption {
	return func(v *Validator) { v.retryDelay = d }
}

// WithValidatorClock injects a clock (tests).
func WithValidatorClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) { v.now = now }
}

// NewValidator creates a validator against the given store.
func NewValidator(store interfaces.RealtimeStore, opts ...ValidatorOption) *Validator {
	v := &Validator{
		store:      store,
		retryDelay: time.Second,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate applies the joinability rules for one role.
//
// FUNCTIONAL DISCOVERY: Candidates get the strict ruleset (exists, created
// properly, within the expiry window); interviewers may re-enter stale
// sessions, but nobody joins a terminated one.
func (v *Validator) Validate(ctx context.Context, code string, role string) interfaces.ValidationResult {
	// Bounded wait for the store connection: a single retry after a fixed
	// delay, then surface a blocking error.
	if !v.store.Connected() {
		log.Printf("session: store not connected, retrying validation of %s in %v", code, v.retryDelay)
		select {
		case <-time.After(v.retryDelay):
		case <-ctx.Done():
			return interfaces.ValidationResult{Valid: false, Error: MsgConnectionFailed}
		}
		if !v.store.Connected() {
			return interfaces.ValidationResult{Valid: false, Error: MsgConnectionFailed}
		}
	}

	raw, err := v.store.Get(ctx, "sessions/"+code)
	if err != nil {
		log.Printf("session: validation read failed for %s: %v", code, err)
		return interfaces.ValidationResult{Valid: false, Error: MsgValidationFailed}
	}

	var record *types.Session
	if raw != nil {
		record = &types.Session{}
		if err := json.Unmarshal(raw, record); err != nil {
			log.Printf("session: undecodable record for %s: %v", code, err)
			return interfaces.ValidationResult{Valid: false, Error: MsgValidationFailed}
		}
	}

	if role == types.RoleCandidate {
		if record == nil {
			return interfaces.ValidationResult{Valid: false, Error: MsgCodeNotFound}
		}
		if !record.HasCreationMetadata() {
			return interfaces.ValidationResult{Valid: false, Error: MsgNotCreated}
		}
		if record.Age(v.now()) > types.SessionExpiry {
			return interfaces.ValidationResult{Valid: false, Error: MsgExpired}
		}
	}

	if record.IsTerminated() {
		return interfaces.ValidationResult{Valid: false, Error: MsgAlreadyEnded}
	}

	return interfaces.ValidationResult{Valid: true}
}
