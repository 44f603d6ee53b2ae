package activity

import (
	"encoding/json"
	"log"
	"sort"

	"interviewhub/pkg/interfaces"
	"interviewhub/pkg/types"
)

// Observer is the interviewer-side view of a candidate's activity: it
// watches the summary and warning paths and forwards decoded updates.
type Observer struct {
	store       interfaces.RealtimeStore
	sessionCode string

	onSummary func(*types.ActivitySummary)
	onWarning func(types.SecurityWarning)

	seenWarnings map[string]bool
	unsubs       []func()
}

// NewObserver creates an observer for one session. Callbacks may be nil.
func NewObserver(store interfaces.RealtimeStore, sessionCode string, onSummary func(*types.ActivitySummary), onWarning func(types.SecurityWarning)) *Observer {
	return &Observer{
		store:        store,
		sessionCode:  sessionCode,
		onSummary:    onSummary,
		onWarning:    onWarning,
		seenWarnings: make(map[string]bool),
	}
}

// Start subscribes to the activity paths.
func (o *Observer) Start() {
	base := "sessions/" + o.sessionCode

	if o.onSummary != nil {
		o.unsubs = append(o.unsubs, o.store.Subscribe(base+"/activity_summary", func(snap json.RawMessage) {
			if snap == nil {
				return
			}
			var summary types.ActivitySummary
			if err := json.Unmarshal(snap, &summary); err != nil {
				log.Printf("activity: undecodable summary in %s: %v", o.sessionCode, err)
				return
			}
			o.onSummary(&summary)
		}))
	}

	if o.onWarning != nil {
		o.unsubs = append(o.unsubs, o.store.Subscribe(base+"/security_warnings", func(snap json.RawMessage) {
			if snap == nil {
				return
			}
			var warnings map[string]types.SecurityWarning
			if err := json.Unmarshal(snap, &warnings); err != nil {
				log.Printf("activity: undecodable warnings in %s: %v", o.sessionCode, err)
				return
			}
			// Warnings accumulate under push keys; deliver each exactly once,
			// in key order (push keys sort chronologically).
			keys := make([]string, 0, len(warnings))
			for key := range warnings {
				if !o.seenWarnings[key] {
					keys = append(keys, key)
				}
			}
			sort.Strings(keys)
			for _, key := range keys {
				o.seenWarnings[key] = true
				o.onWarning(warnings[key])
			}
		}))
	}
}

// Stop removes the subscriptions.
func (o *Observer) Stop() {
	for _, unsub := range o.unsubs {
		unsub()
	}
	o.unsubs = nil
}
