package types

import "regexp"

// FUNCTIONAL DISCOVERY: Regexes compiled once at package initialization
// because validation runs on every join and every gateway handshake
var (
	sessionCodeRegex   = regexp.MustCompile(`^\d{6}$`)
	participantIDRegex = regexp.MustCompile(`^(candidate|interviewer)_[a-z0-9]+$`)
)

// IsValidSessionCode checks the 6-digit numeric session code format.
func IsValidSessionCode(code string) bool {
	return sessionCodeRegex.MatchString(code)
}

// IsValidDisplayName checks the participant display name bounds.
// 1-50 characters keeps presence badges and dashboard rows renderable.
func IsValidDisplayName(name string) bool {
	return len(name) >= 1 && len(name) <= 50
}

// IsValidRole checks that a role is one of the two the platform knows.
func IsValidRole(role string) bool {
	return role == RoleCandidate || role == RoleInterviewer
}

// IsValidParticipantID checks the <role>_<random> presence key format.
func IsValidParticipantID(id string) bool {
	return participantIDRegex.MatchString(id)
}

// Validate ensures a participant record is storable under a users path.
func (p *Participant) Validate() error {
	if !IsValidDisplayName(p.Name) {
		return ErrInvalidDisplayName
	}
	if !IsValidRole(p.Role) {
		return ErrInvalidRole
	}
	if p.ID != "" && !IsValidParticipantID(p.ID) {
		return ErrInvalidParticipantID
	}
	return nil
}

// Validate ensures a settings update only selects known values.
// FUNCTIONAL DISCOVERY: Theme is free-form (the editor loads themes lazily)
// but language must be in the supported catalog so every client can load
// the matching mode
func (s *Settings) Validate() error {
	if s.Language != "" && !SupportedLanguages[s.Language] {
		return ErrUnsupportedLanguage
	}
	return nil
}
