package types

import "errors"

// ARCHITECTURAL DISCOVERY: Specific error types enable proper error handling
// and user-friendly error messages throughout the system
var (
	ErrInvalidSessionCode   = errors.New("session code must be exactly 6 digits")
	ErrInvalidDisplayName   = errors.New("display name must be 1-50 characters")
	ErrInvalidRole          = errors.New("role must be 'candidate' or 'interviewer'")
	ErrInvalidParticipantID = errors.New("participant ID must be <role>_<random>")
	ErrUnsupportedLanguage  = errors.New("language is not in the supported catalog")
)
