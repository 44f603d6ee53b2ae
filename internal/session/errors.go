package session

import "errors"

// ErrCodeSpaceExhausted means every generated code collided with a live
// session. Practically impossible below millions of concurrent sessions.
var ErrCodeSpaceExhausted = errors.New("could not generate a unique session code")
