package api

import "errors"

var (
	errNoUpstream     = errors.New("no movie upstream configured")
	errUpstreamStatus = errors.New("movie upstream returned non-200 status")
	errUpstreamBody   = errors.New("movie upstream returned invalid JSON")
)
