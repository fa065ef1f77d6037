package model

import "errors"

// Precondition-violation errors the Engine returns when an operation is
// attempted in a state that does not permit it (spec.md §7 item 1).
var (
	ErrNotAttached  = errors.New("surface not attached")
	ErrNoPreview    = errors.New("no preview loaded")
	ErrNotOnAir     = errors.New("not on-air")
	ErrAlreadyMixing = errors.New("mix already in progress")
)

// ErrSinkClosed names the state of an OutputDriver after Destroy has run;
// any further PushFrame/PushKeyFrame call is a programming error. None of
// the drivers in this module returns it.
var ErrSinkClosed = errors.New("output sink closed")

// ErrUnauthorized names a failed control-connection token check. The
// control server rejects such a connection without returning this value.
var ErrUnauthorized = errors.New("unauthorized")
