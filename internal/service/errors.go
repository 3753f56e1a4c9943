package service

import "errors"

// Domain errors. Engine guard errors (engine.ErrSectionLocked and friends)
// pass through unchanged; handlers map both sets onto response codes.
var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("attempt belongs to another user")
	ErrInvalidState = errors.New("operation not allowed in the current state")
	ErrTestNotReady = errors.New("test is not available")
	ErrNotEnrolled  = errors.New("user is not enrolled for this test")
	ErrValidation   = errors.New("validation failed")
	ErrBusy         = errors.New("attempt is being modified concurrently, retry")
)
