package repository

import "errors"

var (
	ErrNotFound        = errors.New("record not found")
	ErrDuplicate       = errors.New("record already exists")
	ErrVersionConflict = errors.New("record was modified concurrently")
	// ErrTestInUse blocks re-importing a test that attempts already run against.
	ErrTestInUse = errors.New("test already has attempts")
)
