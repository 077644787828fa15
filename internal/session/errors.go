package session

import "codeberg.org/mutker/treadlink/internal/errors"

const (
	ErrValidationFailed = errors.ErrorCode("session_validation_failed")
	ErrEmptySession     = errors.ErrorCode("session_empty")
	ErrCorruptState     = errors.ErrorCode("session_corrupt_state")
)
