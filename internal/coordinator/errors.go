package coordinator

import "codeberg.org/mutker/treadlink/internal/errors"

const (
	ErrNothingToSave  errors.ErrorCode = "coordinator_nothing_to_save"
	ErrSessionInvalid errors.ErrorCode = "coordinator_session_invalid"
	ErrSaveFailed     errors.ErrorCode = "coordinator_save_failed"
)
