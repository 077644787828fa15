package store

import "codeberg.org/mutker/treadlink/internal/errors"

const (
	ErrInvalidDBPath errors.ErrorCode = "store_invalid_db_path"
	ErrStorageInit   errors.ErrorCode = "store_init_failed"
	ErrStorageAccess errors.ErrorCode = "store_access_failed"
	ErrStorageClose  errors.ErrorCode = "store_close_failed"
	ErrKeyNotFound   errors.ErrorCode = "store_key_not_found"
)
