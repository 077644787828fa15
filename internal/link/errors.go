package link

import "codeberg.org/mutker/treadlink/internal/errors"

const (
	ErrScanFailed     errors.ErrorCode = "link_scan_failed"
	ErrDeviceNotFound errors.ErrorCode = "link_device_not_found"
	ErrConnectFailed  errors.ErrorCode = "link_connect_failed"
	ErrConnectionLost errors.ErrorCode = "link_connection_lost"
	ErrHandshake      errors.ErrorCode = "link_handshake_failed"
)
