package sink

import "codeberg.org/mutker/treadlink/internal/errors"

const (
	ErrSinkConfig   errors.ErrorCode = "sink_config_invalid"
	ErrSinkEncode   errors.ErrorCode = "sink_encode_failed"
	ErrSinkRequest  errors.ErrorCode = "sink_request_failed"
	ErrSinkRejected errors.ErrorCode = "sink_rejected"
	ErrMQTTConnect  errors.ErrorCode = "sink_mqtt_connect_failed"
	ErrMQTTPublish  errors.ErrorCode = "sink_mqtt_publish_failed"
)
