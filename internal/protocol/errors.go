package protocol

import "codeberg.org/mutker/treadlink/internal/errors"

const (
	ErrFrameTooShort errors.ErrorCode = "codec_frame_too_short"
	ErrOutOfRange    errors.ErrorCode = "codec_value_out_of_range"
	ErrUnknownQuery  errors.ErrorCode = "codec_unknown_query"
)
