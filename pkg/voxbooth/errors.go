package voxbooth

import (
	"errors"
	"fmt"
)

// Error codes as constants
const (
	ErrCodeDeviceUnavailable = "DEVICE_UNAVAILABLE"
	ErrCodeChannelMapping    = "INVALID_CHANNEL_MAPPING"
	ErrCodeStateInvalid      = "SHARED_STATE_INVALID"
	ErrCodeSegment           = "SHARED_SEGMENT_ERROR"
	ErrCodeBufferAttach      = "BUFFER_ATTACH_ERROR"
	ErrCodeStreamOpen        = "STREAM_OPEN_ERROR"
	ErrCodeStreamStart       = "STREAM_START_ERROR"
	ErrCodeCommandMalformed  = "COMMAND_MALFORMED"
	ErrCodeConfigInvalid     = "CONFIG_INVALID"
	ErrCodeWorkerSpawn       = "WORKER_SPAWN_ERROR"
	ErrCodeWorkerTimeout     = "WORKER_TIMEOUT"
	ErrCodeSaveFailed        = "SAVE_FAILED"
	ErrCodeUnknown           = "UNKNOWN_ERROR"
)

func NewDeviceError(message string) *VoxError {
	return NewVoxError(message, ErrCodeDeviceUnavailable)
}

func NewMappingError(message string) *VoxError {
	return NewVoxError(message, ErrCodeChannelMapping)
}

func NewStateError(message string) *VoxError {
	return NewVoxError(message, ErrCodeStateInvalid)
}

func NewSegmentError(message string) *VoxError {
	return NewVoxError(message, ErrCodeSegment)
}

func NewStreamError(message string) *VoxError {
	return NewVoxError(message, ErrCodeStreamOpen)
}

func NewConfigError(message string) *VoxError {
	return NewVoxError(message, ErrCodeConfigInvalid)
}

func NewWorkerError(message string) *VoxError {
	return NewVoxError(message, ErrCodeWorkerSpawn)
}

// WrapError wraps any error as a VoxError with the given code.
func WrapError(err error, code string) *VoxError {
	if err == nil {
		return nil
	}
	return NewVoxError(err.Error(), code).AddDetail("original_error", fmt.Sprintf("%v", err))
}

// ErrorCode extracts the code from an error, ErrCodeUnknown otherwise.
func ErrorCode(err error) string {
	var ve *VoxError
	if errors.As(err, &ve) {
		return ve.Code
	}
	return ErrCodeUnknown
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code string) bool {
	return ErrorCode(err) == code
}

// IsRecoverableError reports whether the engine can continue after err:
// device-unavailable falls back to the system default, a bad channel
// mapping falls back to identity or averaged mapping, and a not-yet-valid
// shared segment is simply absent data.
func IsRecoverableError(err error) bool {
	switch ErrorCode(err) {
	case ErrCodeDeviceUnavailable, ErrCodeChannelMapping, ErrCodeStateInvalid:
		return true
	}
	return false
}
