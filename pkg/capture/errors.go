package capture

import "errors"

var (
	ErrDeviceNotFound          = errors.New("device not found")
	ErrDeviceOpenFailed        = errors.New("device open failed")
	ErrFormatNegotiationFailed = errors.New("format negotiation failed")
	ErrBufferAllocationFailed  = errors.New("buffer allocation failed")
	ErrStreamStartFailed       = errors.New("stream start failed")

	// ErrNoFrameAvailable means the readiness wait timed out. Callers retry.
	ErrNoFrameAvailable = errors.New("no frame available")

	// ErrDecodeFailed affects a single frame only.
	ErrDecodeFailed = errors.New("frame decode failed")

	// ErrLeaseReleased is returned by a second Release on the same lease.
	ErrLeaseReleased = errors.New("buffer lease already released")

	// ErrInvalidState is returned when an operation is called from the
	// wrong lifecycle state.
	ErrInvalidState = errors.New("invalid backend state")
)
