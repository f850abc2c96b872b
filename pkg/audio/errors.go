package audio

import "errors"

var (
	// ErrDeviceUnavailable is returned when an input or output device cannot
	// be acquired: no device present, permission denied, or the host audio
	// backend failed to initialise. It is fatal to the attempted session.
	ErrDeviceUnavailable = errors.New("audio: device unavailable")

	// ErrDecode is returned when a single inbound chunk cannot be decoded.
	// Callers skip the chunk and continue.
	ErrDecode = errors.New("audio: decode failed")

	// ErrEmptyFrame is returned when a frame would carry no samples.
	ErrEmptyFrame = errors.New("audio: empty frame")

	// ErrDeviceClosed is returned by device operations after Close.
	ErrDeviceClosed = errors.New("audio: device closed")
)
