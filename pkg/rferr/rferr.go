// Package rferr defines the error categories shared by the instrument and
// device clients. Callers discriminate with errors.Is after unwrapping.
package rferr

import "errors"

var (
	// ErrConnection covers address parse failures, refused connections
	// and connect timeouts.
	ErrConnection = errors.New("connection error")

	// ErrIO covers read/write/flush faults on an established connection,
	// including read timeouts.
	ErrIO = errors.New("io error")

	// ErrProtocol covers malformed responses, device-reported errors and
	// a non-empty instrument error queue.
	ErrProtocol = errors.New("protocol error")

	// ErrValidation covers caller-supplied parameters that violate a
	// precondition (sample rate ceiling, minimum waveform length,
	// unsupported file extension).
	ErrValidation = errors.New("validation error")

	// ErrFormat covers malformed binary or text payloads.
	ErrFormat = errors.New("format error")
)
