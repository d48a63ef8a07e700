package types

import "errors"

var (
	// ErrInvalidTransition is returned when the requested status is not a
	// successor of the current status in the lifecycle graph.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrMissingReason is returned when a rejection lacks its reason code.
	ErrMissingReason = errors.New("transition requires a reason")

	// ErrStoreUnavailable wraps fetch, update and subscribe failures of the record store.
	ErrStoreUnavailable = errors.New("record store unavailable")

	// ErrDispatch marks a notification that was recorded but could not be delivered.
	ErrDispatch = errors.New("notification dispatch failed")

	// ErrAudioUnavailable is logged when tone synthesis fails. It never leaves the audio gate.
	ErrAudioUnavailable = errors.New("audio unavailable")

	ErrNotFound      = errors.New("record not found")
	ErrUnknownStatus = errors.New("unknown status")
)
