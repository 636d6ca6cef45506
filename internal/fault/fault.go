// Package fault defines the error kinds shared by all pipeline components.
// Components wrap these sentinels with context so callers can classify
// failures with errors.Is while still seeing the local detail.
package fault

import "errors"

var (
	// ErrBackendUnavailable reports that a recognition, reasoning or
	// synthesis backend could not be reached. It is surfaced verbatim and
	// never retried automatically.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrBackendTimeout reports that a backend operation exceeded its bound
	// and was forcibly terminated.
	ErrBackendTimeout = errors.New("backend timeout")

	// ErrRateLimited reports that the sliding-window limit for the caller
	// and operation class was exceeded. No side effects occurred.
	ErrRateLimited = errors.New("rate limited")

	// ErrResourceExhausted reports that a memory reservation would exceed
	// the per-request ceiling or the global budget.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrInvalidTarget reports an unknown channel, device or voice.
	ErrInvalidTarget = errors.New("invalid target")

	// ErrNoSpeechDetected reports that a VAD session timed out without the
	// energy ever crossing the speech threshold.
	ErrNoSpeechDetected = errors.New("no speech detected")

	// ErrMalformedInput reports a degenerate payload: unsupported URL
	// scheme, zero-byte audio, empty text.
	ErrMalformedInput = errors.New("malformed input")

	// ErrCaptureBusy reports that a capture session is already live.
	// Capture hardware is exclusive; concurrent requests are rejected
	// rather than queued.
	ErrCaptureBusy = errors.New("capture in progress")
)
