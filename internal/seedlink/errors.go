package seedlink

import "errors"

var (
	// ErrConfigInvalid is returned before connecting when the connection
	// description is unusable (empty address, no subscriptions).
	ErrConfigInvalid = errors.New("invalid connection configuration")

	// ErrModeConflict is returned when uni-station and multi-station
	// subscriptions are mixed in one registry.
	ErrModeConflict = errors.New("uni-station and multi-station modes cannot be mixed")

	// ErrInfoPending is returned when an INFO request is made while another
	// is still outstanding.
	ErrInfoPending = errors.New("an INFO request is already pending")

	// ErrNegotiationFailed is a recoverable negotiation error; the engine
	// disconnects and retries after the reconnect delay.
	ErrNegotiationFailed = errors.New("negotiation with server failed")

	// ErrBadRecord is fatal: non-miniSEED data arrived mid-stream.
	ErrBadRecord = errors.New("non-miniSEED data received")

	// ErrServerEnd reports the dial-up END sentinel, a clean termination.
	ErrServerEnd = errors.New("server signaled end of data")

	// ErrServerError reports the ERROR sentinel after negotiation.
	ErrServerError = errors.New("server reported an error")

	// ErrTerminated reports cooperative termination via Terminate.
	ErrTerminated = errors.New("connection terminated")
)
