package session

import "errors"

var (
	// ErrSessionNotReady is returned when audio is sent to a session that is
	// not in the Open state, so callers can distinguish "not yet connected"
	// from "already torn down".
	ErrSessionNotReady = errors.New("session is not ready for audio")

	// ErrNotFound is returned for operations on an unknown session id
	ErrNotFound = errors.New("session not found")

	// ErrSinkClosed is returned by a sink whose consumer has gone away
	ErrSinkClosed = errors.New("event sink is closed")

	// ErrSinkOverflow is returned by a sink whose buffer is full
	ErrSinkOverflow = errors.New("event sink buffer is full")
)
