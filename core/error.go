package core

import "errors"

var (
	// ErrUnauthenticated is returned when an operation requires an
	// authenticated connection and the connection has no user bound.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrAuthFailed is returned when a credential token is rejected.
	// The connection stays open and the client may retry.
	ErrAuthFailed = errors.New("authentication failed")
	// ErrInvalidMessageKind is returned when the kind of a message is not
	// in the allowed set.
	ErrInvalidMessageKind = errors.New("invalid message kind")
	// ErrInvalidPayload is returned for malformed or unrecognized client events.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrPersistence wraps failures of the persistence collaborator.
	ErrPersistence = errors.New("persistence failure")
	// ErrUnknownMessage is returned when a referenced message does not exist.
	ErrUnknownMessage = errors.New("unknown message")
)
