package session

import "errors"

var (
	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrNilParameter indicates a nil parameter was provided.
	ErrNilParameter = errors.New("nil parameter")

	// ErrIdGeneratorFailed indicates a session id could not be generated.
	ErrIdGeneratorFailed = errors.New("id generation failed")
)
