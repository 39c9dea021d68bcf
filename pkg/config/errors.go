package config

import "errors"

var (
	// ErrParsingConfig wraps failures to parse environment variables into the
	// target struct, including missing required variables.
	ErrParsingConfig = errors.New("config: failed to parse environment variables")

	// ErrNilPointer is returned when Load receives a nil destination.
	ErrNilPointer = errors.New("config: nil pointer provided")
)
