package telemetry

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedMessage marks a message that is dropped: a required field is
	// missing or has the wrong type. Processing continues with the next message.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrStorageUnavailable marks a retryable failure of the storage
	// collaborator. The message should be redelivered by the transport.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvalidTimestamp marks an instant that is unparsable or before 2000.
	ErrInvalidTimestamp = errors.New("invalid timestamp")

	// ErrUnknownRunBase marks a run base candidate that failed to parse.
	// Callers treat it as "no new information".
	ErrUnknownRunBase = errors.New("unknown run base")
)

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedMessage, fmt.Sprintf(format, args...))
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}
