package domain

import "errors"

var (
	// ErrUnrecoverable marks stream errors that must stop the service
	// instead of triggering a resubscription.
	ErrUnrecoverable = errors.New("unrecoverable stream error")

	// ErrMalformedEvent is returned when an inbound payload fails validation.
	// Always treated as unrecoverable.
	ErrMalformedEvent error = malformed{}

	ErrExecutionReverted   = errors.New("execution reverted")
	ErrNoPair              = errors.New("no pair for tokens")
	ErrMissingCollaborator = errors.New("missing collaborator")
)

type malformed struct{}

func (malformed) Error() string { return "malformed event payload" }

func (malformed) Is(target error) bool { return target == ErrUnrecoverable }
