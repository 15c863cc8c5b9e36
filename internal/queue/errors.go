package queue

import "errors"

var (
	// ErrJobNotFound is returned when no job has the id.
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidPayload is returned by Enqueue for payloads without a
	// document id.
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrInterrupted is the failure reason of jobs whose final attempt was
	// cut short by a restart.
	ErrInterrupted = errors.New("interrupted on final attempt")
)
