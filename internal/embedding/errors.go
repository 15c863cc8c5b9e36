package embedding

import "errors"

var (
	// ErrUnknownProvider is returned when Config names no supported provider.
	ErrUnknownProvider = errors.New("unknown embedding provider")

	// ErrMissingAPIKey is returned when a remote provider is configured
	// without a key.
	ErrMissingAPIKey = errors.New("embedding api key is empty")

	// ErrUnauthorized is returned when the provider rejects the credential.
	// Retrying with the same key cannot succeed.
	ErrUnauthorized = errors.New("embedding credential rejected")

	// ErrCountMismatch is returned when a provider answers with a different
	// number of vectors than texts sent.
	ErrCountMismatch = errors.New("embedding count does not match input")
)
