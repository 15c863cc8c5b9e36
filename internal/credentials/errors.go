package credentials

import "errors"

var (
	// ErrNoAPIKey is returned when neither the bot nor the global
	// configuration supplies a key the bot may use.
	ErrNoAPIKey = errors.New("no API key available")

	// ErrBotNotFound is returned by a SettingsStore for unknown bots.
	ErrBotNotFound = errors.New("bot not found")

	// ErrOwnerMismatch is returned when the caller does not own the bot.
	ErrOwnerMismatch = errors.New("bot does not belong to owner")

	// ErrDecrypt is returned when a stored key cannot be decrypted.
	ErrDecrypt = errors.New("decrypt bot api key")
)
