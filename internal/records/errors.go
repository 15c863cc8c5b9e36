package records

import (
	"errors"

	"github.com/Kanishk2004/plug-rag/internal/credentials"
)

var (
	// ErrDocumentNotFound is returned when no document record has the id.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrDocumentDeleted is returned when a pipeline write targets a record
	// that was deleted while its job ran.
	ErrDocumentDeleted = errors.New("document was deleted")

	// ErrBotNotFound is returned when no bot has the id. It is the same
	// value the credential resolver checks for.
	ErrBotNotFound = credentials.ErrBotNotFound

	// ErrBotInactive is returned for bots that exist but are not active.
	ErrBotInactive = errors.New("bot is not active")

	// ErrUnsupportedDriver is returned by Open for unknown drivers.
	ErrUnsupportedDriver = errors.New("unsupported database driver")
)
