package indexer

import (
	"errors"

	"github.com/cenkalti/backoff/v4"

	"github.com/Kanishk2004/plug-rag/internal/credentials"
	"github.com/Kanishk2004/plug-rag/internal/embedding"
	"github.com/Kanishk2004/plug-rag/internal/objectstore"
	"github.com/Kanishk2004/plug-rag/internal/records"
)

var (
	// ErrOwnershipMismatch is returned when a job names a bot or owner other
	// than the document record's.
	ErrOwnershipMismatch = errors.New("document does not belong to bot owner")

	// ErrNoFragments is returned when a document yields nothing to embed.
	ErrNoFragments = errors.New("document produced no fragments")

	// ErrNoVectors is returned when storing reported success but the index
	// holds no vectors for the document.
	ErrNoVectors = errors.New("no vectors stored for document")
)

// permanentErrors cannot be fixed by retrying the same job.
var permanentErrors = []error{
	ErrOwnershipMismatch,
	ErrNoFragments,
	records.ErrDocumentNotFound,
	records.ErrDocumentDeleted,
	objectstore.ErrObjectNotFound,
	objectstore.ErrEmptyObject,
	objectstore.ErrInvalidKey,
	objectstore.ErrUnsupportedScheme,
	credentials.ErrNoAPIKey,
	credentials.ErrOwnerMismatch,
	credentials.ErrBotNotFound,
	credentials.ErrDecrypt,
	embedding.ErrUnauthorized,
	embedding.ErrUnknownProvider,
	embedding.ErrMissingAPIKey,
}

// classify wraps errors that retrying cannot fix with backoff.Permanent.
func classify(err error) error {
	for _, target := range permanentErrors {
		if errors.Is(err, target) {
			return backoff.Permanent(err)
		}
	}
	return err
}
