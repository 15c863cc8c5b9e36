package extract

import "errors"

var (
	// ErrInvalidEncoding is returned when a text kind is not valid UTF-8.
	ErrInvalidEncoding = errors.New("extract: content is not valid UTF-8")

	// ErrEmptyText is returned when a document yields no text at all.
	ErrEmptyText = errors.New("extract: document contains no text")

	// ErrNotWordDocument is returned when a DOCX buffer lacks word/document.xml.
	ErrNotWordDocument = errors.New("extract: missing word/document.xml")
)
