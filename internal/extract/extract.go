// Package extract turns raw document bytes into plain text plus the
// structural hints the chunker splits along.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Kanishk2004/plug-rag/internal/format"
)

// Extractor converts one kind of document into text.
type Extractor interface {
	Extract(ctx context.Context, buf []byte, opts Options) (*Result, error)
}

// Options tunes extraction.
type Options struct {
	// HTMLReadability enables readability scoring when converting HTML.
	HTMLReadability bool
	// MaxCSVRows caps the rows kept from tabular documents. Zero means no cap.
	MaxCSVRows int
}

// Result is the output of an extractor.
type Result struct {
	Kind           format.Kind
	Text           string
	Structure      Structure
	Metadata       map[string]string
	WordCount      int
	CharacterCount int
	// UsedFallback is set when the text came from the fallback extractor.
	UsedFallback bool
}

// Structure carries the semantic seams of a document. Only the fields that
// make sense for the document kind are populated.
type Structure struct {
	// Sections are heading-delimited spans in reading order. A leading span
	// without a heading is kept with an empty Heading.
	Sections []Section
	// Paragraphs are blank-line separated blocks in reading order.
	Paragraphs []Block
	Lists      [][]string
	Tables     []Table
	Tabular    *Tabular
	// Pages is the number of form-feed separated pages, zero when unknown.
	Pages int
}

// Section is a heading and the body that follows it.
type Section struct {
	Heading string
	// Path is the heading hierarchy, e.g. "Setup > Install".
	Path    string
	Level   int
	Content string
	Page    int
}

// Block is a paragraph-level unit of text.
type Block struct {
	Text  string
	Page  int
	Style string
}

// Table is a simple grid with an optional header row.
type Table struct {
	Header []string
	Rows   [][]string
}

// Tabular describes delimited data.
type Tabular struct {
	Delimiter      rune
	Columns        []string
	Rows           [][]string
	CategoryColumn string
	Categories     []Category
	// TotalRows counts rows before any MaxCSVRows cap.
	TotalRows int
}

// Category groups rows sharing a value in the category column.
type Category struct {
	Name string
	Rows []int
}

// HasStructure reports whether the chunker has seams to split along.
func (s Structure) HasStructure() bool {
	return len(s.Sections) > 0 || len(s.Paragraphs) > 0 || s.Tabular != nil
}

// Registry dispatches buffers to the extractor for their kind, falling back
// to the universal extractor on any failure.
type Registry struct {
	extractors map[format.Kind]Extractor
	fallback   *Fallback
	logger     *slog.Logger
}

// NewRegistry returns a registry with an extractor for every kind.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		extractors: map[format.Kind]Extractor{
			format.PDF:  &PDF{},
			format.DOCX: &DOCX{},
			format.Text: NewText(),
			format.CSV:  &CSV{},
			format.HTML: &HTML{},
		},
		fallback: &Fallback{},
		logger:   logger.With("component", "extract"),
	}
}

// Register replaces the extractor used for kind.
func (r *Registry) Register(kind format.Kind, e Extractor) {
	r.extractors[kind] = e
}

// Extract runs the extractor for kind. It never returns an empty result:
// errors, panics and empty output all route to the fallback extractor.
func (r *Registry) Extract(ctx context.Context, kind format.Kind, buf []byte, opts Options) *Result {
	e, ok := r.extractors[kind]
	if !ok {
		return r.runFallback(ctx, kind, buf, opts, fmt.Sprintf("no extractor for kind %q", kind))
	}

	res, err := safeExtract(ctx, e, buf, opts)
	if err != nil {
		r.logger.Warn("Extraction failed, using fallback", "kind", kind, "error", err)
		return r.runFallback(ctx, kind, buf, opts, err.Error())
	}
	if res == nil || strings.TrimSpace(res.Text) == "" {
		r.logger.Warn("Extraction produced no text, using fallback", "kind", kind)
		return r.runFallback(ctx, kind, buf, opts, "empty extraction result")
	}

	res.Kind = kind
	finalize(res)
	return res
}

func (r *Registry) runFallback(ctx context.Context, kind format.Kind, buf []byte, opts Options, reason string) *Result {
	res, _ := r.fallback.Extract(ctx, buf, opts)
	res.Kind = kind
	res.Metadata["fallback_reason"] = reason
	finalize(res)
	return res
}

// safeExtract converts extractor panics into errors. Parsers of untrusted
// binary formats are the most likely place for one.
func safeExtract(ctx context.Context, e Extractor, buf []byte, opts Options) (res *Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			res, err = nil, fmt.Errorf("extractor panic: %v", p)
		}
	}()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.Extract(ctx, buf, opts)
}

func finalize(res *Result) {
	if res.Metadata == nil {
		res.Metadata = map[string]string{}
	}
	res.CharacterCount = len([]rune(res.Text))
	res.WordCount = len(strings.Fields(res.Text))
}
