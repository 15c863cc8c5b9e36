package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"code.sajari.com/docconv"
)

// PDF extracts text with docconv, which shells out to poppler's pdftotext.
// Pages are separated by form feeds in the converted text.
type PDF struct{}

// Extract implements Extractor.
func (p *PDF) Extract(ctx context.Context, buf []byte, opts Options) (*Result, error) {
	if !bytes.HasPrefix(buf, []byte("%PDF")) {
		return nil, fmt.Errorf("convert pdf: missing %%PDF header")
	}

	raw, meta, err := docconv.ConvertPDF(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("convert pdf: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pages := splitPages(normalize(raw))
	structure := Structure{
		Paragraphs: blocksFromPages(pages),
		Pages:      len(pages),
	}
	if sections := headingSections(pages); len(sections) > 0 {
		structure.Sections = sections
	}

	if meta == nil {
		meta = map[string]string{}
	}
	meta["pages"] = fmt.Sprint(len(pages))

	text := joinPages(pages)
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	return &Result{Text: text, Structure: structure, Metadata: meta}, nil
}
