package extract

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// PlaceholderText is returned when no readable text survives any decoding
// attempt.
const PlaceholderText = "Readable text could not be recovered from this document."

const (
	// minReadableRatio is the share of runes that must look like prose.
	minReadableRatio = 0.85
	// minASCIIRun is the shortest printable run kept by ASCII recovery.
	minASCIIRun = 4
)

// Fallback degrades through UTF-8, Windows-1252 and printable-ASCII
// recovery. It always returns a non-empty result and a nil error.
type Fallback struct{}

// Extract implements Extractor.
func (f *Fallback) Extract(ctx context.Context, buf []byte, opts Options) (*Result, error) {
	text, encoding := recoverText(buf)
	pages := splitPages(text)
	structure := Structure{Paragraphs: blocksFromPages(pages)}
	if len(pages) > 1 {
		structure.Pages = len(pages)
	}
	return &Result{
		Text:         joinPages(pages),
		Structure:    structure,
		Metadata:     map[string]string{"encoding": encoding},
		UsedFallback: true,
	}, nil
}

func recoverText(buf []byte) (string, string) {
	if utf8.Valid(buf) {
		if s := normalize(string(buf)); readable(s) {
			return s, "utf-8"
		}
	}
	if decoded, err := charmap.Windows1252.NewDecoder().Bytes(buf); err == nil {
		if s := normalize(string(decoded)); readable(s) {
			return s, "windows-1252"
		}
	}
	if s := printableRuns(buf); s != "" {
		return s, "ascii"
	}
	return PlaceholderText, "none"
}

// readable reports whether s is mostly letters, digits, whitespace and
// ordinary punctuation.
func readable(s string) bool {
	if strings.TrimSpace(s) == "" {
		return false
	}
	total, good, letters := 0, 0, 0
	for _, r := range s {
		total++
		switch {
		case unicode.IsLetter(r):
			letters++
			good++
		case unicode.IsDigit(r), unicode.IsSpace(r):
			good++
		case strings.ContainsRune(".,;:!?'\"()-[]/%&@#*+=$€£_", r):
			good++
		}
	}
	return letters > 0 && float64(good)/float64(total) >= minReadableRatio
}

// printableRuns keeps runs of printable ASCII at least minASCIIRun long that
// contain a letter, in the manner of strings(1).
func printableRuns(buf []byte) string {
	var (
		runs []string
		cur  []byte
	)
	flush := func() {
		if len(cur) >= minASCIIRun && strings.IndexFunc(string(cur), unicode.IsLetter) >= 0 {
			runs = append(runs, strings.TrimSpace(string(cur)))
		}
		cur = cur[:0]
	}
	for _, b := range buf {
		if (b >= 0x20 && b < 0x7f) || b == '\t' {
			cur = append(cur, b)
			continue
		}
		if b == '\n' && len(cur) > 0 {
			cur = append(cur, ' ')
			continue
		}
		flush()
	}
	flush()
	return strings.TrimSpace(strings.Join(runs, "\n"))
}
