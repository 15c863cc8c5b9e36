package extract

import (
	"strings"
	"unicode"
)

// normalize strips a byte order mark, unifies line endings and drops control
// characters other than tab, newline and form feed.
func normalize(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t' || r == '\f':
			return r
		case r == unicode.ReplacementChar:
			return -1
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, s)
}

// splitPages splits on form feeds and drops a trailing empty page, which
// pdftotext emits after the last page.
func splitPages(s string) []string {
	pages := strings.Split(s, "\f")
	for len(pages) > 1 && strings.TrimSpace(pages[len(pages)-1]) == "" {
		pages = pages[:len(pages)-1]
	}
	return pages
}

// joinPages renders pages as text, separating them like paragraphs.
func joinPages(pages []string) string {
	parts := make([]string, 0, len(pages))
	for _, p := range pages {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n\n")
}

// paragraphs splits s on blank lines.
func paragraphs(s string) []string {
	var out []string
	var cur []string
	flush := func() {
		if len(cur) > 0 {
			out = append(out, strings.Join(cur, "\n"))
			cur = cur[:0]
		}
	}
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		cur = append(cur, strings.TrimRight(line, " \t"))
	}
	flush()
	return out
}

// blocksFromPages returns the paragraphs of each page tagged with a 1-based
// page number. Page numbers are only set for multi-page input.
func blocksFromPages(pages []string) []Block {
	var blocks []Block
	for i, p := range pages {
		page := 0
		if len(pages) > 1 {
			page = i + 1
		}
		for _, para := range paragraphs(p) {
			blocks = append(blocks, Block{Text: para, Page: page, Style: "paragraph"})
		}
	}
	return blocks
}

// pageAt returns the 1-based page containing byte offset off of s, or zero
// when s has a single page.
func pageAt(s string, off int, pageCount int) int {
	if pageCount <= 1 {
		return 0
	}
	if off > len(s) {
		off = len(s)
	}
	return strings.Count(s[:off], "\f") + 1
}

// collapseBlankLines squeezes runs of blank lines to one.
func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	blank := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
