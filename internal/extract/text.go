package extract

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"
)

// maxSectionDepth is the deepest heading level that starts a section.
const maxSectionDepth = 3

// Text extracts plain text and markdown. Markdown headings become sections;
// plain text falls back to heading heuristics.
type Text struct {
	md goldmark.Markdown
}

// NewText creates a text extractor with a heading-aware markdown parser.
func NewText() *Text {
	return &Text{
		md: goldmark.New(
			goldmark.WithParserOptions(
				parser.WithAutoHeadingID(),
			),
		),
	}
}

// Extract implements Extractor.
func (t *Text) Extract(ctx context.Context, buf []byte, opts Options) (*Result, error) {
	if !utf8.Valid(buf) {
		return nil, ErrInvalidEncoding
	}
	src := normalize(string(buf))
	if strings.TrimSpace(src) == "" {
		return nil, ErrEmptyText
	}

	pages := splitPages(src)
	structure := Structure{Paragraphs: blocksFromPages(pages)}
	if len(pages) > 1 {
		structure.Pages = len(pages)
	}

	meta := map[string]string{}
	if sections := t.markdownSections(src, len(pages)); len(sections) > 0 {
		structure.Sections = sections
		meta["structure"] = "markdown"
	} else if sections := headingSections(pages); len(sections) > 0 {
		structure.Sections = sections
		meta["structure"] = "headings"
	} else {
		meta["structure"] = "paragraphs"
	}

	return &Result{
		Text:      joinPages(pages),
		Structure: structure,
		Metadata:  meta,
	}, nil
}

// markdownSections splits src at markdown headings up to maxSectionDepth.
// Each section runs until the next heading of any included level.
func (t *Text) markdownSections(src string, pageCount int) []Section {
	source := []byte(src)
	doc := t.md.Parser().Parse(text.NewReader(source))

	tree, err := toc.Inspect(doc, source,
		toc.MinDepth(1),
		toc.MaxDepth(maxSectionDepth),
		toc.Compact(true),
	)
	if err != nil || len(tree.Items) == 0 {
		return nil
	}
	paths := make(map[string]string)
	collectPaths(tree.Items, nil, paths)

	var headings []*ast.Heading
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if h, ok := n.(*ast.Heading); ok && h.Level <= maxSectionDepth && h.Lines().Len() > 0 {
			headings = append(headings, h)
		}
		return ast.WalkContinue, nil
	})
	if len(headings) == 0 {
		return nil
	}

	var sections []Section
	first := lineStart(source, headings[0].Lines().At(0).Start)
	if pre := strings.TrimSpace(src[:first]); pre != "" {
		sections = append(sections, Section{Content: pre, Page: pageAt(src, 0, pageCount)})
	}

	for i, h := range headings {
		seg := h.Lines().At(0)
		title := strings.TrimSpace(string(seg.Value(source)))
		path := title
		if id, ok := h.AttributeString("id"); ok {
			if b, ok := id.([]byte); ok {
				if p, found := paths[string(b)]; found {
					path = p
				}
			}
		}

		bodyStart := bodyAfterHeading(source, seg.Stop)
		bodyEnd := len(source)
		if i+1 < len(headings) {
			bodyEnd = lineStart(source, headings[i+1].Lines().At(0).Start)
		}
		if bodyStart > bodyEnd {
			bodyStart = bodyEnd
		}

		sections = append(sections, Section{
			Heading: title,
			Path:    path,
			Level:   h.Level,
			Content: strings.TrimSpace(strings.ReplaceAll(src[bodyStart:bodyEnd], "\f", "\n\n")),
			Page:    pageAt(src, seg.Start, pageCount),
		})
	}
	return sections
}

// collectPaths maps heading ids to "Parent > Child" paths.
func collectPaths(items toc.Items, ancestors []string, out map[string]string) {
	for _, item := range items {
		current := append(append([]string(nil), ancestors...), string(item.Title))
		if len(item.ID) > 0 {
			out[string(item.ID)] = strings.Join(current, " > ")
		}
		collectPaths(item.Items, current, out)
	}
}

// lineStart returns the offset of the first byte of the line containing pos.
func lineStart(source []byte, pos int) int {
	for pos > 0 && source[pos-1] != '\n' {
		pos--
	}
	return pos
}

// bodyAfterHeading returns the offset just past the heading line, skipping a
// setext underline when present.
func bodyAfterHeading(source []byte, stop int) int {
	next := nextLine(source, stop)
	end := nextLine(source, next)
	if next < len(source) {
		underline := strings.TrimSpace(string(source[next:end]))
		if underline != "" && strings.Trim(underline, "=-") == "" {
			return end
		}
	}
	return next
}

func nextLine(source []byte, pos int) int {
	for pos < len(source) && source[pos] != '\n' {
		pos++
	}
	if pos < len(source) {
		pos++
	}
	return pos
}

var numberedHeading = regexp.MustCompile(`^((\d+\.)*\d+\.?|[IVXLC]+\.|(?i:chapter|section|part|article)\s+[\dIVXLC]+[.:]?)\s+\S`)

// headingSections detects headings in unmarked plain text: numbered
// headings, short ALL CAPS lines and short lines ending in a colon, each
// standing on its own line. Returns nil when no heading is found.
func headingSections(pages []string) []Section {
	var (
		sections []Section
		cur      *Section
		body     []string
		found    bool
	)
	flush := func() {
		if cur == nil {
			return
		}
		cur.Content = strings.TrimSpace(strings.Join(body, "\n"))
		if cur.Heading != "" || cur.Content != "" {
			sections = append(sections, *cur)
		}
		body = body[:0]
	}

	for pi, page := range pages {
		pageNo := 0
		if len(pages) > 1 {
			pageNo = pi + 1
		}
		lines := strings.Split(page, "\n")
		for li, line := range lines {
			trimmed := strings.TrimSpace(line)
			prevBlank := li == 0 || strings.TrimSpace(lines[li-1]) == ""
			if level := headingLevel(trimmed); level > 0 && prevBlank {
				flush()
				found = true
				cur = &Section{Heading: strings.TrimSuffix(trimmed, ":"), Path: strings.TrimSuffix(trimmed, ":"), Level: level, Page: pageNo}
				continue
			}
			if cur == nil {
				cur = &Section{Page: pageNo}
			}
			body = append(body, line)
		}
		body = append(body, "")
	}
	flush()

	if !found {
		return nil
	}
	return sections
}

// headingLevel classifies a single trimmed line, returning 0 for body text.
func headingLevel(line string) int {
	if line == "" || utf8.RuneCountInString(line) > 80 {
		return 0
	}
	if strings.HasSuffix(line, ".") {
		return 0
	}
	if m := numberedHeading.FindStringSubmatch(line); m != nil {
		if m[1] != "" && m[1][0] >= '0' && m[1][0] <= '9' {
			// Plain list items like "3 apples" are not headings.
			if _, err := strconv.Atoi(strings.TrimSuffix(m[1], ".")); err == nil && !strings.HasSuffix(m[1], ".") {
				return 0
			}
			return strings.Count(strings.TrimSuffix(m[1], "."), ".") + 1
		}
		return 1
	}
	if isAllCaps(line) {
		return 1
	}
	if strings.HasSuffix(line, ":") && utf8.RuneCountInString(line) <= 60 && len(strings.Fields(line)) <= 8 {
		return 2
	}
	return 0
}

func isAllCaps(line string) bool {
	letters := 0
	for _, r := range line {
		if unicode.IsLetter(r) {
			if !unicode.IsUpper(r) {
				return false
			}
			letters++
		}
	}
	return letters >= 3
}
