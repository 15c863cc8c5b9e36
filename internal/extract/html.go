package extract

import (
	"bytes"
	"context"
	"html"
	"regexp"
	"strconv"
	"strings"

	"code.sajari.com/docconv"
)

var (
	titleTag     = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	headingTag   = regexp.MustCompile(`(?is)<h([1-6])[^>]*>(.*?)</h[1-6]\s*>`)
	dropBlocks   = regexp.MustCompile(`(?is)<(script|style|noscript|template|head)[^>]*>.*?</(script|style|noscript|template|head)\s*>`)
	htmlComment  = regexp.MustCompile(`(?s)<!--.*?-->`)
	blockTags    = regexp.MustCompile(`(?i)</?(p|div|br|li|ul|ol|tr|table|section|article|header|footer|nav|aside|blockquote|pre|h[1-6]|dd|dt|figcaption)[^>]*>`)
	cellTags     = regexp.MustCompile(`(?i)</?(td|th)[^>]*>`)
	anyTag       = regexp.MustCompile(`(?s)<[^>]+>`)
	inlineSpaces = regexp.MustCompile(`[ \t]+`)
)

// HTML extracts readable text with docconv and recovers sections from the
// h1-h6 headings of the markup.
type HTML struct{}

// Extract implements Extractor.
func (h *HTML) Extract(ctx context.Context, buf []byte, opts Options) (*Result, error) {
	raw := normalize(string(bytes.ToValidUTF8(buf, nil)))
	meta := map[string]string{}

	body := dropBlocks.ReplaceAllString(htmlComment.ReplaceAllString(raw, ""), "")
	text, convMeta, err := docconv.ConvertHTML(strings.NewReader(body), opts.HTMLReadability)
	if err == nil {
		for k, v := range convMeta {
			meta[k] = v
		}
	}
	if m := titleTag.FindStringSubmatch(raw); m != nil {
		if title := cleanInline(m[1]); title != "" {
			meta["title"] = title
		}
	}
	text = collapseBlankLines(text)
	if err != nil || text == "" {
		// docconv can reject malformed markup that a tag stripper still reads.
		text = stripTags(body)
		meta["converter"] = "strip"
	}
	if text == "" {
		return nil, ErrEmptyText
	}

	structure := Structure{Sections: htmlSections(body)}
	for _, p := range paragraphs(text) {
		structure.Paragraphs = append(structure.Paragraphs, Block{Text: p, Style: "paragraph"})
	}

	return &Result{Text: text, Structure: structure, Metadata: meta}, nil
}

// htmlSections splits the markup at heading tags. Text before the first
// heading is kept as an untitled section.
func htmlSections(body string) []Section {
	locs := headingTag.FindAllStringSubmatchIndex(body, -1)
	if len(locs) == 0 {
		return nil
	}

	var sections []Section
	if pre := stripTags(body[:locs[0][0]]); pre != "" {
		sections = append(sections, Section{Content: pre})
	}

	var stack []string
	for i, loc := range locs {
		level, _ := strconv.Atoi(body[loc[2]:loc[3]])
		title := cleanInline(body[loc[4]:loc[5]])
		end := len(body)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		content := stripTags(body[loc[1]:end])
		if title == "" && content == "" {
			continue
		}

		if level <= len(stack) {
			stack = stack[:level-1]
		}
		stack = append(stack, title)
		sections = append(sections, Section{
			Heading: title,
			Path:    strings.Join(stack, " > "),
			Level:   level,
			Content: content,
		})
	}
	return sections
}

// stripTags converts markup to text, keeping block boundaries as newlines.
func stripTags(s string) string {
	s = htmlComment.ReplaceAllString(s, "")
	s = dropBlocks.ReplaceAllString(s, "")
	s = blockTags.ReplaceAllString(s, "\n")
	s = cellTags.ReplaceAllString(s, " ")
	s = anyTag.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = inlineSpaces.ReplaceAllString(s, " ")
	return collapseBlankLines(s)
}

func cleanInline(s string) string {
	s = html.UnescapeString(anyTag.ReplaceAllString(s, ""))
	return strings.Join(strings.Fields(s), " ")
}
