package rag

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Kanishk2004/plug-rag/internal/generation"
	"github.com/Kanishk2004/plug-rag/internal/knowledge"
)

const systemPrompt = `You are a helpful assistant that answers questions using only the provided context.
If the context does not contain the answer, say that you do not have that information.
Answer concisely and do not mention the context, sources or document numbers.`

var (
	bracketCitation = regexp.MustCompile(`\s*\[(?:(?:Source|Sources|Doc|Document|Context)\s*)?\d{1,2}(?:\s*[,-]\s*\d{1,2})*\]`)
	parenCitation   = regexp.MustCompile(`(?i)\s*\((?:source|document)s?:\s*[^)]*\)`)
	cjkCitation     = regexp.MustCompile(`【[^】]*】`)
	doubleSpaces    = regexp.MustCompile(`[ \t]{2,}`)
	spaceBeforeDot  = regexp.MustCompile(`\s+([.,;:!?])`)
)

// TrimHistory returns the last n messages that precede the current
// question. A trailing user message equal to the question is dropped first,
// since callers often pass history that already contains it.
func TrimHistory(history []generation.Message, question string, n int) []generation.Message {
	if n <= 0 || len(history) == 0 {
		return nil
	}
	end := len(history)
	last := history[end-1]
	if last.Role == generation.RoleUser && strings.TrimSpace(last.Content) == strings.TrimSpace(question) {
		end--
	}
	start := max(end-n, 0)
	out := make([]generation.Message, 0, end-start)
	for _, m := range history[start:end] {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, m)
	}
	return out
}

// FormatContext renders hits as numbered context blocks within maxChars.
// The first block is always included, truncated if it alone is too long.
func FormatContext(hits []knowledge.SearchHit, maxChars int) string {
	var b strings.Builder
	for i, h := range hits {
		header := fmt.Sprintf("[%d] %s", i+1, h.FileName)
		if h.Page > 0 {
			header += fmt.Sprintf(", page %d", h.Page)
		}
		if h.Heading != "" {
			header += " - " + h.Heading
		}
		block := header + "\n" + strings.TrimSpace(h.Content) + "\n\n"

		remaining := maxChars - len([]rune(b.String()))
		if maxChars > 0 && len([]rune(block)) > remaining {
			if i == 0 {
				b.WriteString(string([]rune(block)[:max(remaining, 0)]))
			}
			break
		}
		b.WriteString(block)
	}
	return strings.TrimSpace(b.String())
}

// BuildPrompt assembles the user prompt from context and question.
func BuildPrompt(contextText, question string) string {
	return "Context:\n" + contextText + "\n\nQuestion: " + strings.TrimSpace(question)
}

// StripCitations removes inline source markers the model adds despite
// instructions.
func StripCitations(s string) string {
	s = cjkCitation.ReplaceAllString(s, "")
	s = bracketCitation.ReplaceAllString(s, "")
	s = parenCitation.ReplaceAllString(s, "")
	s = doubleSpaces.ReplaceAllString(s, " ")
	s = spaceBeforeDot.ReplaceAllString(s, "$1")
	return strings.TrimSpace(s)
}

// attribute turns hits into deduplicated sources, one per file and page,
// keeping the best score and the order of first appearance.
func attribute(hits []knowledge.SearchHit) []Source {
	type key struct {
		file string
		page int
	}
	seen := make(map[key]int)
	var out []Source
	for _, h := range hits {
		k := key{h.FileName, h.Page}
		if i, ok := seen[k]; ok {
			if out[i].Score != nil && h.Score > *out[i].Score {
				score := h.Score
				out[i].Score = &score
			}
			continue
		}
		src := Source{FileName: h.FileName}
		if h.Page > 0 {
			page := h.Page
			src.PageNumber = &page
		}
		index, score := h.Index, h.Score
		src.ChunkIndex = &index
		src.Score = &score
		seen[k] = len(out)
		out = append(out, src)
	}
	return out
}
