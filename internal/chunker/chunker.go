// Package chunker splits extracted documents into fragments sized for
// embedding. Splitting follows the document's structure first and falls back
// to sentences and raw character windows, then a post-validation pass keeps
// every fragment under a hard token ceiling.
package chunker

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/Kanishk2004/plug-rag/internal/extract"
	"github.com/Kanishk2004/plug-rag/internal/tokenizer"
)

// Defaults used when Options leaves a budget at zero.
const (
	DefaultMaxChunkSize        = 1000
	DefaultOverlapSize         = 200
	DefaultMaxHardTokenCeiling = 6000
)

// maxWindowOverlap caps the overlap between forced character windows.
const maxWindowOverlap = 50

// Type names the seam a fragment was cut along.
type Type string

const (
	TypeParagraph    Type = "paragraph-boundary"
	TypeSentence     Type = "sentence-boundary"
	TypeSection      Type = "structured-section"
	TypeCategory     Type = "category-group"
	TypeRowBatch     Type = "row-batch"
	TypeWindow       Type = "character-window"
	TypeTableSummary Type = "table-summary"
)

// Source identifies the document a fragment came from.
type Source struct {
	DocumentID string
	TenantID   string
	BotID      string
	FileName   string
}

// Fragment is one retrieval unit.
type Fragment struct {
	Source

	Content string
	// Tokens is the estimated token count of Content.
	Tokens int
	Type   Type
	// Ordinal orders fragments within a document. Pieces of a fragment that
	// was re-split for the ceiling get parent + sub/100.
	Ordinal float64
	// Index is the sequential position after all splitting.
	Index      int
	HasOverlap bool
	// OverlapChars is the length in runes of the stitched prefix, including
	// its separator.
	OverlapChars int
	Heading      string
	PageNumber   int
}

// Body returns Content without the stitched overlap prefix.
func (f Fragment) Body() string {
	if f.OverlapChars == 0 {
		return f.Content
	}
	r := []rune(f.Content)
	if f.OverlapChars >= len(r) {
		return ""
	}
	return string(r[f.OverlapChars:])
}

// Options holds the splitting budgets. MaxChunkSize and OverlapSize are
// measured in characters; MaxHardTokenCeiling in estimated tokens.
type Options struct {
	MaxChunkSize        int
	OverlapSize         int
	MaxHardTokenCeiling int
	// Source is copied onto every fragment.
	Source Source
}

func (o Options) withDefaults() Options {
	if o.MaxChunkSize <= 0 {
		o.MaxChunkSize = DefaultMaxChunkSize
	}
	if o.OverlapSize < 0 {
		o.OverlapSize = 0
	}
	if o.OverlapSize > o.MaxChunkSize/2 {
		o.OverlapSize = o.MaxChunkSize / 2
	}
	if o.MaxHardTokenCeiling <= 0 {
		o.MaxHardTokenCeiling = DefaultMaxHardTokenCeiling
	}
	return o
}

// Chunker splits documents with fixed options.
type Chunker struct {
	opts   Options
	logger *slog.Logger
}

// New returns a Chunker. A nil logger uses slog.Default().
func New(opts Options, logger *slog.Logger) *Chunker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chunker{opts: opts.withDefaults(), logger: logger.With("component", "chunker")}
}

// Chunk splits text with opts and the default logger.
func Chunk(text string, structure extract.Structure, opts Options) []Fragment {
	return New(opts, nil).Chunk(text, structure)
}

// WithSource returns a copy of the chunker stamping src onto fragments.
func (c *Chunker) WithSource(src Source) *Chunker {
	cp := *c
	cp.opts.Source = src
	return &cp
}

// Chunk splits text along structure. It is deterministic and does no I/O.
func (c *Chunker) Chunk(text string, structure extract.Structure) []Fragment {
	var frags []Fragment
	switch {
	case structure.Tabular != nil:
		frags = c.tabular(structure.Tabular)
	case len(structure.Sections) > 0:
		frags = c.pack(sectionUnits(structure.Sections), "\n\n")
	case len(structure.Paragraphs) > 0:
		frags = c.pack(blockUnits(structure.Paragraphs), "\n\n")
	default:
		frags = c.pack(rawUnits(text), "\n\n")
	}
	if len(frags) == 0 && strings.TrimSpace(text) != "" {
		// Structure can be present but empty of text; the raw text still counts.
		frags = c.pack(rawUnits(text), "\n\n")
	}

	for i := range frags {
		frags[i].Ordinal = float64(i)
	}
	frags = c.enforceCeiling(frags)
	c.stitchOverlap(frags)

	for i := range frags {
		frags[i].Index = i
		frags[i].Source = c.opts.Source
		frags[i].Tokens = tokenizer.Estimate(frags[i].Content)
		if frags[i].Tokens > c.opts.MaxHardTokenCeiling {
			// Unreachable with positive budgets; emit rather than lose content.
			c.logger.Error("Fragment exceeds token ceiling after splitting",
				"index", i, "tokens", frags[i].Tokens, "ceiling", c.opts.MaxHardTokenCeiling)
		}
	}
	return frags
}

// unit is one structural piece fed to the packer. Units sharing a group are
// packed together; a group change forces a cut. prefix opens every fragment
// of the group.
type unit struct {
	text    string
	typ     Type
	heading string
	page    int
	group   string
	prefix  string
}

func sectionUnits(sections []extract.Section) []unit {
	units := make([]unit, 0, len(sections))
	for _, s := range sections {
		text := strings.TrimSpace(s.Content)
		label := s.Path
		if label == "" {
			label = s.Heading
		}
		if label != "" {
			text = strings.TrimSpace(label + "\n\n" + text)
		}
		if text == "" {
			continue
		}
		units = append(units, unit{text: text, typ: TypeSection, heading: s.Heading, page: s.Page})
	}
	return units
}

func blockUnits(blocks []extract.Block) []unit {
	units := make([]unit, 0, len(blocks))
	for _, b := range blocks {
		if text := strings.TrimSpace(b.Text); text != "" {
			u := unit{text: text, typ: TypeParagraph, page: b.Page}
			if b.Style == "heading" {
				u.heading = text
			}
			units = append(units, u)
		}
	}
	return units
}

func rawUnits(text string) []unit {
	var units []unit
	for _, p := range strings.Split(strings.ReplaceAll(text, "\f", "\n\n"), "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			units = append(units, unit{text: p, typ: TypeParagraph})
		}
	}
	return units
}

// tabular emits the table summary followed by category groups, or row
// batches when no category column was found.
func (c *Chunker) tabular(tab *extract.Tabular) []Fragment {
	frags := []Fragment{{Content: tableSummary(tab), Type: TypeTableSummary}}

	var units []unit
	if len(tab.Categories) > 0 {
		for _, cat := range tab.Categories {
			prefix := c.capPrefix(fmt.Sprintf("%s: %s", tab.CategoryColumn, cat.Name))
			for _, ri := range cat.Rows {
				units = append(units, unit{
					text:    extract.FormatRow(tab.Columns, tab.Rows[ri]),
					typ:     TypeCategory,
					heading: cat.Name,
					group:   cat.Name,
					prefix:  prefix,
				})
			}
		}
	} else {
		prefix := c.capPrefix("Columns: " + strings.Join(tab.Columns, ", "))
		for _, row := range tab.Rows {
			units = append(units, unit{text: extract.FormatRow(tab.Columns, row), typ: TypeRowBatch, prefix: prefix})
		}
	}
	return append(frags, c.pack(units, "\n")...)
}

// capPrefix truncates a repeated fragment prefix to a quarter of
// MaxChunkSize, cutting at a word boundary when there is one.
func (c *Chunker) capPrefix(prefix string) string {
	limit := max(c.opts.MaxChunkSize/4, 1)
	r := []rune(prefix)
	if len(r) <= limit {
		return prefix
	}
	cut := string(r[:max(limit-3, 1)])
	if i := strings.LastIndexAny(cut, " ,"); i > 0 {
		cut = strings.TrimRight(cut[:i], " ,")
	}
	return cut + "..."
}

// maxSummaryCategories bounds the category list in a table summary.
const maxSummaryCategories = 50

func tableSummary(tab *extract.Tabular) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Table with %d rows and %d columns.\n", tab.TotalRows, len(tab.Columns))
	b.WriteString("Columns: " + strings.Join(tab.Columns, ", "))
	if len(tab.Categories) > 0 {
		var names []string
		for i, cat := range tab.Categories {
			if i == maxSummaryCategories {
				names = append(names, fmt.Sprintf("and %d more", len(tab.Categories)-i))
				break
			}
			names = append(names, fmt.Sprintf("%s (%d rows)", cat.Name, len(cat.Rows)))
		}
		fmt.Fprintf(&b, "\nCategories by %s: %s", tab.CategoryColumn, strings.Join(names, ", "))
	}
	return b.String()
}

// pack accumulates units until adding the next would exceed MaxChunkSize.
// A fragment of exactly MaxChunkSize characters is kept whole.
func (c *Chunker) pack(units []unit, sep string) []Fragment {
	var (
		frags []Fragment
		cur   []string
		size  int
		head  unit
	)
	sepLen := utf8.RuneCountInString(sep)

	flush := func() {
		if len(cur) == 0 {
			return
		}
		content := strings.Join(cur, sep)
		if head.prefix != "" {
			content = head.prefix + "\n" + content
		}
		frags = append(frags, Fragment{Content: content, Type: head.typ, Heading: head.heading, PageNumber: head.page})
		cur, size = nil, 0
	}

	for _, u := range units {
		if len(cur) > 0 && u.group != head.group {
			flush()
		}
		budget := c.opts.MaxChunkSize
		if u.prefix != "" {
			budget -= utf8.RuneCountInString(u.prefix) + 1
		}
		// Prefixes are capped at a quarter of the size, so rows keep at
		// least half of it.
		budget = max(budget, c.opts.MaxChunkSize/2, 1)

		n := utf8.RuneCountInString(u.text)
		if n > budget {
			flush()
			for _, piece := range splitOversized(u.text, budget) {
				content := piece.text
				if u.prefix != "" {
					content = u.prefix + "\n" + content
				}
				frags = append(frags, Fragment{Content: content, Type: piece.typ, Heading: u.heading, PageNumber: u.page})
			}
			continue
		}

		if len(cur) > 0 && size+sepLen+n > budget {
			flush()
		}
		if len(cur) == 0 {
			head = u
			size = n
		} else {
			size += sepLen + n
		}
		cur = append(cur, u.text)
	}
	flush()
	return frags
}

type piece struct {
	text string
	typ  Type
}

// splitOversized descends to sentences and then to character windows so that
// every piece is at most limit characters.
func splitOversized(text string, limit int) []piece {
	var (
		pieces []piece
		cur    []string
		size   int
	)
	flush := func() {
		if len(cur) > 0 {
			pieces = append(pieces, piece{text: strings.Join(cur, " "), typ: TypeSentence})
			cur, size = nil, 0
		}
	}
	for _, s := range Sentences(text) {
		n := utf8.RuneCountInString(s)
		if n > limit {
			flush()
			for _, w := range Windows(s, limit) {
				pieces = append(pieces, piece{text: w, typ: TypeWindow})
			}
			continue
		}
		if len(cur) > 0 && size+1+n > limit {
			flush()
		}
		if len(cur) > 0 {
			size++
		}
		size += n
		cur = append(cur, s)
	}
	flush()
	return pieces
}

// Sentences splits text after terminal punctuation followed by whitespace
// and at line breaks.
func Sentences(text string) []string {
	var (
		out   []string
		start int
	)
	emit := func(end int) {
		if s := strings.TrimSpace(text[start:end]); s != "" {
			out = append(out, s)
		}
		start = end
	}
	for i, r := range text {
		switch r {
		case '\n':
			emit(i + 1)
		case '.', '!', '?':
			next := i + 1
			if next >= len(text) || text[next] == ' ' || text[next] == '\n' || text[next] == '\t' {
				emit(next)
			}
		}
	}
	emit(len(text))
	return out
}

// Windows cuts text into windows of at most size runes. Consecutive windows
// share a small fixed overlap.
func Windows(text string, size int) []string {
	r := []rune(text)
	if size <= 0 || len(r) <= size {
		return []string{text}
	}
	overlap := min(maxWindowOverlap, size/4)
	step := size - overlap

	var out []string
	for start := 0; ; start += step {
		end := min(start+size, len(r))
		out = append(out, string(r[start:end]))
		if end == len(r) {
			break
		}
	}
	return out
}

// enforceCeiling re-splits fragments whose estimate exceeds the hard ceiling.
// Pieces keep the parent's ordinal plus sub/100.
func (c *Chunker) enforceCeiling(frags []Fragment) []Fragment {
	limit := c.opts.MaxHardTokenCeiling * 4
	out := make([]Fragment, 0, len(frags))
	for _, f := range frags {
		if tokenizer.Estimate(f.Content) <= c.opts.MaxHardTokenCeiling {
			out = append(out, f)
			continue
		}
		pieces := splitOversized(f.Content, limit)
		c.logger.Debug("Re-split fragment over token ceiling",
			"ordinal", f.Ordinal, "tokens", tokenizer.Estimate(f.Content), "pieces", len(pieces))

		step := subStep(len(pieces))
		for i, p := range pieces {
			sub := f
			sub.Content = p.text
			if f.Type == TypeTableSummary {
				sub.Type = TypeTableSummary
			} else {
				sub.Type = p.typ
			}
			sub.Ordinal = f.Ordinal + float64(i)*step
			out = append(out, sub)
		}
	}
	return out
}

// subStep is 1/100, shrunk by powers of ten when a parent splits into more
// than 100 pieces so ordinals stay below the next parent.
func subStep(n int) float64 {
	step := 0.01
	for float64(n)*step >= 1 {
		step /= 10
	}
	return step
}

// stitchOverlap prefixes each fragment with the trailing words of the one
// before it. Table summaries neither give nor take overlap, a category group
// never opens with rows of the previous group, and stitching is skipped when
// it would break the ceiling.
func (c *Chunker) stitchOverlap(frags []Fragment) {
	if c.opts.OverlapSize == 0 {
		return
	}
	bodies := make([]string, len(frags))
	for i := range frags {
		bodies[i] = frags[i].Content
	}
	for i := 1; i < len(frags); i++ {
		if frags[i].Type == TypeTableSummary || frags[i-1].Type == TypeTableSummary {
			continue
		}
		if frags[i].Type == TypeCategory && frags[i].Heading != frags[i-1].Heading {
			continue
		}
		tail := trailingWords(bodies[i-1], c.opts.OverlapSize)
		if tail == "" {
			continue
		}
		content := tail + "\n" + frags[i].Content
		if tokenizer.Estimate(content) > c.opts.MaxHardTokenCeiling {
			continue
		}
		frags[i].Content = content
		frags[i].HasOverlap = true
		frags[i].OverlapChars = utf8.RuneCountInString(tail) + 1
	}
}

// trailingWords returns the longest run of whole trailing words of s that
// fits in limit characters.
func trailingWords(s string, limit int) string {
	words := strings.Fields(s)
	size, start := 0, len(words)
	for i := len(words) - 1; i >= 0; i-- {
		n := utf8.RuneCountInString(words[i])
		if start < len(words) {
			n++
		}
		if size+n > limit {
			break
		}
		size += n
		start = i
	}
	return strings.Join(words[start:], " ")
}
