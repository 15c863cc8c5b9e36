package extract

import (
	"context"
	"encoding/csv"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// maxCategories bounds the distinct values a category column may hold.
const maxCategories = 20

var categoryNames = regexp.MustCompile(`(?i)^(category|categories|type|group|department|dept|class|segment|region|status|kind|section|topic)$`)

// CSV parses delimited data into columns, rows and category groups.
type CSV struct{}

// Extract implements Extractor.
func (c *CSV) Extract(ctx context.Context, buf []byte, opts Options) (*Result, error) {
	if !utf8.Valid(buf) {
		return nil, ErrInvalidEncoding
	}
	src := normalize(string(buf))
	if strings.TrimSpace(src) == "" {
		return nil, ErrEmptyText
	}

	delim := detectDelimiter(src)
	r := csv.NewReader(strings.NewReader(src))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}

	var kept [][]string
	for _, rec := range records {
		if !blankRecord(rec) {
			kept = append(kept, trimAll(rec))
		}
	}
	if len(kept) == 0 {
		return nil, ErrEmptyText
	}

	columns := headerColumns(kept[0])
	rows := kept[1:]
	total := len(rows)
	if opts.MaxCSVRows > 0 && len(rows) > opts.MaxCSVRows {
		rows = rows[:opts.MaxCSVRows]
	}

	tab := &Tabular{
		Delimiter: delim,
		Columns:   columns,
		Rows:      rows,
		TotalRows: total,
	}
	if col := categoryColumn(columns, rows); col >= 0 {
		tab.CategoryColumn = columns[col]
		tab.Categories = groupRows(rows, col)
	}

	var lines []string
	for _, row := range rows {
		lines = append(lines, FormatRow(columns, row))
	}
	text := strings.Join(columns, ", ")
	if len(lines) > 0 {
		text += "\n" + strings.Join(lines, "\n")
	}

	meta := map[string]string{
		"columns":   strconv.Itoa(len(columns)),
		"rows":      strconv.Itoa(total),
		"delimiter": string(delim),
	}
	if tab.CategoryColumn != "" {
		meta["category_column"] = tab.CategoryColumn
	}

	return &Result{
		Text:      text,
		Structure: Structure{Tabular: tab},
		Metadata:  meta,
	}, nil
}

// FormatRow renders a row as "Column: value" pairs, skipping empty cells.
func FormatRow(columns, row []string) string {
	var parts []string
	for i, v := range row {
		if v == "" {
			continue
		}
		name := fmt.Sprintf("column_%d", i+1)
		if i < len(columns) {
			name = columns[i]
		}
		parts = append(parts, name+": "+v)
	}
	return strings.Join(parts, " | ")
}

// detectDelimiter picks the candidate with the most consistent non-zero
// count over the first lines.
func detectDelimiter(src string) rune {
	lines := nonBlankLines(src, 10)
	best, bestScore := ',', -1
	for _, d := range []rune{',', ';', '\t', '|'} {
		counts := make(map[int]int)
		for _, line := range lines {
			if n := strings.Count(line, string(d)); n > 0 {
				counts[n]++
			}
		}
		score := 0
		for n, freq := range counts {
			if s := freq*100 + n; s > score {
				score = s
			}
		}
		if score > bestScore {
			best, bestScore = d, score
		}
	}
	return best
}

func nonBlankLines(s string, limit int) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
			if len(out) == limit {
				break
			}
		}
	}
	return out
}

func headerColumns(rec []string) []string {
	cols := make([]string, len(rec))
	for i, name := range rec {
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		cols[i] = name
	}
	return cols
}

// categoryColumn returns the index of a low-cardinality text column, or -1.
// Columns with a conventional name win over the lowest cardinality.
func categoryColumn(columns []string, rows [][]string) int {
	if len(rows) < 2 {
		return -1
	}
	limit := min(maxCategories, max(2, len(rows)/2))

	best, bestDistinct := -1, 0
	for col, name := range columns {
		distinct := map[string]struct{}{}
		numeric, filled := 0, 0
		for _, row := range rows {
			if col >= len(row) || row[col] == "" {
				continue
			}
			filled++
			if _, err := strconv.ParseFloat(row[col], 64); err == nil {
				numeric++
			}
			distinct[row[col]] = struct{}{}
		}
		if filled == 0 || numeric*2 > filled {
			continue
		}
		n := len(distinct)
		if n < 2 || n > limit {
			continue
		}
		if categoryNames.MatchString(strings.TrimSpace(name)) {
			return col
		}
		if best < 0 || n < bestDistinct {
			best, bestDistinct = col, n
		}
	}
	return best
}

// groupRows groups row indexes by category value in order of first
// appearance. Rows without a value land in "Uncategorized".
func groupRows(rows [][]string, col int) []Category {
	index := map[string]int{}
	var cats []Category
	for i, row := range rows {
		name := "Uncategorized"
		if col < len(row) && row[col] != "" {
			name = row[col]
		}
		pos, ok := index[name]
		if !ok {
			pos = len(cats)
			index[name] = pos
			cats = append(cats, Category{Name: name})
		}
		cats[pos].Rows = append(cats[pos].Rows, i)
	}
	return cats
}

func blankRecord(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func trimAll(rec []string) []string {
	out := make([]string, len(rec))
	for i, v := range rec {
		out[i] = strings.TrimSpace(v)
	}
	return out
}
