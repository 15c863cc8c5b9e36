package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"code.sajari.com/docconv"
)

// DOCX walks word/document.xml in reading order to recover headings, list
// items and tables. docconv supplies document properties and a secondary
// text rendering for bodies the walk cannot see (text boxes, fields).
type DOCX struct{}

// docxBlock is one body-level element in reading order.
type docxBlock struct {
	kind  string // heading, list, paragraph, table
	text  string
	level int
	table *Table
}

// Extract implements Extractor.
func (d *DOCX) Extract(ctx context.Context, buf []byte, opts Options) (*Result, error) {
	zr, err := zip.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return nil, fmt.Errorf("open docx: %w", err)
	}
	var docFile *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return nil, ErrNotWordDocument
	}

	rc, err := docFile.Open()
	if err != nil {
		return nil, fmt.Errorf("open document.xml: %w", err)
	}
	defer rc.Close()

	blocks, err := walkDocumentXML(rc)
	if err != nil {
		return nil, fmt.Errorf("parse document.xml: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	meta := map[string]string{}
	convText, convMeta, convErr := docconv.ConvertDocx(bytes.NewReader(buf))
	if convErr == nil {
		for k, v := range convMeta {
			meta[k] = v
		}
	}

	res := assembleDOCX(blocks)
	if strings.TrimSpace(res.Text) == "" && convErr == nil {
		pages := splitPages(normalize(convText))
		res.Text = joinPages(pages)
		res.Structure = Structure{Paragraphs: blocksFromPages(pages)}
		meta["structure"] = "converted"
	}
	if strings.TrimSpace(res.Text) == "" {
		return nil, ErrEmptyText
	}
	res.Metadata = meta
	return res, nil
}

// assembleDOCX renders blocks as text and builds the structure.
func assembleDOCX(blocks []docxBlock) *Result {
	var (
		parts     []string
		structure Structure
		sections  []Section
		cur       *Section
		curBody   []string
		list      []string
		headings  []string
	)
	flushList := func() {
		if len(list) > 0 {
			structure.Lists = append(structure.Lists, list)
			list = nil
		}
	}
	flushSection := func() {
		if cur != nil {
			cur.Content = strings.TrimSpace(strings.Join(curBody, "\n\n"))
			if cur.Heading != "" || cur.Content != "" {
				sections = append(sections, *cur)
			}
		}
		curBody = nil
	}

	for _, b := range blocks {
		if b.kind != "list" {
			flushList()
		}
		switch b.kind {
		case "heading":
			flushSection()
			if b.level <= len(headings) {
				headings = headings[:b.level-1]
			}
			headings = append(headings, b.text)
			cur = &Section{Heading: b.text, Path: strings.Join(headings, " > "), Level: b.level}
			parts = append(parts, b.text)
			structure.Paragraphs = append(structure.Paragraphs, Block{Text: b.text, Style: "heading"})
			continue
		case "list":
			list = append(list, b.text)
			b.text = "- " + b.text
		case "table":
			structure.Tables = append(structure.Tables, *b.table)
			b.text = renderTable(*b.table)
		}
		if cur == nil {
			cur = &Section{}
		}
		curBody = append(curBody, b.text)
		parts = append(parts, b.text)
		structure.Paragraphs = append(structure.Paragraphs, Block{Text: b.text, Style: b.kind})
	}
	flushList()
	flushSection()

	if len(headings) > 0 || hasHeading(sections) {
		structure.Sections = sections
	}
	return &Result{Text: strings.Join(parts, "\n\n"), Structure: structure}
}

func hasHeading(sections []Section) bool {
	for _, s := range sections {
		if s.Heading != "" {
			return true
		}
	}
	return false
}

func renderTable(t Table) string {
	var lines []string
	if len(t.Header) > 0 {
		lines = append(lines, strings.Join(t.Header, " | "))
	}
	for _, row := range t.Rows {
		lines = append(lines, strings.Join(row, " | "))
	}
	return strings.Join(lines, "\n")
}

// walkDocumentXML streams the WordprocessingML body. Nested tables are
// flattened into the enclosing cell.
func walkDocumentXML(r io.Reader) ([]docxBlock, error) {
	dec := xml.NewDecoder(r)

	var (
		blocks     []docxBlock
		para       strings.Builder
		inPara     bool
		inText     bool
		style      string
		isList     bool
		tableDepth int
		table      *Table
		row        []string
		cell       strings.Builder
	)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "tbl":
				tableDepth++
				if tableDepth == 1 {
					table = &Table{}
				}
			case "tr":
				if tableDepth == 1 {
					row = nil
				}
			case "tc":
				if tableDepth == 1 {
					cell.Reset()
				}
			case "p":
				inPara = true
				para.Reset()
				style, isList = "", false
			case "pStyle":
				style = attr(el, "val")
			case "numPr":
				isList = true
			case "t":
				inText = true
			case "tab":
				if inPara {
					para.WriteByte('\t')
				}
			case "br", "cr":
				if inPara {
					para.WriteByte('\n')
				}
			}

		case xml.CharData:
			if inText && inPara {
				para.Write(el)
			}

		case xml.EndElement:
			switch el.Name.Local {
			case "t":
				inText = false
			case "p":
				inPara = false
				txt := strings.TrimSpace(para.String())
				if txt == "" {
					continue
				}
				if tableDepth > 0 {
					if cell.Len() > 0 {
						cell.WriteByte(' ')
					}
					cell.WriteString(txt)
					continue
				}
				blocks = append(blocks, classifyParagraph(txt, style, isList))
			case "tc":
				if tableDepth == 1 {
					row = append(row, strings.TrimSpace(cell.String()))
				}
			case "tr":
				if tableDepth == 1 && table != nil && len(row) > 0 {
					if table.Header == nil {
						table.Header = row
					} else {
						table.Rows = append(table.Rows, row)
					}
				}
			case "tbl":
				tableDepth--
				if tableDepth == 0 && table != nil {
					if len(table.Header) > 0 {
						blocks = append(blocks, docxBlock{kind: "table", table: table})
					}
					table = nil
				}
			}
		}
	}
	return blocks, nil
}

func classifyParagraph(txt, style string, isList bool) docxBlock {
	lower := strings.ToLower(style)
	switch {
	case lower == "title":
		return docxBlock{kind: "heading", text: txt, level: 1}
	case strings.HasPrefix(lower, "heading"):
		level, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(lower, "heading")))
		if err != nil || level < 1 {
			level = 1
		}
		return docxBlock{kind: "heading", text: txt, level: level}
	case isList || strings.HasPrefix(lower, "list"):
		return docxBlock{kind: "list", text: txt}
	default:
		return docxBlock{kind: "paragraph", text: txt}
	}
}

func attr(el xml.StartElement, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}
