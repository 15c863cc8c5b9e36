// Package format classifies uploaded files into document kinds.
package format

import (
	"bytes"
	"mime"
	"path/filepath"
	"strings"
)

// Kind is the closed set of document kinds the extractors understand.
type Kind string

const (
	PDF     Kind = "pdf"
	DOCX    Kind = "docx"
	Text    Kind = "txt"
	CSV     Kind = "csv"
	HTML    Kind = "html"
	Unknown Kind = "unknown"
)

// Kinds lists every dispatchable kind, Unknown included.
var Kinds = []Kind{PDF, DOCX, Text, CSV, HTML, Unknown}

// sniffWindow is how much of the buffer content sniffing looks at.
const sniffWindow = 1024

var extensions = map[string]Kind{
	".pdf":      PDF,
	".docx":     DOCX,
	".txt":      Text,
	".text":     Text,
	".md":       Text,
	".markdown": Text,
	".log":      Text,
	".csv":      CSV,
	".tsv":      CSV,
	".html":     HTML,
	".htm":      HTML,
	".xhtml":    HTML,
}

var mimeTypes = map[string]Kind{
	"application/pdf": PDF,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": DOCX,

	"text/plain":                Text,
	"text/markdown":             Text,
	"text/csv":                  CSV,
	"text/tab-separated-values": CSV,
	"application/csv":           CSV,
	"text/html":                 HTML,
	"application/xhtml+xml":     HTML,
}

// Detect classifies buf using the filename extension first and content
// sniffing second. It never fails: anything unrecognised is plain text.
func Detect(filename string, buf []byte) Kind {
	if k, ok := extensions[strings.ToLower(filepath.Ext(filename))]; ok {
		return k
	}
	return Sniff(buf)
}

// DetectWithMIME behaves like Detect but consults a declared MIME type
// before sniffing when the filename carries no known extension.
func DetectWithMIME(filename, mimeType string, buf []byte) Kind {
	if k, ok := extensions[strings.ToLower(filepath.Ext(filename))]; ok {
		return k
	}
	if k := KindFromMIME(mimeType); k != Unknown {
		return k
	}
	return Sniff(buf)
}

// KindFromMIME maps a MIME type (parameters ignored) to a Kind.
func KindFromMIME(mimeType string) Kind {
	if mimeType == "" {
		return Unknown
	}
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(mimeType))
	}
	if k, ok := mimeTypes[mt]; ok {
		return k
	}
	return Unknown
}

// Sniff classifies buf by content alone.
func Sniff(buf []byte) Kind {
	switch {
	case bytes.HasPrefix(buf, []byte("%PDF")):
		return PDF
	case isZip(buf):
		if isWordPackage(buf) {
			return DOCX
		}
		return Text
	case looksLikeHTML(buf):
		return HTML
	case looksDelimited(buf):
		return CSV
	default:
		return Text
	}
}

func isZip(buf []byte) bool {
	return bytes.HasPrefix(buf, []byte("PK\x03\x04"))
}

// isWordPackage looks for a word/ entry name. Entry names are stored
// uncompressed in local headers, so a plain byte search is enough.
func isWordPackage(buf []byte) bool {
	return bytes.Contains(buf, []byte("word/"))
}

func looksLikeHTML(buf []byte) bool {
	head := bytes.ToLower(window(buf))
	head = bytes.TrimLeft(head, " \t\r\n\ufeff")
	for _, marker := range [][]byte{
		[]byte("<!doctype html"),
		[]byte("<html"),
		[]byte("<head"),
		[]byte("<body"),
	} {
		if bytes.Contains(head, marker) {
			return true
		}
	}
	return false
}

// looksDelimited reports whether the first lines share a consistent,
// non-zero count of one delimiter.
func looksDelimited(buf []byte) bool {
	lines := nonEmptyLines(string(window(buf)), 10)
	// The last line of the window may be truncated.
	if len(buf) > sniffWindow && len(lines) > 2 {
		lines = lines[:len(lines)-1]
	}
	if len(lines) < 2 {
		return false
	}
	for _, delim := range []string{",", ";", "\t"} {
		want := strings.Count(lines[0], delim)
		if want == 0 {
			continue
		}
		consistent := true
		for _, line := range lines[1:] {
			if strings.Count(line, delim) != want {
				consistent = false
				break
			}
		}
		if consistent {
			return true
		}
	}
	return false
}

func window(buf []byte) []byte {
	if len(buf) > sniffWindow {
		return buf[:sniffWindow]
	}
	return buf
}

func nonEmptyLines(s string, limit int) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
		if len(out) == limit {
			break
		}
	}
	return out
}
