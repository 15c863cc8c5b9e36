package format

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetect_Extension(t *testing.T) {
	tests := []struct {
		filename string
		want     Kind
	}{
		{"report.PDF", PDF},
		{"letter.docx", DOCX},
		{"notes.txt", Text},
		{"README.md", Text},
		{"sales.csv", CSV},
		{"export.tsv", CSV},
		{"index.htm", HTML},
		{"page.html", HTML},
	}
	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			// The extension wins even when the content disagrees.
			assert.Equal(t, tt.want, Detect(tt.filename, []byte("%PDF-1.7")))
		})
	}
}

func TestDetect_Sniffing(t *testing.T) {
	docx := buildZip(t, "word/document.xml", "<w:document/>")
	plainZip := buildZip(t, "data/file.bin", "xx")

	tests := []struct {
		name string
		buf  []byte
		want Kind
	}{
		{"pdf magic", []byte("%PDF-1.4\n%âãÏÓ"), PDF},
		{"word package", docx, DOCX},
		{"zip without word entries", plainZip, Text},
		{"html doctype", []byte("  <!DOCTYPE html><html><body>hi</body></html>"), HTML},
		{"html uppercase tag", []byte("<HTML><BODY>Hello</BODY></HTML>"), HTML},
		{"comma separated", []byte("name,age,city\nann,31,paris\nbob,42,rome\n"), CSV},
		{"semicolon separated", []byte("a;b\n1;2\n3;4\n"), CSV},
		{"tab separated", []byte("a\tb\tc\n1\t2\t3\n"), CSV},
		{"inconsistent commas", []byte("Hello, world.\nThis line has none\n"), Text},
		{"single line", []byte("just one line, with a comma"), Text},
		{"empty", nil, Text},
		{"binary noise", []byte{0x00, 0xff, 0x10, 0x80}, Text},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Detect("upload", tt.buf))
		})
	}
}

func TestDetectWithMIME(t *testing.T) {
	assert.Equal(t, CSV, DetectWithMIME("blob", "text/csv; charset=utf-8", []byte("plain words")))
	assert.Equal(t, PDF, DetectWithMIME("blob", "application/octet-stream", []byte("%PDF-1.5")))
	assert.Equal(t, HTML, DetectWithMIME("page.html", "text/plain", nil))
}

func TestKindFromMIME(t *testing.T) {
	assert.Equal(t, DOCX, KindFromMIME("application/vnd.openxmlformats-officedocument.wordprocessingml.document"))
	assert.Equal(t, Text, KindFromMIME("text/plain"))
	assert.Equal(t, Unknown, KindFromMIME(""))
	assert.Equal(t, Unknown, KindFromMIME("image/png"))
}

func buildZip(t *testing.T, name, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	require.NoError(t, err)
	_, err = w.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}
