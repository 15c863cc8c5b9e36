package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreview(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short text", 20, "short text"},
		{"line one\n\nline   two", 0, "line one line two"},
		{"héllo wörld", 5, "héllo..."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, preview(tt.in, tt.n))
	}
}

func TestCommandsRegistered(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"migrate", "bot", "token", "chunk", "ingest", "status", "list", "search", "ask", "purge", "worker"} {
		assert.Contains(t, names, want)
	}
}

func TestChunkCommand(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(file, []byte("# Notes\n\nThe cache expires after ten minutes.\n"), 0o600))

	t.Chdir(dir)
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("VECTOR_BACKEND", "memory")

	rootCmd.SetArgs([]string{"chunk", file})
	assert.NoError(t, rootCmd.Execute())
}
