package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimate(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 700), 175},
		// Runes, not bytes.
		{"héllo wörld", 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Estimate(tt.in), "input %q", tt.in)
	}
}

func TestEstimateCounter(t *testing.T) {
	var c Counter = EstimateCounter{}
	assert.Equal(t, 3, c.Count("twelve chars"))
}
