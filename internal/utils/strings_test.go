package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskKey(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty string", "", "(empty)"},
		{"short key", "sk-123456", "****"},
		{"normal key", "basic-credential-0001", "basic-cr...0001"},
		{"generated key", "sk-0f1e2d3c4b5a69788796a5b4c3d2e1f0", "sk-0f1e2...e1f0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MaskKey(tt.input))
		})
	}
}

func TestMaskKeyShort(t *testing.T) {
	assert.Equal(t, "****", MaskKeyShort(""))
	assert.Equal(t, "****", MaskKeyShort("12345678"))
	assert.Equal(t, "team...0001", MaskKeyShort("team-a-0001"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abc...", Truncate("abcdef", 3))
	assert.Equal(t, "", Truncate("abc", 0))
	// "é" is two bytes; cutting inside it backs off to the rune start.
	assert.Equal(t, "a...", Truncate("aéz", 2))
}
