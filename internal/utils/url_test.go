package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeEndpointURL(t *testing.T) {
	tests := []struct {
		base, path, expected string
	}{
		{"http://localhost:8080", "/conversations", "http://localhost:8080/conversations"},
		{"http://localhost:8080/", "/conversations", "http://localhost:8080/conversations"},
		{"https://chat.example.com/api/", "upload", "https://chat.example.com/api/upload"},
		{"https://chat.example.com", "", "https://chat.example.com"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, NormalizeEndpointURL(tt.base, tt.path), "%s + %s", tt.base, tt.path)
	}
}
