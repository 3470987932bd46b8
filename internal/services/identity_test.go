package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidIdentity(t *testing.T) {
	tests := []struct {
		name  string
		token string
		valid bool
	}{
		{"lowercase hex", "0123456789abcdef", true},
		{"uppercase hex", "0123456789ABCDEF", true},
		{"mixed case hex", "0a1B2c3D4e5F6a7B", true},
		{"all digits", "1111111111111111", true},
		{"empty", "", false},
		{"too short", "0123456789abcde", false},
		{"too long", "0123456789abcdef0", false},
		{"non-hex letter", "0123456789abcdeg", false},
		{"hex prefix", "0x23456789abcdef", false},
		{"whitespace", "0123456789abcde ", false},
		{"unicode digit", "０123456789abcdef", false},
		{"32 chars", strings.Repeat("a", 32), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, IsValidIdentity(tt.token))
		})
	}
}
