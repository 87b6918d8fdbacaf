package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatExpiry(t *testing.T) {
	tests := []struct {
		name      string
		expiresAt int64
		expected  string
	}{
		{"zero means never", 0, "never"},
		{"epoch seconds render as UTC", 1_700_000_000, "2023-11-14 22:13"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatExpiry(tt.expiresAt))
		})
	}
}
