package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr string
	}{
		{name: "ad identifier", key: "ad-42"},
		{name: "slash is allowed", key: "2024/ad-42"},
		{name: "unicode", key: "annonse-ø"},
		{name: "empty", key: "", wantErr: "empty key"},
		{name: "whitespace", key: " \t", wantErr: "empty key"},
		{name: "dot", key: ".", wantErr: "path traversal"},
		{name: "dot dot", key: "..", wantErr: "path traversal"},
		{name: "encoded traversal", key: "..%2fetc", wantErr: "encoded path traversal"},
		{name: "nul byte", key: "ad\x00", wantErr: "control character"},
		{name: "hidden", key: ".temp", wantErr: "hidden keys"},
		{name: "at limit", key: strings.Repeat("a", MaxKeyLength)},
		{name: "too long", key: strings.Repeat("a", MaxKeyLength+1), wantErr: "exceeds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLocatorResolver_Resolve(t *testing.T) {
	const base = "https://images.finncdn.no/dynamic/480x360c/"

	tests := []struct {
		name     string
		base     string
		locator  string
		expected string
		wantErr  bool
	}{
		{
			name:     "absolute locator ignores base",
			base:     base,
			locator:  "http://example.com/a.jpg",
			expected: "http://example.com/a.jpg",
		},
		{
			name:     "relative locator joins base",
			base:     base,
			locator:  "2019/8/vertical-0/30/5/a.jpg",
			expected: "https://images.finncdn.no/dynamic/480x360c/2019/8/vertical-0/30/5/a.jpg",
		},
		{
			name:    "relative locator without base",
			locator: "a.jpg",
			wantErr: true,
		},
		{
			name:    "unsupported scheme",
			locator: "ftp://example.com/a.jpg",
			wantErr: true,
		},
		{
			name:    "empty",
			base:    base,
			locator: "  ",
			wantErr: true,
		},
		{
			name:    "malformed",
			locator: "http://[::1",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewLocatorResolver(tt.base)
			require.NoError(t, err)

			got, err := r.Resolve(tt.locator)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestNewLocatorResolver_InvalidBase(t *testing.T) {
	_, err := NewLocatorResolver("file:///tmp")
	assert.Error(t, err)

	_, err = NewLocatorResolver("https://")
	assert.Error(t, err)
}
