package utils

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashKey(t *testing.T) {
	a := HashKey("0x1:0x2")
	assert.Len(t, a, 64)
	assert.Equal(t, a, HashKey("0x1:0x2"))
	assert.NotEqual(t, a, HashKey("0x1:0x3"))
}

func TestToAbsoluteURL(t *testing.T) {
	base, err := url.Parse("https://www.google.com/maps/search/cafe")
	require.NoError(t, err)

	tests := []struct {
		name     string
		relative string
		want     string
	}{
		{"root relative", "/maps/place/Cafe+Uno/data=!1s0x1:0x2", "https://www.google.com/maps/place/Cafe+Uno/data=!1s0x1:0x2"},
		{"already absolute", "https://example.com/contact", "https://example.com/contact"},
		{"padded", "  /about ", "https://www.google.com/about"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToAbsoluteURL(base, tt.relative)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSameHost(t *testing.T) {
	assert.True(t, SameHost("https://www.cafe.mx/", "https://cafe.mx/contacto"))
	assert.False(t, SameHost("https://cafe.mx/", "https://facebook.com/cafe"))
	assert.False(t, SameHost("::bad", "https://cafe.mx"))
}
