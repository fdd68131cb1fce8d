package extract

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"+52 55 1234 5678", "5512345678"},
		{"tel:+529991234567", "9991234567"},
		{"(999) 123-4567", "9991234567"},
		{"+1 415 555 0100", "+14155550100"},
		{"123", ""},
		{"+52 1234", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePhone(tt.raw, DefaultPhoneCountryPrefix))
		})
	}
}

func TestExtractPhone_StrategyOrder(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{
			name: "data item id",
			html: `<button data-item-id="phone:tel:+525512345678" aria-label="Teléfono: 999 000 0000"></button>`,
			want: "5512345678",
		},
		{
			name: "button aria label",
			html: `<button data-item-id="phone:" aria-label="Teléfono: 999 765 4321"></button>`,
			want: "9997654321",
		},
		{
			name: "button text",
			html: `<button data-item-id="phone:"><div class="Io6YTe">999 111 2222</div></button>`,
			want: "9991112222",
		},
		{
			name: "tel link",
			html: `<a href="tel:9993334444">Llamar</a>`,
			want: "9993334444",
		},
		{
			name: "any labelled control",
			html: `<div aria-label="Llamar: 999 555 6666"></div>`,
			want: "9995556666",
		},
		{
			name: "too short everywhere",
			html: `<a href="tel:123">x</a>`,
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := goquery.NewDocumentFromReader(strings.NewReader(tt.html))
			require.NoError(t, err)
			assert.Equal(t, tt.want, extractPhone(doc, DefaultPhoneCountryPrefix))
		})
	}
}
