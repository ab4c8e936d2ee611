package normalizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize_Empty(t *testing.T) {
	assert.Equal(t, "", Normalize(nil))
	assert.Equal(t, "", Normalize([]Block{{Source: "https://a.example", Text: "   \n\n"}}))
	assert.Equal(t, "", Normalize([]Block{{Source: "https://a.example", Text: "Home\nMenu\nAccept all cookies"}}))
}

func TestNormalize_DropsBoilerplate(t *testing.T) {
	text := strings.Join([]string{
		"Skip to main content",
		"Home",
		"About us",
		"Invoices issued in Ireland must show the supplier VAT number.",
		"https://example.com/vat",
		"",
		"We use cookies to improve your experience.",
		"Subscribe to our newsletter",
		"© 2024 Example Ltd",
		"",
		"Invoice requirements:",
		"The invoice must carry a sequential number.",
	}, "\n")

	got := Normalize([]Block{{Source: "https://revenue.example/ie", Text: text}})

	want := "Source: https://revenue.example/ie\n\n" +
		"Invoices issued in Ireland must show the supplier VAT number.\n\n" +
		"Invoice requirements: The invoice must carry a sequential number."
	assert.Equal(t, want, got)
}

func TestNormalize_KeepsRegulatoryProseWithBoilerplateWords(t *testing.T) {
	paras := []string{
		"The supplier must keep a VAT log including every invoice issued.",
		"Companies must state their paid-up subscribed capital on invoices.",
		"E-invoices can be submitted after you log in with your certificate.",
		"Invoices must show the supplier VAT number.",
	}

	got := Normalize([]Block{{Source: "https://revenue.example", Text: strings.Join(paras, "\n\n")}})

	assert.Equal(t, "Source: https://revenue.example\n\n"+strings.Join(paras, "\n\n"), got)
}

func TestNormalize_DedupesAcrossSources(t *testing.T) {
	shared := "Reverse charge applies to B2B services supplied to Switzerland."
	blocks := []Block{
		{Source: "https://a.example", Text: shared + "\n\nInvoices must be kept for six years."},
		{Source: "https://b.example", Text: "reverse  charge applies to B2B services supplied to Switzerland.\n\nSwiss VAT numbers start with CHE."},
		{Source: "https://c.example", Text: "Invoices must be kept for six years."},
	}

	got := Normalize(blocks)

	assert.Equal(t, 1, strings.Count(strings.ToLower(got), "reverse charge applies"))
	assert.Contains(t, got, "Source: https://a.example")
	assert.Contains(t, got, "Source: https://b.example\n\nSwiss VAT numbers start with CHE.")
	assert.NotContains(t, got, "https://c.example")
}

func TestNormalize_CollapsesWhitespace(t *testing.T) {
	got := Normalize([]Block{{Text: "VAT\tis   charged at 23%.\r\nReduced rates apply."}})
	assert.Equal(t, "Source: source 1\n\nVAT is charged at 23%. Reduced rates apply.", got)
}

func TestIsBoilerplate(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"Contact", true},
		{"Log in", true},
		{"Login", true},
		{"We use cookies to improve your experience.", true},
		{"© 2024 Example Ltd", true},
		{"Keep a VAT log including every invoice.", false},
		{"State the subscribed capital.", false},
		{"Submit e-invoices after you log in with your qualified certificate.", false},
		{"----", true},
		{"www.example.com/page", true},
		{"VAT rates:", false},
		{"Tax invoices must include the customer address.", false},
		{"Standard rate 23%", false},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, isBoilerplate(tt.line))
		})
	}
}
