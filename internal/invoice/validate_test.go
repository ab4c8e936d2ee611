package invoice

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRecord() Record {
	return Record{
		SenderInfo:         []string{"Acme Ltd", "1 Main Street", "Dublin"},
		SenderCountry:      "Ireland",
		RecipientInfo:      []string{"Globex AG", "Bahnhofstrasse 1", "Zurich"},
		RecipientCountry:   "Switzerland",
		DueDate:            "01 March, 2025",
		Descriptions:       []string{"Customer service", "Widget"},
		Quantities:         []float64{1, 3},
		UnitPrices:         []string{"€30.00", "€2.50"},
		LineTotals:         []string{"€30.00", "€7.50"},
		Total:              "€42.50",
		Currency:           "€",
		ExtraCharges:       "Shipping",
		ExtraChargesAmount: "€5.00",
	}
}

func TestParseMoney(t *testing.T) {
	tests := []struct {
		in      string
		want    Money
		wantErr bool
	}{
		{in: "€30.00", want: Money{Minor: 3000, Symbol: "€"}},
		{in: "$1,200.5", want: Money{Minor: 120050, Symbol: "$"}},
		{in: "-£4", want: Money{Minor: -400, Symbol: "£"}},
		{in: "30 €", want: Money{Minor: 3000, Symbol: "€", Suffix: true}},
		{in: "30.00", wantErr: true},
		{in: "30 EUR", wantErr: true},
		{in: "€30 euros", wantErr: true},
		{in: "€30€", wantErr: true},
		{in: "€1.999", wantErr: true},
		{in: "€99999999999999999999.00", wantErr: true},
		{in: "€10,000,000,000,000.01", wantErr: true},
		{in: "€10,000,000,000,000.00", want: Money{Minor: MaxMinor, Symbol: "€"}},
		{in: "-$0.5", want: Money{Minor: -50, Symbol: "$"}},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMoney(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMoneyFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatMinor(t *testing.T) {
	assert.Equal(t, "€30.00", FormatMinor(3000, "€", false))
	assert.Equal(t, "$1,234,567.89", FormatMinor(123456789, "$", false))
	assert.Equal(t, "-£0.05", FormatMinor(-5, "£", false))
	assert.Equal(t, "12.00 €", FormatMinor(1200, "€", true))
}

func TestLineAmount(t *testing.T) {
	got, ok := LineAmount(3, Money{Minor: 250, Symbol: "€"})
	assert.True(t, ok)
	assert.Equal(t, int64(750), got)

	_, ok = LineAmount(1e6, Money{Minor: MaxMinor, Symbol: "€"})
	assert.False(t, ok)
}

func TestFormatQuantity(t *testing.T) {
	assert.Equal(t, "3", FormatQuantity(3))
	assert.Equal(t, "2.5", FormatQuantity(2.5))
}

func TestValidate_Valid(t *testing.T) {
	rec := validRecord()
	assert.NoError(t, Validate(&rec))
}

func TestValidate_Problems(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *Record)
		want   string
	}{
		{
			name: "length mismatch",
			mutate: func(r *Record) {
				r.Descriptions = append(r.Descriptions, "Extra")
			},
			want: "line item lists differ in length: 3 descriptions, 2 quantities",
		},
		{
			name:   "no lines",
			mutate: func(r *Record) { r.Descriptions, r.Quantities, r.UnitPrices, r.LineTotals = nil, nil, nil, nil },
			want:   "no line items",
		},
		{
			name:   "line arithmetic",
			mutate: func(r *Record) { r.LineTotals[1] = "€8.50"; r.Total = "€43.50" },
			want:   "line 2: 3 x €2.50 is €7.50, not €8.50",
		},
		{
			name:   "grand total",
			mutate: func(r *Record) { r.Total = "€37.50" },
			want:   "grand total €37.50 does not match line totals plus charges €42.50",
		},
		{
			name:   "spelled currency",
			mutate: func(r *Record) { r.UnitPrices[0] = "30 EUR" },
			want:   "line 1 unit price",
		},
		{
			name:   "date form",
			mutate: func(r *Record) { r.DueDate = "2025-03-01" },
			want:   "due date",
		},
		{
			name:   "blank jurisdiction",
			mutate: func(r *Record) { r.RecipientCountry = "" },
			want:   "recipient jurisdiction blank",
		},
		{
			name:   "mixed symbols",
			mutate: func(r *Record) { r.ExtraChargesAmount = "$5.00" },
			want:   "amounts mix currency symbols",
		},
		{
			name:   "amount out of range",
			mutate: func(r *Record) { r.Total = "€99999999999999999999.00" },
			want:   "total: invalid money format",
		},
		{
			name:   "line product out of range",
			mutate: func(r *Record) { r.Quantities[1] = 1e12; r.UnitPrices[1] = "€9,000,000.00" },
			want:   "line 2: 1000000000000 x €9,000,000.00 is out of range",
		},
		{
			name:   "missing sender",
			mutate: func(r *Record) { r.SenderInfo = nil },
			want:   "sender name missing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := validRecord()
			tt.mutate(&rec)

			err := Validate(&rec)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInconsistent))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_RoundingTolerance(t *testing.T) {
	rec := validRecord()
	rec.Quantities = []float64{1, 3}
	rec.UnitPrices = []string{"€30.00", "€3.33"}
	rec.LineTotals = []string{"€30.00", "€10.00"}
	rec.Total = "€45.00"
	assert.NoError(t, Validate(&rec))
}

func TestNormalize(t *testing.T) {
	rec := validRecord()
	rec.SenderInfo = []string{"acme ltd", "none", "1 main street"}
	rec.RecipientInfo = []string{"ACME GmbH"}
	rec.SenderCountry = "ireland"
	rec.RecipientCountry = "COUNTRY REQUIRED"
	rec.DueDate = "2025-03-01"
	rec.Logo = "None"
	rec.SenderTaxID = "n/a"
	rec.Currency = ""

	out := Normalize(rec)

	assert.Equal(t, []string{"Acme Ltd", "1 Main Street"}, out.SenderInfo)
	assert.Equal(t, []string{"ACME GmbH"}, out.RecipientInfo)
	assert.Equal(t, "Ireland", out.SenderCountry)
	assert.Equal(t, JurisdictionRequired, out.RecipientCountry)
	assert.Equal(t, "01 March, 2025", out.DueDate)
	assert.Empty(t, out.Logo)
	assert.Empty(t, out.SenderTaxID)
	assert.Equal(t, "€", out.Currency)

	// input untouched
	assert.Equal(t, "acme ltd", rec.SenderInfo[0])
	assert.Equal(t, "None", rec.Logo)
}

func TestNormalizeDate(t *testing.T) {
	assert.Equal(t, "05 April, 2025", NormalizeDate("April 5, 2025"))
	assert.Equal(t, "05 April, 2025", NormalizeDate("5 April 2025"))
	assert.Equal(t, "next week", NormalizeDate(" next week "))
}

func TestPresent(t *testing.T) {
	assert.True(t, Present("logo.png"))
	assert.False(t, Present("None"))
	assert.False(t, Present(JurisdictionRequired))
	assert.False(t, Present(""))
}

func TestRecord_CloneIsDeep(t *testing.T) {
	rec := validRecord()
	clone := rec.Clone()
	clone.Quantities[0] = 99
	clone.UnitPrices[0] = "€1.00"
	assert.Equal(t, float64(1), rec.Quantities[0])
	assert.Equal(t, "€30.00", rec.UnitPrices[0])
}
