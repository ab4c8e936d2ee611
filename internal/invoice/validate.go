package invoice

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DateLayout is the textual due-date form used on every invoice.
const DateLayout = "02 January, 2006"

// ErrInconsistent is matched by every record validation failure.
var ErrInconsistent = errors.New("inconsistent invoice record")

// ValidationError lists every problem found in a record.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInconsistent, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInconsistent
}

var altDateLayouts = []string{
	DateLayout,
	"2 January, 2006",
	"02 January 2006",
	"2 January 2006",
	"January 2, 2006",
	"2006-01-02",
	"02/01/2006",
	"02.01.2006",
}

// NormalizeDate rewrites recognised date forms into DateLayout. Values that
// cannot be parsed are returned trimmed and unchanged.
func NormalizeDate(v string) string {
	v = strings.TrimSpace(v)
	for _, layout := range altDateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.Format(DateLayout)
		}
	}
	return v
}

var titleCaser = cases.Title(language.English)

// capitalize title-cases v only when it is entirely lower case, leaving
// deliberate casing ("ACME GmbH", "eBay") alone.
func capitalize(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || strings.ToLower(v) != v {
		return v
	}
	return titleCaser.String(v)
}

func cleanLines(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if IsPlaceholder(l) {
			continue
		}
		out = append(out, capitalize(l))
	}
	return out
}

// Normalize returns a copy of r with the structural conventions applied:
// jurisdiction sentinels, capitalized party lines, DateLayout due dates,
// placeholder optionals cleared and a currency symbol derived from the
// prices when missing.
func Normalize(r Record) Record {
	out := r.Clone()

	out.SenderInfo = cleanLines(out.SenderInfo)
	out.RecipientInfo = cleanLines(out.RecipientInfo)
	out.SenderCountry = capitalize(Jurisdiction(out.SenderCountry))
	out.RecipientCountry = capitalize(Jurisdiction(out.RecipientCountry))

	if Present(out.DueDate) {
		out.DueDate = NormalizeDate(out.DueDate)
	} else {
		out.DueDate = ""
	}

	for _, f := range []*string{
		&out.SenderTaxID, &out.RecipientTaxID, &out.SenderContact, &out.RecipientContact,
		&out.Logo, &out.PaymentInstructions, &out.InvoiceNotes, &out.ExtraCharges,
		&out.ExtraChargesAmount, &out.Taxes, &out.TaxAmount, &out.TransactionNotes,
	} {
		if !Present(*f) {
			*f = ""
		} else {
			*f = strings.TrimSpace(*f)
		}
	}

	for i, d := range out.Descriptions {
		out.Descriptions[i] = strings.TrimSpace(d)
	}

	if IsPlaceholder(out.Currency) {
		out.Currency = ""
		for _, p := range append(append([]string{out.Total}, out.UnitPrices...), out.LineTotals...) {
			if m, err := ParseMoney(p); err == nil {
				out.Currency = m.Symbol
				break
			}
		}
	}

	return out
}

// Validate checks the structural and arithmetic invariants of r. Totals are
// compared with a tolerance of one minor unit per line plus one.
func Validate(r *Record) error {
	var problems []string
	addf := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	n := len(r.Descriptions)
	switch {
	case n == 0:
		addf("no line items")
	case r.Lines() < 0:
		addf("line item lists differ in length: %d descriptions, %d quantities, %d unit prices, %d line totals",
			len(r.Descriptions), len(r.Quantities), len(r.UnitPrices), len(r.LineTotals))
	}

	if len(r.SenderInfo) == 0 || IsPlaceholder(r.SenderName()) {
		addf("sender name missing")
	}
	if len(r.RecipientInfo) == 0 || IsPlaceholder(r.RecipientName()) {
		addf("recipient name missing")
	}
	if strings.TrimSpace(r.SenderCountry) == "" {
		addf("sender jurisdiction blank")
	}
	if strings.TrimSpace(r.RecipientCountry) == "" {
		addf("recipient jurisdiction blank")
	}
	if r.DueDate != "" {
		if _, err := time.Parse(DateLayout, r.DueDate); err != nil {
			addf("due date %q is not in the form %q", r.DueDate, DateLayout)
		}
	}

	symbols := map[string]struct{}{}
	parse := func(field, v string) (Money, bool) {
		m, err := ParseMoney(v)
		if err != nil {
			addf("%s: %v", field, err)
			return Money{}, false
		}
		symbols[m.Symbol] = struct{}{}
		return m, true
	}

	total, totalOK := parse("total", r.Total)

	var sum int64
	linesOK := r.Lines() > 0
	if linesOK {
		for i := 0; i < n; i++ {
			if strings.TrimSpace(r.Descriptions[i]) == "" {
				addf("line %d: empty description", i+1)
			}
			if r.Quantities[i] <= 0 {
				addf("line %d: quantity must be positive", i+1)
			}
			unit, okU := parse(fmt.Sprintf("line %d unit price", i+1), r.UnitPrices[i])
			line, okL := parse(fmt.Sprintf("line %d total", i+1), r.LineTotals[i])
			if !okU || !okL {
				linesOK = false
				continue
			}
			want, inRange := LineAmount(r.Quantities[i], unit)
			switch {
			case !inRange:
				addf("line %d: %s x %s is out of range", i+1, FormatQuantity(r.Quantities[i]), unit)
				linesOK = false
				continue
			case abs(want-line.Minor) > 1:
				addf("line %d: %s x %s is %s, not %s", i+1, FormatQuantity(r.Quantities[i]),
					unit, FormatMinor(want, unit.Symbol, unit.Suffix), line)
			}
			sum += line.Minor
		}
	}

	if r.ExtraChargesAmount != "" {
		if m, ok := parse("extra charges", r.ExtraChargesAmount); ok {
			sum += m.Minor
		} else {
			linesOK = false
		}
	}
	if r.TaxAmount != "" {
		if m, ok := parse("tax", r.TaxAmount); ok {
			sum += m.Minor
		} else {
			linesOK = false
		}
	}

	if linesOK && totalOK {
		if abs(sum-total.Minor) > int64(n)+1 {
			addf("grand total %s does not match line totals plus charges %s",
				total, FormatMinor(sum, total.Symbol, total.Suffix))
		}
	}

	if len(symbols) > 1 {
		addf("amounts mix currency symbols")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
