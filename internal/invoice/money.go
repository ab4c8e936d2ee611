package invoice

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// ErrMoneyFormat is returned for amounts that lack a currency symbol or
// carry a spelled-out currency name.
var ErrMoneyFormat = errors.New("invalid money format")

// MaxMinor bounds every amount so that sums over an invoice cannot overflow.
const MaxMinor int64 = 1e15

// Money is an amount in minor units (cents) tagged with its symbol.
type Money struct {
	Minor  int64
	Symbol string
	// Suffix is true when the symbol follows the number ("30.00 €").
	Suffix bool
}

var moneyPattern = regexp.MustCompile(`^(\p{Sc}*)\s*(-?)\s*(\p{Sc}*)\s*([0-9][0-9,]*)(?:\.([0-9]+))?\s*(\p{Sc}*)$`)

// ParseMoney parses values such as "€30.00", "$1,200.5", "-£4" or "30 €".
// At most two fraction digits are accepted and the magnitude is capped at
// MaxMinor.
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	for _, r := range s {
		if unicode.IsLetter(r) {
			return Money{}, fmt.Errorf("%w: %q contains letters", ErrMoneyFormat, s)
		}
	}

	m := moneyPattern.FindStringSubmatch(s)
	if m == nil {
		return Money{}, fmt.Errorf("%w: %q", ErrMoneyFormat, s)
	}

	prefix := m[1] + m[3]
	suffix := m[6]
	if (prefix == "") == (suffix == "") {
		return Money{}, fmt.Errorf("%w: %q needs exactly one currency symbol", ErrMoneyFormat, s)
	}

	minor, err := parseMinor(m[4], m[5])
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q: %v", ErrMoneyFormat, s, err)
	}
	if m[2] == "-" {
		minor = -minor
	}

	if prefix != "" {
		return Money{Minor: minor, Symbol: prefix}, nil
	}
	return Money{Minor: minor, Symbol: suffix, Suffix: true}, nil
}

func parseMinor(whole, frac string) (int64, error) {
	if len(frac) > 2 {
		return 0, errors.New("more than two fraction digits")
	}
	w, err := strconv.ParseInt(strings.ReplaceAll(whole, ",", ""), 10, 64)
	if err != nil || w > MaxMinor/100 {
		return 0, errors.New("amount out of range")
	}
	var f int64
	if frac != "" {
		f, _ = strconv.ParseInt(frac, 10, 64)
		if len(frac) == 1 {
			f *= 10
		}
	}
	minor := w*100 + f
	if minor > MaxMinor {
		return 0, errors.New("amount out of range")
	}
	return minor, nil
}

// String formats m with two decimals and thousands separators.
func (m Money) String() string {
	return FormatMinor(m.Minor, m.Symbol, m.Suffix)
}

// FormatMinor renders minor units with the given symbol.
func FormatMinor(minor int64, symbol string, suffix bool) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}

	whole := strconv.FormatInt(minor/100, 10)
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	num := fmt.Sprintf("%s.%02d", b.String(), minor%100)

	if suffix {
		return sign + num + " " + symbol
	}
	return sign + symbol + num
}

// LineAmount returns quantity * unit price in minor units. It reports false
// when the product falls outside ±MaxMinor.
func LineAmount(quantity float64, unit Money) (int64, bool) {
	p := math.Round(quantity * float64(unit.Minor))
	if math.IsNaN(p) || math.Abs(p) > float64(MaxMinor) {
		return 0, false
	}
	return int64(p), true
}

// FormatQuantity prints whole quantities without decimals.
func FormatQuantity(q float64) string {
	if q == math.Trunc(q) {
		return strconv.FormatFloat(q, 'f', 0, 64)
	}
	return strconv.FormatFloat(q, 'f', -1, 64)
}
