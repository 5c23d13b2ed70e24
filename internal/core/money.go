package core

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var errMalformedAmount = errors.New("expected a non-negative decimal like 12.34 or 12,34")

// ParseAmount parses user-entered quantities, prices and rates.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators. Signs,
// thousands separators and exponents are rejected, so the result is always
// non-negative. No rounding is applied.
//
// Examples:
//
//	ParseAmount("12.34")  -> 12.34, nil
//	ParseAmount("12,345") -> 12.345, nil
//	ParseAmount(".5")     -> 0.5, nil
//	ParseAmount("-1")     -> error
func ParseAmount(s string) (decimal.Decimal, error) {
	raw := s
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, NewRequired("amount")
	}
	s = strings.ReplaceAll(s, ",", ".")

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return decimal.Zero, NewInvalidFormat("amount", errMalformedAmount, &raw)
	}
	digits := 0
	for _, part := range parts {
		for _, r := range part {
			if r < '0' || r > '9' {
				return decimal.Zero, NewInvalidFormat("amount", errMalformedAmount, &raw)
			}
			digits++
		}
	}
	if digits == 0 {
		return decimal.Zero, NewInvalidFormat("amount", errMalformedAmount, &raw)
	}
	if parts[0] == "" {
		s = "0" + s
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, NewInvalidFormat("amount", err, &raw)
	}
	return d, nil
}
