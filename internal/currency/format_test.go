package currency

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestRoundHalfAwayFromZero(t *testing.T) {
	cases := []struct {
		in, code, want string
	}{
		{"2.345", "EUR", "2.35"},
		{"-2.345", "EUR", "-2.35"},
		{"2.344", "USD", "2.34"},
		{"1234.5", "JPY", "1235"},
		{"8.7956", "eur", "8.8"},
	}
	for _, tc := range cases {
		got, err := Round(decimal.RequireFromString(tc.in), tc.code)
		if err != nil {
			t.Fatalf("Round(%s, %s): %v", tc.in, tc.code, err)
		}
		if !got.Equal(decimal.RequireFromString(tc.want)) {
			t.Fatalf("Round(%s, %s) = %s, want %s", tc.in, tc.code, got, tc.want)
		}
	}
}

func TestFormatDoesNotMutateAmount(t *testing.T) {
	f, err := NewFormatter("en")
	if err != nil {
		t.Fatal(err)
	}
	amount := decimal.RequireFromString("1234.505")
	out, err := f.Format(amount, "EUR")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "1,234.51") || !strings.Contains(out, "€") {
		t.Fatalf("unexpected output %q", out)
	}
	if amount.String() != "1234.505" {
		t.Fatalf("amount changed to %s", amount)
	}
}

func TestFormatZeroScaleCurrency(t *testing.T) {
	f, err := NewFormatter("en")
	if err != nil {
		t.Fatal(err)
	}
	out, err := f.Format(decimal.RequireFromString("1234.5"), "JPY")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "1,235") || strings.Contains(out, ".") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestFormatInLocale(t *testing.T) {
	f, err := NewFormatter("en")
	if err != nil {
		t.Fatal(err)
	}
	out, err := f.FormatIn("de", decimal.RequireFromString("1234.5"), "EUR")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "1.234,50") {
		t.Fatalf("unexpected output %q", out)
	}
	if f.printers.Size() != 1 {
		t.Fatalf("expected one cached printer, got %d", f.printers.Size())
	}

	if _, err := f.FormatIn("not a locale!", decimal.Zero, "EUR"); err == nil {
		t.Fatal("expected error for invalid locale")
	}
}

func TestFormatUnknownCurrency(t *testing.T) {
	f, err := NewFormatter("")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Format(decimal.NewFromInt(1), "ZZZ"); err == nil {
		t.Fatal("expected error for unknown currency")
	}
}

func TestFormatHours(t *testing.T) {
	f, err := NewFormatter("en")
	if err != nil {
		t.Fatal(err)
	}
	if got := f.FormatHours(decimal.RequireFromString("1234.5")); got != "1,234.5" {
		t.Fatalf("FormatHours = %q", got)
	}
}
