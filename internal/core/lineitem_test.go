package core

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestComputeLineItem(t *testing.T) {
	cases := []struct {
		name             string
		q, p, rate       string
		amount, tax, tot string
	}{
		{"no tax", "10", "50", "0", "500", "0", "500"},
		{"vat", "2", "19.99", "22", "39.98", "8.7956", "48.7756"},
		{"fractional hours", "7.25", "80", "10", "580", "58", "638"},
		{"full rate", "1", "3.33", "100", "3.33", "3.33", "6.66"},
		{"zero price", "4", "0", "22", "0", "0", "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ComputeLineItem(dec(tc.q), dec(tc.p), dec(tc.rate))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Amount.Equal(dec(tc.amount)) || !got.TaxAmount.Equal(dec(tc.tax)) || !got.TotalAmount.Equal(dec(tc.tot)) {
				t.Fatalf("got %s/%s/%s, want %s/%s/%s", got.Amount, got.TaxAmount, got.TotalAmount, tc.amount, tc.tax, tc.tot)
			}
		})
	}
}

func TestComputeLineItemMatchesFormula(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	hundred := decimal.NewFromInt(100)
	for i := 0; i < 500; i++ {
		q := decimal.New(r.Int63n(100000), -2)
		p := decimal.New(r.Int63n(1000000), -3)
		rate := decimal.New(r.Int63n(10001), -2)

		got, err := ComputeLineItem(q, p, rate)
		if err != nil {
			t.Fatalf("q=%s p=%s t=%s: %v", q, p, rate, err)
		}
		qp := q.Mul(p)
		want := qp.Add(qp.Mul(rate).Div(hundred))
		if !got.TotalAmount.Equal(want) {
			t.Fatalf("q=%s p=%s t=%s: total %s, want %s", q, p, rate, got.TotalAmount, want)
		}
		if !got.TotalAmount.Equal(got.Amount.Add(got.TaxAmount)) {
			t.Fatalf("total must equal amount + tax exactly")
		}
	}
}

func TestComputeLineItemZeroQuantity(t *testing.T) {
	for _, p := range []string{"0", "1", "99.99"} {
		for _, rate := range []string{"0", "22", "100"} {
			got, err := ComputeLineItem(decimal.Zero, dec(p), dec(rate))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Amount.IsZero() || !got.TaxAmount.IsZero() || !got.TotalAmount.IsZero() {
				t.Fatalf("p=%s t=%s: expected zeros, got %+v", p, rate, got)
			}
		}
	}
}

func TestComputeLineItemRejectsInvalidInput(t *testing.T) {
	cases := []struct {
		name     string
		q, p, r  string
		field    string
		sentinel error
	}{
		{"negative quantity", "-1", "10", "0", "quantity", ErrInvalidQuantityOrPrice},
		{"negative price", "1", "-0.01", "0", "unit_price", ErrInvalidQuantityOrPrice},
		{"negative rate", "1", "10", "-1", "tax_rate", ErrInvalidTaxRate},
		{"rate above 100", "1", "10", "100.01", "tax_rate", ErrInvalidTaxRate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ComputeLineItem(dec(tc.q), dec(tc.p), dec(tc.r))
			if !errors.Is(err, tc.sentinel) {
				t.Fatalf("expected %v, got %v", tc.sentinel, err)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Field != tc.field || ve.Code != CodeOutOfRange {
				t.Fatalf("expected %s OUT_OF_RANGE, got %v", tc.field, err)
			}
		})
	}
}

func TestSumLineItemsEmpty(t *testing.T) {
	got := SumLineItems(nil)
	if !got.Subtotal.IsZero() || !got.TaxTotal.IsZero() || !got.Total.IsZero() {
		t.Fatalf("expected zero totals, got %+v", got)
	}
}

func TestSumLineItemsPermutationInvariant(t *testing.T) {
	var items []LineItem
	for _, in := range [][3]string{
		{"1", "0.1", "22"},
		{"3", "0.2", "10"},
		{"7.5", "33.333", "4"},
		{"0.3", "1000000", "0"},
		{"12", "0.07", "21"},
	} {
		item, err := NewLineItem("x", dec(in[0]), dec(in[1]), dec(in[2]))
		if err != nil {
			t.Fatal(err)
		}
		items = append(items, item)
	}

	want := SumLineItems(items)
	if !want.Total.Equal(want.Subtotal.Add(want.TaxTotal)) {
		t.Fatalf("total must equal subtotal + tax_total")
	}

	r := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		shuffled := append([]LineItem(nil), items...)
		r.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		got := SumLineItems(shuffled)
		if !got.Subtotal.Equal(want.Subtotal) || !got.TaxTotal.Equal(want.TaxTotal) || !got.Total.Equal(want.Total) {
			t.Fatalf("permutation changed totals: %+v vs %+v", got, want)
		}
	}
}

func TestNewLineItemTrimsDescription(t *testing.T) {
	item, err := NewLineItem("  Consulting  ", dec("2"), dec("100"), dec("0"))
	if err != nil {
		t.Fatal(err)
	}
	if item.Description != "Consulting" {
		t.Fatalf("description = %q", item.Description)
	}
}

func TestRecomputeIgnoresStaleAmounts(t *testing.T) {
	item := LineItem{
		Quantity:        dec("2"),
		UnitPrice:       dec("10"),
		TaxRate:         dec("10"),
		LineItemAmounts: LineItemAmounts{Amount: dec("999"), TaxAmount: dec("1"), TotalAmount: dec("1000")},
	}
	got, err := item.Recompute()
	if err != nil {
		t.Fatal(err)
	}
	if !got.TotalAmount.Equal(dec("22")) {
		t.Fatalf("total = %s, want 22", got.TotalAmount)
	}
}
