package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

var maxTaxRate = decimal.NewFromInt(100)

type (
	// LineItemAmounts is the derived part of a line item. Values are exact;
	// rounding to a currency's minor unit happens only when formatting.
	LineItemAmounts struct {
		Amount      decimal.Decimal
		TaxAmount   decimal.Decimal
		TotalAmount decimal.Decimal
	}

	LineItem struct {
		Description string
		Quantity    decimal.Decimal
		UnitPrice   decimal.Decimal
		TaxRate     decimal.Decimal // percent, 0-100
		LineItemAmounts

		// Set when the line was produced from an aggregate.
		ProjectID  string
		EmployeeID string
	}

	InvoiceTotals struct {
		Subtotal decimal.Decimal
		TaxTotal decimal.Decimal
		Total    decimal.Decimal
	}
)

// ComputeLineItem derives amount, tax and total for one line.
//
//	amount = quantity * unit_price
//	tax    = amount * tax_rate / 100
//	total  = amount + tax
//
// Negative quantity or price and tax rates outside [0, 100] are rejected,
// never clamped.
func ComputeLineItem(quantity, unitPrice, taxRate decimal.Decimal) (LineItemAmounts, error) {
	if quantity.IsNegative() {
		return LineItemAmounts{}, newOutOfRange("quantity", ErrInvalidQuantityOrPrice, quantity.String())
	}
	if unitPrice.IsNegative() {
		return LineItemAmounts{}, newOutOfRange("unit_price", ErrInvalidQuantityOrPrice, unitPrice.String())
	}
	if taxRate.IsNegative() || taxRate.GreaterThan(maxTaxRate) {
		return LineItemAmounts{}, newOutOfRange("tax_rate", ErrInvalidTaxRate, taxRate.String())
	}

	amount := quantity.Mul(unitPrice)
	// Shift(-2) divides by 100 without a division precision limit.
	tax := amount.Mul(taxRate).Shift(-2)
	return LineItemAmounts{
		Amount:      amount,
		TaxAmount:   tax,
		TotalAmount: amount.Add(tax),
	}, nil
}

// NewLineItem validates the inputs and returns a fully computed line.
func NewLineItem(description string, quantity, unitPrice, taxRate decimal.Decimal) (LineItem, error) {
	amounts, err := ComputeLineItem(quantity, unitPrice, taxRate)
	if err != nil {
		return LineItem{}, err
	}
	return LineItem{
		Description:     strings.TrimSpace(description),
		Quantity:        quantity,
		UnitPrice:       unitPrice,
		TaxRate:         taxRate,
		LineItemAmounts: amounts,
	}, nil
}

// Recompute returns a copy of the line with amounts derived from its inputs.
func (li LineItem) Recompute() (LineItem, error) {
	amounts, err := ComputeLineItem(li.Quantity, li.UnitPrice, li.TaxRate)
	if err != nil {
		return LineItem{}, err
	}
	li.LineItemAmounts = amounts
	return li, nil
}

// SumLineItems reduces line items into invoice totals. Decimal addition is
// exact, so the result does not depend on the order of items.
func SumLineItems(items []LineItem) InvoiceTotals {
	subtotal := decimal.Zero
	taxTotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.Amount)
		taxTotal = taxTotal.Add(item.TaxAmount)
	}
	return InvoiceTotals{
		Subtotal: subtotal,
		TaxTotal: taxTotal,
		Total:    subtotal.Add(taxTotal),
	}
}
