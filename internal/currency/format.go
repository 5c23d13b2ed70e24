// Package currency renders decimal amounts for display.
//
// Amounts computed by the billing core are exact. Rounding to a currency's
// minor unit happens here, when a value is turned into text, and never feeds
// back into stored values.
package currency

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"billing/internal/cache"
)

const printerCacheSize = 32

// Formatter renders amounts in a default locale. It is safe for concurrent use.
type Formatter struct {
	lang     language.Tag
	printers *cache.LRUCache[*message.Printer]
}

func NewFormatter(locale string) (*Formatter, error) {
	tag, err := ParseLocale(locale)
	if err != nil {
		return nil, err
	}
	return &Formatter{
		lang:     tag,
		printers: cache.NewLRUCache[*message.Printer](printerCacheSize, 0),
	}, nil
}

// Unit resolves an ISO 4217 code.
func Unit(code string) (currency.Unit, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return currency.Unit{}, fmt.Errorf("unknown currency %q: %w", code, err)
	}
	return unit, nil
}

// Scale reports the number of minor-unit digits of a currency.
func Scale(code string) (int, error) {
	unit, err := Unit(code)
	if err != nil {
		return 0, err
	}
	scale, _ := currency.Standard.Rounding(unit)
	return scale, nil
}

// Round rounds half away from zero to the currency's standard scale.
func Round(amount decimal.Decimal, code string) (decimal.Decimal, error) {
	scale, err := Scale(code)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Round(int32(scale)), nil
}

// Format renders amount with the currency symbol in the default locale.
func (f *Formatter) Format(amount decimal.Decimal, code string) (string, error) {
	return f.format(f.lang, amount, code)
}

// FormatIn renders amount in the given locale instead of the default one.
func (f *Formatter) FormatIn(locale string, amount decimal.Decimal, code string) (string, error) {
	tag, err := ParseLocale(locale)
	if err != nil {
		return "", err
	}
	return f.format(tag, amount, code)
}

// FormatHours renders a quantity with at most two fraction digits.
func (f *Formatter) FormatHours(hours decimal.Decimal) string {
	return f.printer(f.lang).Sprint(number.Decimal(hours.InexactFloat64(), number.MaxFractionDigits(2)))
}

func (f *Formatter) format(tag language.Tag, amount decimal.Decimal, code string) (string, error) {
	unit, err := Unit(code)
	if err != nil {
		return "", err
	}
	scale, _ := currency.Standard.Rounding(unit)
	// Round on the exact value first so float conversion cannot shift a
	// half-way amount to the other side.
	rounded := amount.Round(int32(scale)).InexactFloat64()
	return f.printer(tag).Sprint(currency.Symbol(unit.Amount(rounded))), nil
}

func (f *Formatter) printer(tag language.Tag) *message.Printer {
	p, _ := f.printers.GetOrLoad(tag.String(), func() (*message.Printer, error) {
		return message.NewPrinter(tag), nil
	})
	return p
}

// ParseLocale parses a BCP 47 tag. An empty locale means English.
func ParseLocale(locale string) (language.Tag, error) {
	if strings.TrimSpace(locale) == "" {
		return language.English, nil
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return language.Und, fmt.Errorf("invalid locale %q: %w", locale, err)
	}
	return tag, nil
}
