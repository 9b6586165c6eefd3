package receipt

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
)

// arithmeticTolerance is the allowed drift between quantity*unit_price and
// the stated subtotal before CheckArithmetic reports an item.
var arithmeticTolerance = decimal.RequireFromString("0.01")

// Item represents a single purchased line on a receipt. Quantity and
// UnitPrice are optional; weighed goods carry fractional quantities.
type Item struct {
	Name      string            `json:"name"`
	Quantity  *decimal.Decimal  `json:"quantity,omitempty"`
	UnitPrice *decimal.Decimal  `json:"unit_price,omitempty"`
	Subtotal  decimal.Decimal   `json:"subtotal"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Tax represents a tax, fee or discount line on a receipt. Total is negative
// for discounts.
type Tax struct {
	Name     string            `json:"name"`
	Rate     *int              `json:"rate,omitempty"`
	Total    decimal.Decimal   `json:"total"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Receipt represents a fully parsed bill: items, tax and fee lines, and the
// store's own subtotal and total. Extraction adapters construct receipts;
// everything downstream treats them as read-only.
type Receipt struct {
	Items    []Item            `json:"items"`
	Taxes    []Tax             `json:"taxes_and_fees"`
	Subtotal decimal.Decimal   `json:"subtotal"`
	Total    decimal.Decimal   `json:"total"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Warning flags a suspect value found during validation. Receipts come from
// scraping and vision models, so suspect values are reported and kept, never
// rejected.
type Warning struct {
	Field  string `json:"field"`
	Name   string `json:"name"`
	Detail string `json:"detail"`
}

// Validate reports non-positive quantity, unit price and subtotal values.
// The item itself is left untouched.
func (i Item) Validate() []Warning {
	var warnings []Warning
	if i.Quantity != nil && !i.Quantity.IsPositive() {
		warnings = append(warnings, Warning{
			Field:  "quantity",
			Name:   i.Name,
			Detail: fmt.Sprintf("invalid quantity: %s", i.Quantity),
		})
	}
	if i.UnitPrice != nil && !i.UnitPrice.IsPositive() {
		warnings = append(warnings, Warning{
			Field:  "unit_price",
			Name:   i.Name,
			Detail: fmt.Sprintf("invalid unit price: %s", i.UnitPrice),
		})
	}
	if !i.Subtotal.IsPositive() {
		warnings = append(warnings, Warning{
			Field:  "subtotal",
			Name:   i.Name,
			Detail: fmt.Sprintf("invalid subtotal: %s", i.Subtotal),
		})
	}
	return warnings
}

// Validate reports a tax rate outside 0-100 and a negative total.
func (t Tax) Validate() []Warning {
	var warnings []Warning
	if t.Rate != nil && (*t.Rate < 0 || *t.Rate > 100) {
		warnings = append(warnings, Warning{
			Field:  "rate",
			Name:   t.Name,
			Detail: fmt.Sprintf("invalid rate: %d, expected between 0 and 100", *t.Rate),
		})
	}
	if t.Total.IsNegative() {
		warnings = append(warnings, Warning{
			Field:  "total",
			Name:   t.Name,
			Detail: fmt.Sprintf("negative amount: %s", t.Total),
		})
	}
	return warnings
}

// Validate reports suspect values across every item and tax line.
func (r *Receipt) Validate() []Warning {
	var warnings []Warning
	for _, item := range r.Items {
		warnings = append(warnings, item.Validate()...)
	}
	for _, tax := range r.Taxes {
		warnings = append(warnings, tax.Validate()...)
	}
	return warnings
}

// CheckArithmetic reports items whose quantity times unit price strays from
// the stated subtotal by more than 0.01. Weighed goods routinely round the
// advertised unit price, so callers opt in per source.
func CheckArithmetic(r *Receipt) []Warning {
	var warnings []Warning
	for _, item := range r.Items {
		if item.Quantity == nil || item.UnitPrice == nil {
			continue
		}
		expected := item.Quantity.Mul(*item.UnitPrice)
		if expected.Sub(item.Subtotal).Abs().GreaterThan(arithmeticTolerance) {
			warnings = append(warnings, Warning{
				Field: "subtotal",
				Name:  item.Name,
				Detail: fmt.Sprintf("subtotal %s does not match quantity %s x unit price %s = %s",
					item.Subtotal, item.Quantity, item.UnitPrice, expected),
			})
		}
	}
	return warnings
}

// PretaxItemTotal sums the subtotals of all items on the receipt.
func (r *Receipt) PretaxItemTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range r.Items {
		total = total.Add(item.Subtotal)
	}
	return total
}

// TotalTax sums every tax, fee and discount line on the receipt.
func (r *Receipt) TotalTax() decimal.Decimal {
	total := decimal.Zero
	for _, tax := range r.Taxes {
		total = total.Add(tax.Total)
	}
	return total
}

// LogWarnings emits each warning through the logger at warn level.
func LogWarnings(log *slog.Logger, warnings []Warning) {
	for _, w := range warnings {
		log.Warn("Suspect receipt value", "name", w.Name, "field", w.Field, "detail", w.Detail)
	}
}
