package extract

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"

	"splitmybill/internal/receipt"
)

// Instacart order pages carry three tables identified by class: adjustments
// (replaced and refunded items), delivered items and charges.
const (
	adjustedItemsTable = "table.items.adjustments"
	foundItemsTable    = "table.items.delivered"
	chargesTable       = "table.charges"

	itemBlockSel          = ".item-block"
	itemWantedNameSel     = ".item-wanted .item-name"
	itemDeliveredNameSel  = ".item-delivered .item-name"
	itemDeliveredPriceSel = ".item-delivered .total"
	itemNameSel           = ".item-name"
	itemQuantitySel       = ".item-name .muted"
	itemPriceSel          = ".item-price .total"
	chargeTypeSel         = ".charge-type"
	chargeAmountSel       = ".amount"
)

// freeDeliveryCharge is promotional noise in the charges table, not a fee.
const freeDeliveryCharge = "Instacart+ Member Free Delivery!"

// Instacart parses an Instacart order page into a receipt.
type Instacart struct {
	data []byte
}

// NewInstacart builds the HTML adapter over raw page bytes.
func NewInstacart(data []byte) *Instacart {
	return &Instacart{data: data}
}

// IsInstacartHTML reports whether the HTML looks like an Instacart order
// page. Two of the three table markers are enough; older orders have no
// adjustments table.
func IsInstacartHTML(data []byte) bool {
	text := string(data)

	matches := 0
	for _, marker := range []string{"items adjustments", "items delivered", "charges"} {
		if strings.Contains(text, marker) {
			matches++
		}
	}
	return matches >= 2
}

// Extract parses the order page.
func (p *Instacart) Extract(_ context.Context) (*receipt.Receipt, error) {
	r, err := p.parse()
	if err != nil {
		return nil, &Error{Source: KindInstacart, Err: err}
	}

	receipt.LogWarnings(slog.Default(), r.Validate())
	return r, nil
}

func (p *Instacart) parse() (*receipt.Receipt, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(p.data))
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}

	adjusted, err := parseAdjustedItems(doc)
	if err != nil {
		return nil, err
	}

	found, err := parseFoundItems(doc)
	if err != nil {
		return nil, err
	}

	taxes, subtotal, total, err := parseCharges(doc)
	if err != nil {
		return nil, err
	}

	return &receipt.Receipt{
		Items:    append(adjusted, found...),
		Taxes:    taxes,
		Subtotal: subtotal,
		Total:    total,
	}, nil
}

// parseAdjustedItems reads the adjustments table. Replaced items keep both
// names as "REPLACED:<wanted>-><delivered>"; refunded blocks never reach the
// split.
func parseAdjustedItems(doc *goquery.Document) ([]receipt.Item, error) {
	table := doc.Find(adjustedItemsTable)
	if table.Length() == 0 {
		return nil, nil
	}

	var items []receipt.Item
	var parseErr error

	table.Find(itemBlockSel).EachWithBreak(func(_ int, block *goquery.Selection) bool {
		text := block.Text()

		var item receipt.Item
		var err error
		switch {
		case strings.Contains(text, "weight adjustment"):
			item, err = parseWeightAdjustedItem(block)
		case strings.Contains(text, "Refunded amount"):
			return true
		default:
			item, err = parseReplacedItem(block)
		}
		if err != nil {
			parseErr = err
			return false
		}

		items = append(items, item)
		return true
	})

	return items, parseErr
}

// parseWeightAdjustedItem handles weighed goods delivered at a different
// weight than ordered. The adjustment line reads "Adjustment <ordered> kg to
// <delivered> kg" and the delivered weight becomes the quantity.
func parseWeightAdjustedItem(block *goquery.Selection) (receipt.Item, error) {
	lines := textLines(block.Find(itemNameSel).First())
	if len(lines) == 0 {
		return receipt.Item{}, fmt.Errorf("weight adjusted item has no name")
	}
	name := lines[0]

	var original, adjusted string
	for _, line := range lines {
		if !strings.Contains(line, "Adjustment") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 5 {
			return receipt.Item{}, fmt.Errorf("unparseable weight adjustment line %q", line)
		}
		original = fields[1]
		adjusted = fields[4]
	}
	if adjusted == "" {
		return receipt.Item{}, fmt.Errorf("no adjustment line for item %q", name)
	}

	quantity, err := decimal.NewFromString(adjusted)
	if err != nil {
		return receipt.Item{}, fmt.Errorf("parsing adjusted quantity %q: %w", adjusted, err)
	}

	subtotal, err := lastUnstruckPrice(block.Find(itemDeliveredPriceSel))
	if err != nil {
		return receipt.Item{}, fmt.Errorf("item %q: %w", name, err)
	}

	return receipt.Item{
		Name:     fmt.Sprintf("REPLACED:%s (%s)->%s (%s)", name, original, name, adjusted),
		Quantity: &quantity,
		Subtotal: subtotal,
		Metadata: map[string]string{"weight_unit": "kg"},
	}, nil
}

// parseReplacedItem handles items the shopper swapped for something else.
func parseReplacedItem(block *goquery.Selection) (receipt.Item, error) {
	wanted := firstLine(block.Find(itemWantedNameSel).First().Text())
	delivered := firstLine(block.Find(itemDeliveredNameSel).First().Text())
	if wanted == "" || delivered == "" {
		return receipt.Item{}, fmt.Errorf("replaced item is missing a name")
	}

	qtyText, _, _ := strings.Cut(block.Find(itemQuantitySel).First().Text(), "x")
	quantity, err := decimal.NewFromString(strings.TrimSpace(qtyText))
	if err != nil {
		return receipt.Item{}, fmt.Errorf("parsing quantity for %q: %w", delivered, err)
	}

	subtotal, err := parsePrice(block.Find(itemDeliveredPriceSel).First().Text())
	if err != nil {
		return receipt.Item{}, fmt.Errorf("item %q: %w", delivered, err)
	}

	return receipt.Item{
		Name:     fmt.Sprintf("REPLACED:%s->%s", wanted, delivered),
		Quantity: &quantity,
		Subtotal: subtotal,
	}, nil
}

func parseFoundItems(doc *goquery.Document) ([]receipt.Item, error) {
	table := doc.Find(foundItemsTable)
	if table.Length() == 0 {
		return nil, fmt.Errorf("missing delivered items table")
	}

	var items []receipt.Item
	var parseErr error

	table.Find(itemBlockSel).EachWithBreak(func(_ int, block *goquery.Selection) bool {
		item, err := parseFoundItem(block)
		if err != nil {
			parseErr = err
			return false
		}
		items = append(items, item)
		return true
	})

	return items, parseErr
}

func parseFoundItem(block *goquery.Selection) (receipt.Item, error) {
	name := firstLine(block.Find(itemNameSel).First().Text())
	if name == "" {
		return receipt.Item{}, fmt.Errorf("delivered item has no name")
	}

	subtotal, err := lastUnstruckPrice(block.Find(itemPriceSel))
	if err != nil {
		return receipt.Item{}, fmt.Errorf("item %q: %w", name, err)
	}

	qtyText, _, _ := strings.Cut(block.Find(itemQuantitySel).First().Text(), "x")
	fields := strings.Fields(qtyText)
	if len(fields) == 0 {
		return receipt.Item{}, fmt.Errorf("item %q has no quantity", name)
	}

	// Weighed goods show up as "0.74 kg x" instead of a bare count
	var metadata map[string]string
	if len(fields) > 1 {
		metadata = map[string]string{"weight_unit": fields[1]}
	}

	quantity, err := decimal.NewFromString(fields[0])
	if err != nil {
		return receipt.Item{}, fmt.Errorf("parsing quantity for %q: %w", name, err)
	}

	return receipt.Item{
		Name:     name,
		Quantity: &quantity,
		Subtotal: subtotal,
		Metadata: metadata,
	}, nil
}

// parseCharges reads the charges table. "Items Subtotal" and "Total CAD"
// become the receipt subtotal and total; every other row is a tax or fee.
func parseCharges(doc *goquery.Document) ([]receipt.Tax, decimal.Decimal, decimal.Decimal, error) {
	table := doc.Find(chargesTable)
	if table.Length() == 0 {
		return nil, decimal.Decimal{}, decimal.Decimal{}, fmt.Errorf("missing charges table")
	}

	var (
		taxes                   []receipt.Tax
		subtotal, total         decimal.Decimal
		haveSubtotal, haveTotal bool
		parseErr                error
	)

	table.Find("tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		chargeType := strings.TrimSpace(row.Find(chargeTypeSel).First().Text())
		if chargeType == "" || chargeType == freeDeliveryCharge {
			return true
		}

		amount, err := parsePrice(row.Find(chargeAmountSel).First().Text())
		if err != nil {
			parseErr = fmt.Errorf("charge %q: %w", chargeType, err)
			return false
		}

		switch chargeType {
		case "Items Subtotal":
			subtotal = amount
			haveSubtotal = true
		case "Total CAD":
			total = amount
			haveTotal = true
		default:
			taxes = append(taxes, receipt.Tax{Name: chargeType, Total: amount})
		}
		return true
	})
	if parseErr != nil {
		return nil, decimal.Decimal{}, decimal.Decimal{}, parseErr
	}

	if !haveSubtotal {
		return nil, decimal.Decimal{}, decimal.Decimal{}, fmt.Errorf("charges table has no Items Subtotal row")
	}
	if !haveTotal {
		return nil, decimal.Decimal{}, decimal.Decimal{}, fmt.Errorf("charges table has no Total CAD row")
	}

	return taxes, subtotal, total, nil
}

// lastUnstruckPrice takes the last price not struck through. Sale items show
// the original price struck out next to the charged one.
func lastUnstruckPrice(prices *goquery.Selection) (decimal.Decimal, error) {
	var raw string
	prices.Each(func(_ int, price *goquery.Selection) {
		if price.HasClass("strike") {
			return
		}
		raw = price.Text()
	})
	if strings.TrimSpace(raw) == "" {
		return decimal.Decimal{}, fmt.Errorf("no price found")
	}
	return parsePrice(raw)
}

func parsePrice(text string) (decimal.Decimal, error) {
	text = strings.TrimPrefix(strings.TrimSpace(text), "$")
	d, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parsing price %q: %w", text, err)
	}
	return d, nil
}

func firstLine(text string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	return strings.TrimSpace(line)
}

func textLines(sel *goquery.Selection) []string {
	var lines []string
	for _, line := range strings.Split(strings.TrimSpace(sel.Text()), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
