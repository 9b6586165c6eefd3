// Package render writes bill split breakdowns: an ASCII layout for
// terminals and a fenced markdown layout for chat messages.
package render

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"

	"splitmybill/internal/receipt"
	"splitmybill/internal/split"
)

// totalTolerance is how far the summed shares may drift from the receipt
// total before the warning prints.
var totalTolerance = decimal.RequireFromString("0.01")

// Renderer writes the terminal breakdown.
type Renderer struct {
	out io.Writer
}

// New builds a renderer writing to out.
func New(out io.Writer) *Renderer {
	return &Renderer{out: out}
}

// Display writes the full breakdown: common items, separate items, the tax
// breakdown, final totals and, when the summed shares drift from the receipt
// total, a warning.
func (r *Renderer) Display(b *split.BillSplit, rec *receipt.Receipt) error {
	shares, err := loadShares(b)
	if err != nil {
		return err
	}

	r.commonSection(b)
	r.separateSection(b)

	fmt.Fprintln(r.out, "\nTAX BREAKDOWN:")
	r.table(taxHeader(), taxRows(b, shares))

	fmt.Fprintln(r.out, "\nFINAL TOTALS:")
	for _, person := range b.Participants {
		fmt.Fprintf(r.out, "%s: %s\n", person, money(shares.total[person]))
	}

	r.warning(b, rec, shares)
	return nil
}

func (r *Renderer) commonSection(b *split.BillSplit) {
	if len(b.CommonItems) == 0 {
		fmt.Fprintln(r.out, "\nNo common items")
		return
	}

	fmt.Fprintln(r.out, "\nCOMMON ITEMS:")
	r.table(commonHeader(), commonRows(b))
}

func (r *Renderer) separateSection(b *split.BillSplit) {
	if len(b.SeparateItems) == 0 {
		return
	}
	if !hasSeparateItems(b) {
		fmt.Fprintln(r.out, "\nNo separate items")
		return
	}

	fmt.Fprintln(r.out, "\nSEPARATE ITEMS:")
	r.table(separateHeader(b), separateRows(b))
}

func (r *Renderer) warning(b *split.BillSplit, rec *receipt.Receipt, shares *shareMaps) {
	calculated := decimal.Zero
	for _, person := range b.Participants {
		calculated = calculated.Add(shares.total[person])
	}

	if calculated.Sub(rec.Total).Abs().GreaterThan(totalTolerance) {
		fmt.Fprintln(r.out, "\nWARNING: Total bill amount differs from receipt total")
		fmt.Fprintf(r.out, "Calculated total: %s\n", money(calculated))
		fmt.Fprintf(r.out, "Receipt total: %s\n", money(rec.Total))
	}
}

func (r *Renderer) table(header []string, rows [][]string) {
	writeTable(r.out, header, rows, false)
}

// TablesMessage renders the breakdown tables fenced for a markdown chat
// message. Empty sections are left out entirely.
func TablesMessage(b *split.BillSplit) (string, error) {
	shares, err := loadShares(b)
	if err != nil {
		return "", err
	}

	var messages []string
	if len(b.CommonItems) > 0 {
		messages = append(messages, fencedTable("COMMON ITEMS:", commonHeader(), commonRows(b)))
	}
	if hasSeparateItems(b) {
		messages = append(messages, fencedTable("SEPARATE ITEMS:", separateHeader(b), separateRows(b)))
	}
	messages = append(messages, fencedTable("TAX BREAKDOWN:", taxHeader(), taxRows(b, shares)))

	return strings.Join(messages, "\n\n"), nil
}

// FinalTotalsMessage renders the final totals block for a chat message.
func FinalTotalsMessage(b *split.BillSplit) (string, error) {
	totals, err := b.TotalShares()
	if err != nil {
		return "", err
	}

	lines := []string{"FINAL TOTALS:"}
	for _, person := range b.Participants {
		lines = append(lines, fmt.Sprintf("%s: %s", person, money(totals[person])))
	}
	return strings.Join(lines, "\n"), nil
}

func fencedTable(title string, header []string, rows [][]string) string {
	var buf bytes.Buffer
	writeTable(&buf, header, rows, true)
	return title + "\n```\n" + buf.String() + "```"
}

func writeTable(out io.Writer, header []string, rows [][]string, markdown bool) {
	table := tablewriter.NewWriter(out)
	table.SetHeader(header)
	table.SetAutoFormatHeaders(false)
	if markdown {
		table.SetBorders(tablewriter.Border{Left: true, Top: false, Right: true, Bottom: false})
		table.SetCenterSeparator("|")
	}
	for _, row := range rows {
		table.Append(row)
	}
	table.Render()
}

type shareMaps struct {
	pretax map[string]decimal.Decimal
	tax    map[string]decimal.Decimal
	total  map[string]decimal.Decimal
}

func loadShares(b *split.BillSplit) (*shareMaps, error) {
	pretax, err := b.PretaxShares()
	if err != nil {
		return nil, err
	}
	tax, err := b.TaxShares()
	if err != nil {
		return nil, err
	}
	total, err := b.TotalShares()
	if err != nil {
		return nil, err
	}
	return &shareMaps{pretax: pretax, tax: tax, total: total}, nil
}

func commonHeader() []string {
	return []string{"Common Items", "Price", "Per Person"}
}

func commonRows(b *split.BillSplit) [][]string {
	n := decimal.NewFromInt(int64(len(b.Participants)))

	var rows [][]string
	for _, item := range b.CommonItems {
		rows = append(rows, []string{
			item.Name,
			money(item.Subtotal),
			money(item.Subtotal.Div(n)),
		})
	}
	return rows
}

func separateHeader(b *split.BillSplit) []string {
	return append([]string{"Separate Items"}, b.Participants...)
}

// separateRows shows one row per distinct item name with each person's
// summed share. Duplicated per-sharer items collapse back into one line.
func separateRows(b *split.BillSplit) [][]string {
	nameSet := make(map[string]bool)
	for _, items := range b.SeparateItems {
		for _, item := range items {
			nameSet[item.Name] = true
		}
	}

	names := make([]string, 0, len(nameSet))
	for name := range nameSet {
		names = append(names, name)
	}
	sort.Strings(names)

	var rows [][]string
	for _, name := range names {
		row := []string{name}
		for _, person := range b.Participants {
			amount := decimal.Zero
			for _, item := range b.SeparateItems[person] {
				if item.Name == name {
					amount = amount.Add(item.Subtotal)
				}
			}
			row = append(row, money(amount))
		}
		rows = append(rows, row)
	}
	return rows
}

func taxHeader() []string {
	return []string{"Person", "Pretax Amount", "Tax Share", "Total"}
}

func taxRows(b *split.BillSplit, shares *shareMaps) [][]string {
	var rows [][]string

	totalPretax := decimal.Zero
	totalTax := decimal.Zero
	totalFinal := decimal.Zero

	for _, person := range b.Participants {
		rows = append(rows, []string{
			person,
			money(shares.pretax[person]),
			money(shares.tax[person]),
			money(shares.total[person]),
		})
		totalPretax = totalPretax.Add(shares.pretax[person])
		totalTax = totalTax.Add(shares.tax[person])
		totalFinal = totalFinal.Add(shares.total[person])
	}

	rows = append(rows, []string{"TOTAL", money(totalPretax), money(totalTax), money(totalFinal)})
	return rows
}

func hasSeparateItems(b *split.BillSplit) bool {
	for _, items := range b.SeparateItems {
		if len(items) > 0 {
			return true
		}
	}
	return false
}

func money(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}
