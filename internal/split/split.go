package split

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"splitmybill/internal/receipt"
)

var (
	// ErrNotCalculated is returned by the share accessors before
	// CalculateShares has run.
	ErrNotCalculated = errors.New("shares not calculated, call CalculateShares first")

	// ErrZeroPretaxTotal is returned when tax cannot be distributed because
	// the combined pretax share is zero.
	ErrZeroPretaxTotal = errors.New("combined pretax total is zero")
)

// BillSplit assigns every receipt item either to all participants equally
// (common) or to specific participants (separate). An item shared by a
// subset of participants appears once per sharer in SeparateItems with its
// subtotal already divided. The struct is assembled once and mutated only by
// CalculateShares.
type BillSplit struct {
	CommonItems   []receipt.Item            `json:"common_items,omitempty"`
	SeparateItems map[string][]receipt.Item `json:"separate_items,omitempty"`
	Participants  []string                  `json:"participants"`

	// nil until CalculateShares runs
	shares *shares
}

type shares struct {
	pretax map[string]decimal.Decimal
	tax    map[string]decimal.Decimal
	total  map[string]decimal.Decimal
}

// New builds a BillSplit after validating the participant roster: at least
// two names, no duplicates, and every SeparateItems key among them.
func New(common []receipt.Item, separate map[string][]receipt.Item, participants []string) (*BillSplit, error) {
	if len(participants) < 2 {
		return nil, fmt.Errorf("at least 2 participants are required, got %d", len(participants))
	}
	seen := make(map[string]bool, len(participants))
	for _, name := range participants {
		if seen[name] {
			return nil, fmt.Errorf("duplicate participant %q", name)
		}
		seen[name] = true
	}
	for name := range separate {
		if !seen[name] {
			return nil, fmt.Errorf("separate items assigned to unknown participant %q", name)
		}
	}

	return &BillSplit{
		CommonItems:   common,
		SeparateItems: separate,
		Participants:  participants,
	}, nil
}

// CalculateShares computes each participant's pretax, tax and total share
// against the receipt. Tax and fees are distributed proportionally to pretax
// consumption, discount lines included. Running it again recomputes the same
// result.
func (b *BillSplit) CalculateShares(r *receipt.Receipt) error {
	pretax := b.pretaxShares()

	totalPretax := decimal.Zero
	for _, share := range pretax {
		totalPretax = totalPretax.Add(share)
	}
	if totalPretax.IsZero() {
		return ErrZeroPretaxTotal
	}

	totalTax := r.TotalTax()
	tax := make(map[string]decimal.Decimal, len(b.Participants))
	total := make(map[string]decimal.Decimal, len(b.Participants))
	for _, person := range b.Participants {
		tax[person] = pretax[person].Mul(totalTax).Div(totalPretax)
		total[person] = pretax[person].Add(tax[person])
	}

	b.shares = &shares{pretax: pretax, tax: tax, total: total}
	return nil
}

func (b *BillSplit) pretaxShares() map[string]decimal.Decimal {
	pretax := make(map[string]decimal.Decimal, len(b.Participants))
	for _, person := range b.Participants {
		pretax[person] = decimal.Zero
	}

	if len(b.CommonItems) > 0 {
		commonTotal := decimal.Zero
		for _, item := range b.CommonItems {
			commonTotal = commonTotal.Add(item.Subtotal)
		}
		perPerson := commonTotal.Div(decimal.NewFromInt(int64(len(b.Participants))))
		for _, person := range b.Participants {
			pretax[person] = pretax[person].Add(perPerson)
		}
	}

	for person, items := range b.SeparateItems {
		for _, item := range items {
			pretax[person] = pretax[person].Add(item.Subtotal)
		}
	}

	return pretax
}

// PretaxShares returns each participant's share before tax. It fails until
// CalculateShares has run; an uncalculated split never reads as zero.
func (b *BillSplit) PretaxShares() (map[string]decimal.Decimal, error) {
	if b.shares == nil {
		return nil, ErrNotCalculated
	}
	return b.shares.pretax, nil
}

// TaxShares returns each participant's share of taxes, fees and discounts.
// It fails until CalculateShares has run.
func (b *BillSplit) TaxShares() (map[string]decimal.Decimal, error) {
	if b.shares == nil {
		return nil, ErrNotCalculated
	}
	return b.shares.tax, nil
}

// TotalShares returns each participant's pretax share plus tax share. It
// fails until CalculateShares has run.
func (b *BillSplit) TotalShares() (map[string]decimal.Decimal, error) {
	if b.shares == nil {
		return nil, ErrNotCalculated
	}
	return b.shares.total, nil
}

// PretaxTotal sums every item in the split before tax, counting each
// separate duplicate once.
func (b *BillSplit) PretaxTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range b.CommonItems {
		total = total.Add(item.Subtotal)
	}
	for _, items := range b.SeparateItems {
		for _, item := range items {
			total = total.Add(item.Subtotal)
		}
	}
	return total
}

// CoverageGap reports how much of the receipt's pretax item total the split
// leaves unaccounted for. Positive means receipt items are missing from the
// split.
func (b *BillSplit) CoverageGap(r *receipt.Receipt) decimal.Decimal {
	return r.PretaxItemTotal().Sub(b.PretaxTotal())
}

// Response is the structured answer the splitting assistant returns for one
// instruction turn: a possibly partial split, plus a clarification question
// when information is missing. NeedsClarification false means every receipt
// item is accounted for.
type Response struct {
	SplitResult           *BillSplit `json:"split_result"`
	NeedsClarification    bool       `json:"needs_clarification"`
	ClarificationQuestion string     `json:"clarification_question,omitempty"`
}

// IsComplete reports whether the split needs no further clarification.
func (r *Response) IsComplete() bool {
	return !r.NeedsClarification
}
