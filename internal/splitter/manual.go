// Package splitter turns a receipt plus splitting instructions into a
// calculated bill split. Two collection styles exist: per-item participant
// number selections and a natural language conversation with an oracle.
package splitter

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"splitmybill/internal/receipt"
	"splitmybill/internal/split"
)

// ParseSelection reads one item's split selection. Empty input selects
// everyone. "1,2" and "1, 2" are comma forms; without commas every digit is
// a participant number, so "12" means 1 and 2. The digit form caps the
// roster at 9 participants; larger groups must use commas.
func ParseSelection(input string, n int) ([]int, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return allIndices(n), nil
	}

	var parts []string
	if strings.Contains(input, ",") {
		for _, p := range strings.Split(input, ",") {
			parts = append(parts, strings.TrimSpace(p))
		}
	} else {
		for _, r := range strings.ReplaceAll(input, " ", "") {
			parts = append(parts, string(r))
		}
	}

	seen := make(map[int]bool)
	var indices []int
	for _, part := range parts {
		if part == "" {
			continue
		}
		idx, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid split selection %q", input)
		}
		if idx < 1 || idx > n {
			return nil, fmt.Errorf("participant number %d is out of range 1-%d", idx, n)
		}
		if !seen[idx] {
			seen[idx] = true
			indices = append(indices, idx)
		}
	}
	if len(indices) == 0 {
		return nil, fmt.Errorf("invalid split selection %q", input)
	}

	sort.Ints(indices)
	return indices, nil
}

func allIndices(n int) []int {
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i + 1
	}
	return indices
}

// Assign classifies each receipt item by the selection choose returns for
// it. Selecting every participant makes an item common; any subset divides
// the subtotal evenly and appends one duplicate per selected person. The
// returned split already has its shares calculated.
func Assign(r *receipt.Receipt, participants []string, choose func(receipt.Item) ([]int, error)) (*split.BillSplit, error) {
	var common []receipt.Item
	separate := make(map[string][]receipt.Item, len(participants))
	for _, person := range participants {
		separate[person] = []receipt.Item{}
	}

	for _, item := range r.Items {
		indices, err := choose(item)
		if err != nil {
			return nil, err
		}
		if len(indices) == 0 {
			return nil, fmt.Errorf("no participants selected for item %q", item.Name)
		}

		if len(indices) == len(participants) {
			common = append(common, item)
			continue
		}

		share := item.Subtotal.Div(decimal.NewFromInt(int64(len(indices))))
		for _, idx := range indices {
			if idx < 1 || idx > len(participants) {
				return nil, fmt.Errorf("participant number %d is out of range 1-%d", idx, len(participants))
			}
			dup := item
			dup.Subtotal = share
			separate[participants[idx-1]] = append(separate[participants[idx-1]], dup)
		}
	}

	b, err := split.New(common, separate, participants)
	if err != nil {
		return nil, err
	}
	if err := b.CalculateShares(r); err != nil {
		return nil, err
	}
	return b, nil
}
