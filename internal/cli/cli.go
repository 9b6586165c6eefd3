// Package cli implements the interactive terminal flow: extract a receipt,
// collect the split item by item or through the splitting assistant, then
// show the breakdown.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"splitmybill/internal/extract"
	"splitmybill/internal/llm"
	"splitmybill/internal/receipt"
	"splitmybill/internal/render"
	"splitmybill/internal/split"
	"splitmybill/internal/splitter"
	"splitmybill/internal/splitwise"
)

const splitInstructions = "\nEnter the split for each item as comma-separated " +
	"values with values indicating which person wants the item. " +
	"An empty split string indicates that all people want the item.\n"

const assistantInstructions = `
Please describe how you want to split the bill. You can use natural language.
For example:
    - "Split everything equally between all participants"
    - "Alice and Bob share the pizza, everyone splits the appetizers"
    - "The coffee is just for Charlie, split everything else equally"

Enter your splitting instructions:`

// OracleFactory builds the LLM provider on first use so that runs which
// never need one (HTML receipt, manual split) work without an API key.
type OracleFactory func() (llm.Provider, error)

// Options configures an App beyond its input and output streams.
type Options struct {
	// Assistant switches the split collection from per-item prompts to
	// natural-language instructions.
	Assistant bool

	// MaxTurns bounds the assistant conversation. Zero keeps the default.
	MaxTurns int

	// Splitwise, when set, pushes the finished split as an expense.
	Splitwise *splitwise.Client
}

// App wires extraction, split collection and rendering behind a terminal
// prompt.
type App struct {
	in        *bufio.Reader
	out       io.Writer
	newOracle OracleFactory
	opts      Options

	oracle llm.Provider
}

// New creates an App reading prompts from in and writing to out.
func New(in io.Reader, out io.Writer, newOracle OracleFactory, opts Options) *App {
	return &App{
		in:        bufio.NewReader(in),
		out:       out,
		newOracle: newOracle,
		opts:      opts,
	}
}

// Close releases the LLM provider if one was built.
func (a *App) Close() error {
	if a.oracle == nil {
		return nil
	}
	return a.oracle.Close()
}

// Run splits the bill at billPath end to end. parserOverride forces a
// specific extractor; empty means detect from the file.
func (a *App) Run(ctx context.Context, billPath, parserOverride string) error {
	data, err := os.ReadFile(billPath)
	if err != nil {
		return fmt.Errorf("reading bill file: %w", err)
	}

	kind, err := resolveKind(billPath, data, parserOverride)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Using %s parser\n", kind)

	extractor, err := a.extractor(kind, billPath, data)
	if err != nil {
		return err
	}

	rec, err := extractor.Extract(ctx)
	if err != nil {
		return err
	}
	receipt.LogWarnings(slog.Default(), receipt.CheckArithmetic(rec))

	b, err := a.collectSplit(ctx, rec)
	if err != nil {
		return err
	}

	if err := render.New(a.out).Display(b, rec); err != nil {
		return err
	}

	a.pushToSplitwise(ctx, billPath, b)
	return nil
}

func resolveKind(path string, data []byte, override string) (extract.Kind, error) {
	switch override {
	case "":
		return extract.Detect(path, data)
	case string(extract.KindInstacart):
		return extract.KindInstacart, nil
	case string(extract.KindVision):
		return extract.KindVision, nil
	default:
		return "", fmt.Errorf("unknown parser %q (supported: instacart, vision)", override)
	}
}

func (a *App) extractor(kind extract.Kind, path string, data []byte) (extract.Extractor, error) {
	switch kind {
	case extract.KindInstacart:
		return extract.NewInstacart(data), nil
	case extract.KindVision:
		oracle, err := a.getOracle()
		if err != nil {
			return nil, err
		}
		return extract.NewVision(data, extract.MIMEFromPath(path), oracle), nil
	default:
		return nil, fmt.Errorf("no extractor for %q", kind)
	}
}

func (a *App) getOracle() (llm.Provider, error) {
	if a.oracle != nil {
		return a.oracle, nil
	}
	if a.newOracle == nil {
		return nil, fmt.Errorf("no LLM provider configured")
	}

	oracle, err := a.newOracle()
	if err != nil {
		return nil, err
	}
	a.oracle = oracle
	return oracle, nil
}

func (a *App) collectSplit(ctx context.Context, rec *receipt.Receipt) (*split.BillSplit, error) {
	participants, err := a.collectParticipants()
	if err != nil {
		return nil, err
	}

	if a.opts.Assistant {
		return a.assistantSplit(ctx, rec, participants)
	}
	return a.manualSplit(rec, participants)
}

func (a *App) collectParticipants() ([]string, error) {
	fmt.Fprintln(a.out, "\nEnter participant names (empty line to finish):")

	var participants []string
	for {
		name, err := a.prompt("Name: ")
		if err != nil {
			return nil, err
		}
		name = strings.TrimSpace(name)

		if name == "" {
			if len(participants) < 2 {
				fmt.Fprintln(a.out, "Error: At least 2 participants are required")
				continue
			}
			return participants, nil
		}
		if slices.Contains(participants, name) {
			fmt.Fprintf(a.out, "Error: %s is already added\n", name)
			continue
		}
		participants = append(participants, name)
	}
}

func (a *App) manualSplit(rec *receipt.Receipt, participants []string) (*split.BillSplit, error) {
	a.displaySplitInstructions(participants)

	return splitter.Assign(rec, participants, func(item receipt.Item) ([]int, error) {
		return a.promptItemSelection(item, len(participants))
	})
}

func (a *App) promptItemSelection(item receipt.Item, n int) ([]int, error) {
	for {
		answer, err := a.prompt(itemPrompt(item))
		if err != nil {
			return nil, err
		}

		indices, err := splitter.ParseSelection(answer, n)
		if err == nil {
			return indices, nil
		}

		fmt.Fprintln(a.out, "\nError: Invalid split format")
		a.displaySelectionHelp(n)
	}
}

// itemPrompt builds prompts like "Pizza x 2 @ $10.00 (Total: $20.00): ",
// leaving out the quantity and unit price when the receipt has none.
func itemPrompt(item receipt.Item) string {
	parts := []string{item.Name}
	if item.Quantity != nil {
		parts = append(parts, "x "+item.Quantity.String())
	}
	if item.UnitPrice != nil {
		parts = append(parts, "@ $"+item.UnitPrice.StringFixed(2))
	}
	parts = append(parts, "(Total: $"+item.Subtotal.StringFixed(2)+")")
	return strings.Join(parts, " ") + ": "
}

func (a *App) displaySplitInstructions(participants []string) {
	divider := strings.Repeat("-", 50)

	fmt.Fprintln(a.out, "\nBill Split Instructions:")
	fmt.Fprintln(a.out, divider)
	fmt.Fprintln(a.out, splitInstructions)
	fmt.Fprintln(a.out, "Participants:")
	for i, name := range participants {
		fmt.Fprintf(a.out, "%d. %s\n", i+1, name)
	}
	fmt.Fprintln(a.out, "\nValid input formats:")
	fmt.Fprintln(a.out, "- Empty input (press Enter): Everyone shares the item")
	fmt.Fprintln(a.out, "- Single numbers: '1' or '1,2' or '1, 2'")
	fmt.Fprintln(a.out, "- Consecutive numbers without commas: '12' means participants 1 and 2")
	fmt.Fprintln(a.out, divider)
}

func (a *App) displaySelectionHelp(n int) {
	fmt.Fprintln(a.out, "\nPlease enter:")
	fmt.Fprintln(a.out, "- Nothing (press Enter) if everyone shares the item")
	fmt.Fprintln(a.out, "- Numbers corresponding to participants (e.g., '1,2' or '12')")
	fmt.Fprintf(a.out, "- Valid participant numbers are: %s\n\n", formatIndices(n))
}

func formatIndices(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = strconv.Itoa(i + 1)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (a *App) assistantSplit(ctx context.Context, rec *receipt.Receipt, participants []string) (*split.BillSplit, error) {
	oracle, err := a.getOracle()
	if err != nil {
		return nil, err
	}

	conv := splitter.NewConversation(rec, oracle)
	if a.opts.MaxTurns > 0 {
		conv.SetMaxTurns(a.opts.MaxTurns)
	}
	for _, name := range participants {
		if err := conv.AddParticipant(name); err != nil {
			return nil, err
		}
	}
	if err := conv.BeginInstructions(); err != nil {
		return nil, err
	}

	fmt.Fprintln(a.out, assistantInstructions)
	for {
		instructions, err := a.prompt("> ")
		if err != nil {
			return nil, err
		}

		outcome, err := conv.Instruct(ctx, strings.TrimSpace(instructions))
		if err != nil {
			return nil, err
		}
		if outcome.Split != nil {
			return outcome.Split, nil
		}

		fmt.Fprintf(a.out, "\n%s\n", outcome.Question)
	}
}

func (a *App) pushToSplitwise(ctx context.Context, billPath string, b *split.BillSplit) {
	if a.opts.Splitwise == nil {
		return
	}

	description := "splitmybill: " + filepath.Base(billPath)
	id, err := a.opts.Splitwise.CreateExpense(ctx, description, b)
	if err != nil {
		slog.Error("Failed to create Splitwise expense", "error", err)
		return
	}
	slog.Info("Created Splitwise expense", "id", id)
}

func (a *App) prompt(label string) (string, error) {
	fmt.Fprint(a.out, label)

	line, err := a.in.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
