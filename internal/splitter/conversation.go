package splitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"splitmybill/internal/llm"
	"splitmybill/internal/receipt"
	"splitmybill/internal/split"
)

const conversationSystemPrompt = `You are an AI assistant that helps split bills between people.

Your task is:
1. Review the receipt items and participant list provided
2. Understand the natural language splitting instructions
3. Create a bill split with:
   - Common items (split equally among all participants)
   - Separate items (split between specific participants)
4. If any items aren't clearly addressed in the instructions, ask for clarification

Rules for splitting:
- Items must be either common (everyone) or separate (specific people)
- For separate items:
  * Create duplicate items for each participant sharing the item
  * Split the cost equally between participants
  * Example: A $20 pizza split between Alice and Bob creates:
    - Pizza (Alice's share) at $10
    - Pizza (Bob's share) at $10
- All items must be accounted for in the final split
- All splits must be mathematically correct and total to the receipt amount

Remember:
- Ask for clarification if any item's split is unclear
- Return a complete response only when all items have clear split instructions
- Maintain context from previous clarifications in the conversation`

// State tracks where a split conversation stands.
type State string

const (
	StateAwaitingParticipants State = "awaiting_participants"
	StateAwaitingInstructions State = "awaiting_instructions"
	StateComplete             State = "complete"
	StateCancelled            State = "cancelled"
)

// DefaultMaxTurns bounds how many instruction rounds one conversation may
// take before giving up.
const DefaultMaxTurns = 10

// ErrTooManyTurns is returned when the turn budget runs out without a
// complete split. The conversation is over at that point.
var ErrTooManyTurns = errors.New("no complete split after the maximum number of instruction turns")

// coverageTolerance is how much pretax money a complete split may leave
// unassigned before the conversation pushes back.
var coverageTolerance = decimal.RequireFromString("0.01")

// Outcome is one instruction round's result: either a clarification
// question to relay to the operator or the finished split.
type Outcome struct {
	Question string
	Split    *split.BillSplit
}

// Conversation drives a natural language split with an oracle, one
// clarification round at a time. Each instance owns its transcript; create
// one per session and do not share it across goroutines.
type Conversation struct {
	receiptData  *receipt.Receipt
	oracle       llm.Provider
	participants []string
	transcript   llm.Transcript
	state        State
	maxTurns     int
	turns        int
}

// NewConversation starts a conversation in the participant collection
// state. The provider should be wrapped with llm.WithRetry so malformed
// responses are retried before they surface here.
func NewConversation(r *receipt.Receipt, oracle llm.Provider) *Conversation {
	return &Conversation{
		receiptData: r,
		oracle:      oracle,
		state:       StateAwaitingParticipants,
		maxTurns:    DefaultMaxTurns,
	}
}

// SetMaxTurns overrides the instruction turn budget. Values below 1 keep
// the default.
func (c *Conversation) SetMaxTurns(n int) {
	if n >= 1 {
		c.maxTurns = n
	}
}

// State returns the current conversation state.
func (c *Conversation) State() State {
	return c.state
}

// Participants returns a copy of the roster collected so far.
func (c *Conversation) Participants() []string {
	return append([]string(nil), c.participants...)
}

// AddParticipant records one name. Empty and duplicate names are rejected
// with errors meant to be shown to the operator.
func (c *Conversation) AddParticipant(name string) error {
	if c.state != StateAwaitingParticipants {
		return fmt.Errorf("cannot add participants in state %q", c.state)
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("participant name is empty")
	}
	for _, existing := range c.participants {
		if existing == name {
			return fmt.Errorf("%s is already added", name)
		}
	}

	c.participants = append(c.participants, name)
	return nil
}

// BeginInstructions seals the participant roster and seeds the transcript
// with the receipt.
func (c *Conversation) BeginInstructions() error {
	if c.state != StateAwaitingParticipants {
		return fmt.Errorf("cannot begin instructions in state %q", c.state)
	}
	if len(c.participants) < 2 {
		return fmt.Errorf("at least 2 participants are required, got %d", len(c.participants))
	}

	receiptJSON, err := json.Marshal(c.receiptData)
	if err != nil {
		return fmt.Errorf("marshaling receipt: %w", err)
	}

	c.transcript = llm.Transcript{
		llm.System(conversationSystemPrompt),
		llm.Human(fmt.Sprintf(
			"Here is the receipt and participant information:\nReceipt: %s\nParticipants: %s",
			receiptJSON,
			strings.Join(c.participants, ", "),
		)),
	}
	c.state = StateAwaitingInstructions
	return nil
}

// Instruct sends one round of splitting instructions to the oracle. While
// the split is incomplete the outcome carries a clarification question; once
// every item is accounted for it carries the calculated split. A complete
// answer that drops or invents money is not accepted: the gap is turned into
// one more clarification round.
func (c *Conversation) Instruct(ctx context.Context, text string) (*Outcome, error) {
	if c.state != StateAwaitingInstructions {
		return nil, fmt.Errorf("cannot process instructions in state %q", c.state)
	}

	if c.turns >= c.maxTurns {
		c.state = StateCancelled
		return nil, ErrTooManyTurns
	}
	c.turns++

	c.transcript = c.transcript.Append(llm.Human(text))

	raw, err := c.oracle.Complete(ctx, c.transcript, llm.SplitResponseSchema())
	if err != nil {
		return nil, fmt.Errorf("obtaining split: %w", err)
	}

	var resp split.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("unmarshaling split response: %w", err)
	}

	if !resp.IsComplete() || resp.SplitResult == nil {
		c.transcript = c.transcript.Append(llm.Assistant(string(raw)))

		question := resp.ClarificationQuestion
		if question == "" {
			question = "Could you clarify how the remaining items should be split?"
		}
		return &Outcome{Question: question}, nil
	}

	result, err := split.New(resp.SplitResult.CommonItems, resp.SplitResult.SeparateItems, c.participants)
	if err != nil {
		return c.pushBack(raw, fmt.Sprintf(
			"The proposed split could not be used (%v). Please restate how the items should be split.", err,
		)), nil
	}

	if gap := result.CoverageGap(c.receiptData); gap.Abs().GreaterThan(coverageTolerance) {
		return c.pushBack(raw, fmt.Sprintf(
			"The proposed split differs from the receipt's pretax items by %s. Every item must be assigned exactly once. How should the items be split?",
			gap.Abs().StringFixed(2),
		)), nil
	}

	if err := result.CalculateShares(c.receiptData); err != nil {
		return nil, fmt.Errorf("calculating shares: %w", err)
	}

	c.transcript = c.transcript.Append(llm.Assistant(string(raw)))
	c.state = StateComplete
	return &Outcome{Split: result}, nil
}

// pushBack rejects a structurally complete answer and keeps the
// conversation going. The rejection rides along in the assistant turn so the
// oracle sees why the operator is answering again.
func (c *Conversation) pushBack(raw []byte, question string) *Outcome {
	c.transcript = c.transcript.Append(llm.Assistant(string(raw) + "\n\n" + question))
	return &Outcome{Question: question}
}

// Cancel abandons the conversation. No partial result survives.
func (c *Conversation) Cancel() {
	c.state = StateCancelled
}
