package splitter

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"splitmybill/internal/llm"
)

// scriptedOracle is a mock implementation of llm.Provider that replays
// queued responses and records every transcript it was given.
type scriptedOracle struct {
	responses   []string
	errs        []error
	calls       int
	transcripts []llm.Transcript
}

func (s *scriptedOracle) Complete(_ context.Context, transcript llm.Transcript, _ map[string]any) ([]byte, error) {
	idx := s.calls
	s.calls++
	s.transcripts = append(s.transcripts, transcript)

	if idx < len(s.errs) && s.errs[idx] != nil {
		return nil, s.errs[idx]
	}
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return []byte(s.responses[idx]), nil
}

func (s *scriptedOracle) Close() error { return nil }

const clarificationResponse = `{
	"split_result": {"participants": ["Alice", "Bob"]},
	"needs_clarification": true,
	"clarification_question": "Who had the Salad?"
}`

const completeResponse = `{
	"split_result": {
		"common_items": [{"name": "Pizza", "subtotal": "20.00"}],
		"separate_items": {
			"Alice": [{"name": "Salad", "subtotal": "4.00"}],
			"Bob": [{"name": "Salad", "subtotal": "4.00"}]
		},
		"participants": ["Alice", "Bob"]
	},
	"needs_clarification": false,
	"clarification_question": null
}`

const allCommonResponse = `{
	"split_result": {
		"common_items": [
			{"name": "Pizza", "subtotal": "20.00"},
			{"name": "Salad", "subtotal": "8.00"}
		],
		"participants": ["Alice", "Bob"]
	},
	"needs_clarification": false
}`

const partialCoverageResponse = `{
	"split_result": {
		"common_items": [{"name": "Pizza", "subtotal": "20.00"}],
		"participants": ["Alice", "Bob"]
	},
	"needs_clarification": false
}`

const unknownParticipantResponse = `{
	"split_result": {
		"common_items": [{"name": "Pizza", "subtotal": "20.00"}],
		"separate_items": {"Charlie": [{"name": "Salad", "subtotal": "8.00"}]},
		"participants": ["Alice", "Bob"]
	},
	"needs_clarification": false
}`

var _ = Describe("Conversation", func() {
	var (
		oracle *scriptedOracle
		conv   *Conversation
	)

	BeforeEach(func() {
		oracle = &scriptedOracle{responses: []string{completeResponse}}
		conv = NewConversation(testReceipt(), oracle)
	})

	addRoster := func() {
		Expect(conv.AddParticipant("Alice")).To(Succeed())
		Expect(conv.AddParticipant("Bob")).To(Succeed())
	}

	Describe("AddParticipant", func() {
		It("collects trimmed names", func() {
			Expect(conv.AddParticipant("  Alice ")).To(Succeed())
			Expect(conv.Participants()).To(Equal([]string{"Alice"}))
		})

		It("rejects empty names", func() {
			Expect(conv.AddParticipant("   ")).To(MatchError(ContainSubstring("participant name is empty")))
		})

		It("rejects duplicates", func() {
			Expect(conv.AddParticipant("Alice")).To(Succeed())
			Expect(conv.AddParticipant("Alice")).To(MatchError("Alice is already added"))
		})

		It("refuses names once instructions started", func() {
			addRoster()
			Expect(conv.BeginInstructions()).To(Succeed())

			Expect(conv.AddParticipant("Charlie")).To(MatchError(ContainSubstring("cannot add participants")))
		})
	})

	Describe("BeginInstructions", func() {
		It("requires at least two participants", func() {
			Expect(conv.AddParticipant("Alice")).To(Succeed())
			Expect(conv.BeginInstructions()).To(MatchError(ContainSubstring("at least 2 participants are required")))
			Expect(conv.State()).To(Equal(StateAwaitingParticipants))
		})

		It("moves the conversation to the instruction state", func() {
			addRoster()
			Expect(conv.BeginInstructions()).To(Succeed())
			Expect(conv.State()).To(Equal(StateAwaitingInstructions))
		})
	})

	Describe("Instruct", func() {
		BeforeEach(func() {
			addRoster()
			Expect(conv.BeginInstructions()).To(Succeed())
		})

		It("seeds the oracle with the receipt and roster before the instruction", func() {
			_, err := conv.Instruct(context.Background(), "split everything equally")
			Expect(err).NotTo(HaveOccurred())

			sent := oracle.transcripts[0]
			Expect(sent).To(HaveLen(3))
			Expect(sent[0].Role).To(Equal(llm.RoleSystem))
			Expect(sent[0].Text).To(ContainSubstring("helps split bills between people"))
			Expect(sent[1].Text).To(ContainSubstring("Here is the receipt and participant information:"))
			Expect(sent[1].Text).To(ContainSubstring("Participants: Alice, Bob"))
			Expect(sent[1].Text).To(ContainSubstring("Pizza"))
			Expect(sent[2].Text).To(Equal("split everything equally"))
		})

		It("returns the calculated split when the oracle's answer is complete", func() {
			outcome, err := conv.Instruct(context.Background(), "Pizza is shared, Salad is split between Alice and Bob")
			Expect(err).NotTo(HaveOccurred())

			Expect(outcome.Question).To(BeEmpty())
			Expect(outcome.Split).NotTo(BeNil())
			Expect(conv.State()).To(Equal(StateComplete))

			totals, err := outcome.Split.TotalShares()
			Expect(err).NotTo(HaveOccurred())
			Expect(totals["Alice"].Equal(dec("15.40"))).To(BeTrue())
			Expect(totals["Bob"].Equal(dec("15.40"))).To(BeTrue())
		})

		It("accepts an all common split with no separate items", func() {
			oracle.responses = []string{allCommonResponse}

			outcome, err := conv.Instruct(context.Background(), "split everything equally")
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Split).NotTo(BeNil())
			Expect(outcome.Split.CommonItems).To(HaveLen(2))
			Expect(outcome.Split.SeparateItems).To(BeEmpty())

			totals, err := outcome.Split.TotalShares()
			Expect(err).NotTo(HaveOccurred())
			Expect(totals["Alice"].Equal(dec("15.40"))).To(BeTrue())
			Expect(totals["Bob"].Equal(dec("15.40"))).To(BeTrue())
		})

		It("relays clarification questions and keeps the conversation open", func() {
			oracle.responses = []string{clarificationResponse, completeResponse}

			outcome, err := conv.Instruct(context.Background(), "split it")
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Question).To(Equal("Who had the Salad?"))
			Expect(outcome.Split).To(BeNil())
			Expect(conv.State()).To(Equal(StateAwaitingInstructions))

			outcome, err = conv.Instruct(context.Background(), "Alice and Bob shared it")
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Split).NotTo(BeNil())
			Expect(conv.State()).To(Equal(StateComplete))
		})

		It("keeps the oracle's answer in the transcript between rounds", func() {
			oracle.responses = []string{clarificationResponse, completeResponse}

			_, err := conv.Instruct(context.Background(), "split it")
			Expect(err).NotTo(HaveOccurred())
			_, err = conv.Instruct(context.Background(), "Alice and Bob shared it")
			Expect(err).NotTo(HaveOccurred())

			second := oracle.transcripts[1]
			Expect(second).To(HaveLen(5))
			Expect(second[3].Role).To(Equal(llm.RoleAssistant))
			Expect(second[3].Text).To(ContainSubstring("Who had the Salad?"))
			Expect(second[4].Text).To(Equal("Alice and Bob shared it"))
		})

		It("pushes back when a complete answer does not cover the receipt", func() {
			oracle.responses = []string{partialCoverageResponse, completeResponse}

			outcome, err := conv.Instruct(context.Background(), "everyone shares the pizza")
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Split).To(BeNil())
			Expect(outcome.Question).To(ContainSubstring("8.00"))
			Expect(conv.State()).To(Equal(StateAwaitingInstructions))

			outcome, err = conv.Instruct(context.Background(), "split the salad between Alice and Bob")
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Split).NotTo(BeNil())
		})

		It("pushes back when the answer names an unknown participant", func() {
			oracle.responses = []string{unknownParticipantResponse, completeResponse}

			outcome, err := conv.Instruct(context.Background(), "Charlie takes the salad")
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Split).To(BeNil())
			Expect(outcome.Question).To(ContainSubstring("could not be used"))
			Expect(conv.State()).To(Equal(StateAwaitingInstructions))
		})

		It("gives up after the turn budget", func() {
			oracle.responses = []string{clarificationResponse}
			conv.SetMaxTurns(2)

			_, err := conv.Instruct(context.Background(), "split it")
			Expect(err).NotTo(HaveOccurred())
			_, err = conv.Instruct(context.Background(), "still unclear")
			Expect(err).NotTo(HaveOccurred())

			_, err = conv.Instruct(context.Background(), "one more")
			Expect(errors.Is(err, ErrTooManyTurns)).To(BeTrue())
			Expect(conv.State()).To(Equal(StateCancelled))
			Expect(oracle.calls).To(Equal(2))
		})

		It("surfaces oracle failures", func() {
			oracle.errs = []error{errors.New("no valid oracle response after 3 attempts: boom")}

			_, err := conv.Instruct(context.Background(), "split it")
			Expect(err).To(MatchError(ContainSubstring("obtaining split")))
			Expect(conv.State()).To(Equal(StateAwaitingInstructions))
		})

		It("refuses instructions before the roster is sealed", func() {
			fresh := NewConversation(testReceipt(), oracle)
			_, err := fresh.Instruct(context.Background(), "split it")
			Expect(err).To(MatchError(ContainSubstring("cannot process instructions")))
		})
	})

	Describe("Cancel", func() {
		It("ends the conversation with no result", func() {
			addRoster()
			Expect(conv.BeginInstructions()).To(Succeed())

			conv.Cancel()
			Expect(conv.State()).To(Equal(StateCancelled))

			_, err := conv.Instruct(context.Background(), "split it")
			Expect(err).To(HaveOccurred())
		})
	})
})
