package llm

// Role identifies the author of a transcript turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
)

// Image is an inline image attachment on a turn.
type Image struct {
	MIME string
	Data []byte
}

// Turn is one entry in a conversation transcript.
type Turn struct {
	Role  Role
	Text  string
	Image *Image
}

// Transcript is an ordered conversation history. All conversational memory
// lives here; providers hold no state between calls.
type Transcript []Turn

// Append returns a new transcript with the turns added. The receiver is
// never modified, so earlier snapshots stay valid as a conversation grows.
func (t Transcript) Append(turns ...Turn) Transcript {
	out := make(Transcript, 0, len(t)+len(turns))
	out = append(out, t...)
	out = append(out, turns...)
	return out
}

// System builds a system turn.
func System(text string) Turn {
	return Turn{Role: RoleSystem, Text: text}
}

// Human builds a human turn.
func Human(text string) Turn {
	return Turn{Role: RoleHuman, Text: text}
}

// HumanImage builds a human turn carrying text and an inline image.
func HumanImage(text, mime string, data []byte) Turn {
	return Turn{Role: RoleHuman, Text: text, Image: &Image{MIME: mime, Data: data}}
}

// Assistant builds an assistant turn.
func Assistant(text string) Turn {
	return Turn{Role: RoleAssistant, Text: text}
}
