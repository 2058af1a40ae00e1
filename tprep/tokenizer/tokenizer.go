package tokenizer

import (
	"errors"
	"strings"
)

// Message is a single conversational turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Tokenizer converts chat-structured input to model-ready token IDs and
// exposes the special-token identifiers the processors reason about.
type Tokenizer interface {
	// ApplyChatTemplate renders the turns through the chat template and
	// returns the resulting token-id sequence.
	ApplyChatTemplate(turns []Message) ([]int, error)
	// Decode maps a single token id back to its surface string.
	Decode(id int) string
	PadTokenID() int
	EOSTokenID() int
}

// ErrUnsupported indicates the tokenizer could not be initialized
var ErrUnsupported = errors.New("unsupported tokenizer configuration")

// ChatML renders turns in the ChatML wire format, one
// <|im_start|>role\ncontent<|im_end|> block per turn.
func ChatML(turns []Message) string {
	var b strings.Builder
	for _, turn := range turns {
		b.WriteString("<|im_start|>")
		b.WriteString(turn.Role)
		b.WriteByte('\n')
		b.WriteString(turn.Content)
		b.WriteString("<|im_end|>\n")
	}
	return b.String()
}
