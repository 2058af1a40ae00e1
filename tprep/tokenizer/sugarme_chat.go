package tokenizer

import (
	"fmt"
	"os"

	tk "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/model/wordpiece"
	"github.com/sugarme/tokenizer/normalizer"
	"github.com/sugarme/tokenizer/pretokenizer"
)

// SugarChat wraps a sugarme/tokenizer WordPiece vocabulary behind the chat
// contract: turns are rendered through ChatML and then encoded.
type SugarChat struct {
	t     *tk.Tokenizer
	padID int
	eosID int
}

// NewSugarChat loads a WordPiece vocab file and resolves the pad and EOS
// token ids from it.
func NewSugarChat(vocabPath, padToken, eosToken string) (*SugarChat, error) {
	if fi, err := os.Stat(vocabPath); err != nil || fi.IsDir() {
		return nil, fmt.Errorf("%w: vocab file %q not readable", ErrUnsupported, vocabPath)
	}
	wp, err := wordpiece.NewWordPieceFromFile(vocabPath, "[UNK]")
	if err != nil {
		return nil, fmt.Errorf("failed to load wordpiece vocab %q: %w", vocabPath, err)
	}

	t := tk.NewTokenizer(wp)
	t.WithNormalizer(normalizer.NewBertNormalizer(true, true, true, true))
	t.WithPreTokenizer(pretokenizer.NewBertPreTokenizer())

	padID, ok := t.TokenToId(padToken)
	if !ok {
		return nil, fmt.Errorf("%w: pad token %q not in vocab", ErrUnsupported, padToken)
	}
	eosID, ok := t.TokenToId(eosToken)
	if !ok {
		return nil, fmt.Errorf("%w: EOS token %q not in vocab", ErrUnsupported, eosToken)
	}

	return &SugarChat{t: t, padID: padID, eosID: eosID}, nil
}

// ApplyChatTemplate renders the turns as ChatML and encodes the result.
func (s *SugarChat) ApplyChatTemplate(turns []Message) ([]int, error) {
	text := ChatML(turns)
	enc, err := s.t.Encode(tk.NewSingleEncodeInput(tk.NewInputSequence(text)), false)
	if err != nil {
		return nil, fmt.Errorf("chat template encode failed: %w", err)
	}
	return enc.GetIds(), nil
}

// Decode maps a single token id back to its surface form.
func (s *SugarChat) Decode(id int) string {
	return s.t.Decode([]int{id}, false)
}

func (s *SugarChat) PadTokenID() int { return s.padID }

func (s *SugarChat) EOSTokenID() int { return s.eosID }
