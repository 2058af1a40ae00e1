package processor

import (
	"context"

	"github.com/ZanzyTHEbar/trainprep/tprep/config"
	"github.com/ZanzyTHEbar/trainprep/tprep/dataset"
	"github.com/ZanzyTHEbar/trainprep/tprep/tokenizer"
)

// sftFields are the fields a supervised fine-tuning dataset carries.
var sftFields = []string{"prompt", "messages"}

// SFTProcessor prepares supervised fine-tuning datasets.
type SFTProcessor struct {
	*DatasetProcessor
}

// NewSFT builds a supervised fine-tuning processor.
func NewSFT(tok tokenizer.Tokenizer, cfg *config.ProcessorConfig, opts ...Option) *SFTProcessor {
	return &SFTProcessor{DatasetProcessor: New(tok, cfg, opts...)}
}

// Tokenize derives prompt from all messages but the last and overwrites
// messages with the chat-template rendering of the full turn sequence.
func (p *SFTProcessor) Tokenize(ctx context.Context, ds *dataset.Dataset) (*dataset.Dataset, error) {
	fn := func(rec dataset.Record) (dataset.Record, error) {
		messages, err := conversationTurns(rec, "messages")
		if err != nil {
			return nil, err
		}

		prompt, err := p.tok.ApplyChatTemplate(messages[:len(messages)-1])
		if err != nil {
			return nil, err
		}
		messageIDs, err := p.tok.ApplyChatTemplate(messages)
		if err != nil {
			return nil, err
		}

		rec["prompt"] = prompt
		rec["messages"] = messageIDs
		return rec, nil
	}
	return ds.Map(ctx, fn, p.transformOptions("sft.tokenize"))
}

// Filter keeps a record iff every configured bound holds: the prompt length
// against MaxPromptTokenLength and the messages length against
// MaxTokenLength. Unset bounds are satisfied trivially.
func (p *SFTProcessor) Filter(ctx context.Context, ds *dataset.Dataset) (*dataset.Dataset, error) {
	if p.configMissing() {
		return ds, nil
	}
	pred := func(rec dataset.Record) (bool, error) {
		if p.cfg.HasMaxPromptTokenLength() {
			n, err := fieldTokenLen(rec, "prompt")
			if err != nil {
				return false, err
			}
			if n > p.cfg.MaxPromptTokenLength {
				return false, nil
			}
		}
		if p.cfg.HasMaxTokenLength() {
			n, err := fieldTokenLen(rec, "messages")
			if err != nil {
				return false, err
			}
			if n > p.cfg.MaxTokenLength {
				return false, nil
			}
		}
		return true, nil
	}
	return ds.Filter(ctx, pred, p.transformOptions("sft.filter"))
}

// TokenLengthStats reports stats for prompt and messages.
func (p *SFTProcessor) TokenLengthStats(ds *dataset.Dataset) (map[string]FieldStats, error) {
	return p.statsForFields(sftFields, ds)
}

// SaveTokenLengthPlot renders histograms for prompt and messages.
func (p *SFTProcessor) SaveTokenLengthPlot(ds *dataset.Dataset, dest string) error {
	return p.savePlotForFields(sftFields, ds, dest)
}
