package processor

import (
	"context"

	"github.com/ZanzyTHEbar/trainprep/tprep/config"
	"github.com/ZanzyTHEbar/trainprep/tprep/dataset"
	"github.com/ZanzyTHEbar/trainprep/tprep/tokenizer"
)

// preferenceFields are the fields a preference-pair dataset carries.
var preferenceFields = []string{"prompt", "chosen", "rejected"}

// PreferenceProcessor prepares (chosen, rejected) preference-pair datasets
// for reward or DPO-style training.
type PreferenceProcessor struct {
	*DatasetProcessor
}

// NewPreference builds a preference-pair processor.
func NewPreference(tok tokenizer.Tokenizer, cfg *config.ProcessorConfig, opts ...Option) *PreferenceProcessor {
	return &PreferenceProcessor{DatasetProcessor: New(tok, cfg, opts...)}
}

// Tokenize derives prompt from all chosen turns but the last and overwrites
// chosen and rejected with the chat-template rendering of their full turn
// sequences. The output dataset has the same record count as the input.
func (p *PreferenceProcessor) Tokenize(ctx context.Context, ds *dataset.Dataset) (*dataset.Dataset, error) {
	fn := func(rec dataset.Record) (dataset.Record, error) {
		chosen, err := conversationTurns(rec, "chosen")
		if err != nil {
			return nil, err
		}
		rejected, err := conversationTurns(rec, "rejected")
		if err != nil {
			return nil, err
		}

		prompt, err := p.tok.ApplyChatTemplate(chosen[:len(chosen)-1])
		if err != nil {
			return nil, err
		}
		chosenIDs, err := p.tok.ApplyChatTemplate(chosen)
		if err != nil {
			return nil, err
		}
		rejectedIDs, err := p.tok.ApplyChatTemplate(rejected)
		if err != nil {
			return nil, err
		}

		rec["prompt"] = prompt
		rec["chosen"] = chosenIDs
		rec["rejected"] = rejectedIDs
		return rec, nil
	}
	return ds.Map(ctx, fn, p.transformOptions("preference.tokenize"))
}

// Filter keeps a record iff every configured bound holds: the prompt length
// against MaxPromptTokenLength and both chosen and rejected lengths against
// MaxTokenLength. Unset bounds are satisfied trivially.
func (p *PreferenceProcessor) Filter(ctx context.Context, ds *dataset.Dataset) (*dataset.Dataset, error) {
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
			for _, field := range []string{"chosen", "rejected"} {
				n, err := fieldTokenLen(rec, field)
				if err != nil {
					return false, err
				}
				if n > p.cfg.MaxTokenLength {
					return false, nil
				}
			}
		}
		return true, nil
	}
	return ds.Filter(ctx, pred, p.transformOptions("preference.filter"))
}

// TokenLengthStats reports stats for prompt, chosen and rejected.
func (p *PreferenceProcessor) TokenLengthStats(ds *dataset.Dataset) (map[string]FieldStats, error) {
	return p.statsForFields(preferenceFields, ds)
}

// SaveTokenLengthPlot renders histograms for prompt, chosen and rejected.
func (p *PreferenceProcessor) SaveTokenLengthPlot(ds *dataset.Dataset, dest string) error {
	return p.savePlotForFields(preferenceFields, ds, dest)
}
