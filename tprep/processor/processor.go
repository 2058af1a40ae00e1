package processor

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	internal "github.com/ZanzyTHEbar/trainprep/tprep"
	"github.com/ZanzyTHEbar/trainprep/tprep/config"
	"github.com/ZanzyTHEbar/trainprep/tprep/dataset"
	"github.com/ZanzyTHEbar/trainprep/tprep/tokenizer"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Common error types used across the processor package
var (
	ErrNotImplemented = errors.New("operation must be implemented by a variant processor")
	ErrEmptyDataset   = errors.New("cannot compute token length stats over an empty dataset")
	ErrNotSequence    = errors.New("field value is not a token sequence")
	ErrNotMessageList = errors.New("field value is not a message list")
	ErrEmptyTurns     = errors.New("conversation has no turns")
)

func init() {
	// Message lists travel through the dataset cache before tokenization.
	dataset.RegisterCacheType([]tokenizer.Message{})
}

// FieldStats summarizes the token-length distribution of one field.
type FieldStats struct {
	MaxTokenLength  int
	MinTokenLength  int
	MeanTokenLength float64
}

// Processor orchestrates tokenize -> filter -> stats/visualize over a
// dataset. Variants fix which fields are read and written.
type Processor interface {
	Tokenize(ctx context.Context, ds *dataset.Dataset) (*dataset.Dataset, error)
	Filter(ctx context.Context, ds *dataset.Dataset) (*dataset.Dataset, error)
	TokenLengthStats(ds *dataset.Dataset) (map[string]FieldStats, error)
	SaveTokenLengthPlot(ds *dataset.Dataset, dest string) error
}

// DatasetProcessor is the shared base. Its Tokenize and Filter are abstract;
// calling them directly fails with ErrNotImplemented. Stats and plotting
// default to iterating every field of the dataset.
type DatasetProcessor struct {
	tok    tokenizer.Tokenizer
	cfg    *config.ProcessorConfig
	logger zerolog.Logger
	bins   int
}

// Option configures a processor at construction time.
type Option func(*DatasetProcessor)

// WithLogger replaces the processor's diagnostic logger. Construction-time
// warnings are emitted through it, so tests can capture them.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *DatasetProcessor) { p.logger = logger }
}

// WithHistogramBins overrides the histogram bin count for plots.
func WithHistogramBins(bins int) Option {
	return func(p *DatasetProcessor) {
		if bins > 0 {
			p.bins = bins
		}
	}
}

// New builds the shared base processor. When the tokenizer's pad token id
// equals its EOS id a single non-fatal warning is emitted: loss masking can
// no longer tell padding from termination and the model may not learn to
// emit EOS.
func New(tok tokenizer.Tokenizer, cfg *config.ProcessorConfig, opts ...Option) *DatasetProcessor {
	p := &DatasetProcessor{
		tok:    tok,
		cfg:    cfg,
		logger: internal.GetLogger(),
		bins:   internal.DefaultHistogramBins,
	}
	for _, opt := range opts {
		opt(p)
	}
	if tok.PadTokenID() == tok.EOSTokenID() {
		p.logger.Warn().
			Int("token_id", tok.PadTokenID()).
			Msg("tokenizer's pad token is the same as EOS token, this might cause the model to not learn to generate EOS tokens")
	}
	return p
}

// Tokenize must be supplied by a variant processor.
func (p *DatasetProcessor) Tokenize(ctx context.Context, ds *dataset.Dataset) (*dataset.Dataset, error) {
	return nil, fmt.Errorf("tokenize: %w", ErrNotImplemented)
}

// Filter must be supplied by a variant processor. Filtering without a
// configuration is a warned no-op, mirrored by the variants.
func (p *DatasetProcessor) Filter(ctx context.Context, ds *dataset.Dataset) (*dataset.Dataset, error) {
	if p.configMissing() {
		return ds, nil
	}
	return nil, fmt.Errorf("filter: %w", ErrNotImplemented)
}

// TokenLengthStats computes per-field length stats over every field.
func (p *DatasetProcessor) TokenLengthStats(ds *dataset.Dataset) (map[string]FieldStats, error) {
	return p.statsForFields(ds.Fields(), ds)
}

// SaveTokenLengthPlot renders length histograms for every field.
func (p *DatasetProcessor) SaveTokenLengthPlot(ds *dataset.Dataset, dest string) error {
	return p.savePlotForFields(ds.Fields(), ds, dest)
}

// configMissing reports (and warns about) a nil configuration.
func (p *DatasetProcessor) configMissing() bool {
	if p.cfg != nil {
		return false
	}
	p.logger.Warn().Msg("no config provided, skipping filtering")
	return true
}

// transformOptions translates the processor config into dataset map/filter
// options. The cache key folds in the active bounds so runs with different
// budgets never collide.
func (p *DatasetProcessor) transformOptions(op string) dataset.Options {
	if p.cfg == nil {
		return dataset.Options{CacheKey: op}
	}
	return dataset.Options{
		NumProc:       p.cfg.NumProc,
		Batched:       p.cfg.Batched,
		LoadFromCache: p.cfg.LoadFromCacheFile,
		CacheKey:      fmt.Sprintf("%s|max=%d|maxPrompt=%d", op, p.cfg.MaxTokenLength, p.cfg.MaxPromptTokenLength),
	}
}

// statsForFields computes {max, min, mean} token counts for each field.
func (p *DatasetProcessor) statsForFields(fields []string, ds *dataset.Dataset) (map[string]FieldStats, error) {
	if ds.Len() == 0 {
		return nil, ErrEmptyDataset
	}
	stats := make(map[string]FieldStats, len(fields))
	for _, field := range fields {
		lengths, err := fieldLengths(field, ds)
		if err != nil {
			return nil, err
		}
		stats[field] = FieldStats{
			MaxTokenLength:  int(floats.Max(lengths)),
			MinTokenLength:  int(floats.Min(lengths)),
			MeanTokenLength: stat.Mean(lengths, nil),
		}
	}
	return stats, nil
}

// fieldLengths returns the per-record element counts of one field.
func fieldLengths(field string, ds *dataset.Dataset) ([]float64, error) {
	col, err := ds.Column(field)
	if err != nil {
		return nil, err
	}
	lengths := make([]float64, len(col))
	for i, v := range col {
		n, err := sequenceLen(v)
		if err != nil {
			return nil, fmt.Errorf("field %q record %d: %w", field, i, err)
		}
		lengths[i] = float64(n)
	}
	return lengths, nil
}

// sequenceLen counts the elements of a sequence-valued field.
func sequenceLen(v any) (int, error) {
	switch s := v.(type) {
	case []int:
		return len(s), nil
	case []any:
		return len(s), nil
	case []tokenizer.Message:
		return len(s), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice {
		return rv.Len(), nil
	}
	return 0, fmt.Errorf("%w: %T", ErrNotSequence, v)
}

// fieldTokenLen is sequenceLen over a record field.
func fieldTokenLen(rec dataset.Record, field string) (int, error) {
	v, ok := rec[field]
	if !ok {
		return 0, fmt.Errorf("%w: %q", dataset.ErrFieldMissing, field)
	}
	n, err := sequenceLen(v)
	if err != nil {
		return 0, fmt.Errorf("field %q: %w", field, err)
	}
	return n, nil
}

// conversationTurns reads a message-list field.
func conversationTurns(rec dataset.Record, field string) ([]tokenizer.Message, error) {
	v, ok := rec[field]
	if !ok {
		return nil, fmt.Errorf("%w: %q", dataset.ErrFieldMissing, field)
	}
	turns, ok := v.([]tokenizer.Message)
	if !ok {
		return nil, fmt.Errorf("%w: field %q holds %T", ErrNotMessageList, field, v)
	}
	if len(turns) == 0 {
		return nil, fmt.Errorf("%w: field %q", ErrEmptyTurns, field)
	}
	return turns, nil
}
