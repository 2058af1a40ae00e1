package processor

import (
	"context"
	"testing"

	"github.com/ZanzyTHEbar/trainprep/tprep/config"
	"github.com/ZanzyTHEbar/trainprep/tprep/dataset"
	"github.com/ZanzyTHEbar/trainprep/tprep/tokenizer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// preferenceRecord builds a raw record whose rendered lengths under
// fakeTokenizer equal the total content rune counts.
func preferenceRecord(promptText, chosenReply, rejectedReply string) dataset.Record {
	return dataset.Record{
		"chosen": []tokenizer.Message{
			{Role: "user", Content: promptText},
			{Role: "assistant", Content: chosenReply},
		},
		"rejected": []tokenizer.Message{
			{Role: "user", Content: promptText},
			{Role: "assistant", Content: rejectedReply},
		},
	}
}

func newPreferenceForTest(cfg *config.ProcessorConfig) *PreferenceProcessor {
	_, logger := captureLogger()
	return NewPreference(&fakeTokenizer{eos: 2}, cfg, WithLogger(logger))
}

func TestPreferenceTokenize(t *testing.T) {
	p := newPreferenceForTest(&config.ProcessorConfig{})

	ds := dataset.FromRecords([]dataset.Record{
		preferenceRecord("ab", "cde", "fg"),
		preferenceRecord("hello", "yes", "no"),
	})

	out, err := p.Tokenize(context.Background(), ds)
	require.NoError(t, err)
	require.Equal(t, ds.Len(), out.Len())

	// prompt is the rendering of all chosen turns but the last
	assert.Len(t, out.Record(0)["prompt"], 2)
	assert.Len(t, out.Record(0)["chosen"], 5)
	assert.Len(t, out.Record(0)["rejected"], 4)

	assert.Len(t, out.Record(1)["prompt"], 5)
	assert.Len(t, out.Record(1)["chosen"], 8)
	assert.Len(t, out.Record(1)["rejected"], 7)

	// raw messages were not mutated
	_, stillMessages := ds.Record(0)["chosen"].([]tokenizer.Message)
	assert.True(t, stillMessages)
}

func TestPreferenceTokenizeParallelMatchesSequential(t *testing.T) {
	records := []dataset.Record{
		preferenceRecord("one", "a", "bb"),
		preferenceRecord("two", "ccc", "d"),
		preferenceRecord("three", "ee", "ffff"),
	}

	seq, err := newPreferenceForTest(&config.ProcessorConfig{}).
		Tokenize(context.Background(), dataset.FromRecords(records))
	require.NoError(t, err)

	par, err := newPreferenceForTest(&config.ProcessorConfig{NumProc: 4, Batched: true}).
		Tokenize(context.Background(), dataset.FromRecords(records))
	require.NoError(t, err)

	require.Equal(t, seq.Len(), par.Len())
	for i := 0; i < seq.Len(); i++ {
		assert.Equal(t, seq.Record(i)["prompt"], par.Record(i)["prompt"])
		assert.Equal(t, seq.Record(i)["chosen"], par.Record(i)["chosen"])
	}
}

func TestPreferenceFilterNoBoundsIsIdentity(t *testing.T) {
	p := newPreferenceForTest(&config.ProcessorConfig{})

	ds := dataset.FromRecords([]dataset.Record{
		{"prompt": []int{1, 2}, "chosen": []int{1, 2, 3}, "rejected": []int{1}},
		{"prompt": make([]int, 10000), "chosen": make([]int, 10000), "rejected": make([]int, 10000)},
	})

	out, err := p.Filter(context.Background(), ds)
	require.NoError(t, err)
	assert.Equal(t, ds.Len(), out.Len())
}

func TestPreferenceFilterMaxTokenLength(t *testing.T) {
	// chosen rendered lengths [5, 12] with bound 10: only the first survives
	p := newPreferenceForTest(&config.ProcessorConfig{MaxTokenLength: 10})

	ds := dataset.FromRecords([]dataset.Record{
		{"prompt": []int{1, 2}, "chosen": make([]int, 5), "rejected": make([]int, 5)},
		{"prompt": []int{1, 2}, "chosen": make([]int, 12), "rejected": make([]int, 5)},
	})

	out, err := p.Filter(context.Background(), ds)
	require.NoError(t, err)
	require.Equal(t, 1, out.Len())
	assert.Len(t, out.Record(0)["chosen"], 5)
}

func TestPreferenceFilterRejectedAlsoBounded(t *testing.T) {
	p := newPreferenceForTest(&config.ProcessorConfig{MaxTokenLength: 10})

	ds := dataset.FromRecords([]dataset.Record{
		{"prompt": []int{1}, "chosen": make([]int, 5), "rejected": make([]int, 12)},
	})

	out, err := p.Filter(context.Background(), ds)
	require.NoError(t, err)
	assert.Equal(t, 0, out.Len())
}

// TestPreferenceFilterBoundTable pins the conjunction semantics: a record
// survives iff every set bound holds, independent of which bounds are set.
func TestPreferenceFilterBoundTable(t *testing.T) {
	rec := func(promptLen, chosenLen, rejectedLen int) dataset.Record {
		return dataset.Record{
			"prompt":   make([]int, promptLen),
			"chosen":   make([]int, chosenLen),
			"rejected": make([]int, rejectedLen),
		}
	}

	cases := []struct {
		name      string
		cfg       config.ProcessorConfig
		record    dataset.Record
		surviving bool
	}{
		{"no bounds, huge record", config.ProcessorConfig{}, rec(100, 100, 100), true},
		{"prompt bound only, ok", config.ProcessorConfig{MaxPromptTokenLength: 3}, rec(3, 100, 100), true},
		{"prompt bound only, too long", config.ProcessorConfig{MaxPromptTokenLength: 3}, rec(4, 1, 1), false},
		{"total bound only, ok", config.ProcessorConfig{MaxTokenLength: 10}, rec(100, 10, 10), true},
		{"total bound only, chosen too long", config.ProcessorConfig{MaxTokenLength: 10}, rec(1, 11, 1), false},
		{"total bound only, rejected too long", config.ProcessorConfig{MaxTokenLength: 10}, rec(1, 1, 11), false},
		{"both bounds, all ok", config.ProcessorConfig{MaxTokenLength: 10, MaxPromptTokenLength: 3}, rec(3, 10, 10), true},
		{"both bounds, prompt ok but chosen too long", config.ProcessorConfig{MaxTokenLength: 10, MaxPromptTokenLength: 3}, rec(2, 11, 5), false},
		{"both bounds, chosen ok but prompt too long", config.ProcessorConfig{MaxTokenLength: 10, MaxPromptTokenLength: 3}, rec(4, 5, 5), false},
		{"both bounds, both violated", config.ProcessorConfig{MaxTokenLength: 10, MaxPromptTokenLength: 3}, rec(4, 11, 11), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := tc.cfg
			p := newPreferenceForTest(&cfg)

			out, err := p.Filter(context.Background(), dataset.FromRecords([]dataset.Record{tc.record}))
			require.NoError(t, err)
			if tc.surviving {
				assert.Equal(t, 1, out.Len())
			} else {
				assert.Equal(t, 0, out.Len())
			}
		})
	}
}

func TestPreferenceStats(t *testing.T) {
	p := newPreferenceForTest(&config.ProcessorConfig{})

	ds := dataset.FromRecords([]dataset.Record{
		{"prompt": []int{1, 2}, "chosen": []int{1, 2, 3}, "rejected": []int{1, 2, 3, 4}},
		{"prompt": []int{1, 2}, "chosen": []int{1, 2, 3}, "rejected": []int{1, 2, 3, 4}},
	})

	stats, err := p.TokenLengthStats(ds)
	require.NoError(t, err)
	require.Len(t, stats, 3)
	assert.Equal(t, 2, stats["prompt"].MaxTokenLength)
	assert.Equal(t, 3, stats["chosen"].MinTokenLength)
	assert.InDelta(t, 4.0, stats["rejected"].MeanTokenLength, 1e-9)
}
