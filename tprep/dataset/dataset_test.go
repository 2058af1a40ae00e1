package dataset

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func indexedRecords(n int) []Record {
	records := make([]Record, n)
	for i := range records {
		records[i] = Record{"idx": []int{i}, "payload": []int{i, i, i}}
	}
	return records
}

func TestFromRecordsAccessors(t *testing.T) {
	ds := FromRecords(indexedRecords(3))

	assert.Equal(t, 3, ds.Len())
	assert.Equal(t, []string{"idx", "payload"}, ds.Fields())

	col, err := ds.Column("idx")
	require.NoError(t, err)
	require.Len(t, col, 3)
	assert.Equal(t, []int{1}, col[1])

	_, err = ds.Column("missing")
	assert.ErrorIs(t, err, ErrFieldMissing)
}

func TestMapPreservesCountAndOrder(t *testing.T) {
	for _, numProc := range []int{1, 4} {
		t.Run(fmt.Sprintf("numProc=%d", numProc), func(t *testing.T) {
			ds := FromRecords(indexedRecords(50))

			out, err := ds.Map(context.Background(), func(rec Record) (Record, error) {
				idx := rec["idx"].([]int)[0]
				rec["doubled"] = []int{idx * 2}
				return rec, nil
			}, Options{NumProc: numProc})
			require.NoError(t, err)

			assert.Equal(t, ds.Len(), out.Len())
			for i := 0; i < out.Len(); i++ {
				assert.Equal(t, []int{i}, out.Record(i)["idx"])
				assert.Equal(t, []int{i * 2}, out.Record(i)["doubled"])
			}
		})
	}
}

func TestMapDoesNotMutateInput(t *testing.T) {
	ds := FromRecords(indexedRecords(5))

	_, err := ds.Map(context.Background(), func(rec Record) (Record, error) {
		rec["extra"] = []int{99}
		return rec, nil
	}, Options{})
	require.NoError(t, err)

	for i := 0; i < ds.Len(); i++ {
		_, ok := ds.Record(i)["extra"]
		assert.False(t, ok, "input record %d was mutated", i)
	}
}

func TestMapBatched(t *testing.T) {
	ds := FromRecords(indexedRecords(17))

	out, err := ds.Map(context.Background(), func(rec Record) (Record, error) {
		return rec, nil
	}, Options{NumProc: 3, Batched: true})
	require.NoError(t, err)
	assert.Equal(t, 17, out.Len())
	for i := 0; i < out.Len(); i++ {
		assert.Equal(t, []int{i}, out.Record(i)["idx"])
	}
}

func TestMapPropagatesError(t *testing.T) {
	ds := FromRecords(indexedRecords(10))
	boom := errors.New("boom")

	_, err := ds.Map(context.Background(), func(rec Record) (Record, error) {
		if rec["idx"].([]int)[0] == 7 {
			return nil, boom
		}
		return rec, nil
	}, Options{NumProc: 2})
	assert.ErrorIs(t, err, boom)
}

func TestMapNilFunc(t *testing.T) {
	ds := FromRecords(indexedRecords(1))
	_, err := ds.Map(context.Background(), nil, Options{})
	assert.ErrorIs(t, err, ErrNilFunc)
}

func TestMapCancelledContext(t *testing.T) {
	ds := FromRecords(indexedRecords(10))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ds.Map(ctx, func(rec Record) (Record, error) { return rec, nil }, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFilterKeepsOrder(t *testing.T) {
	for _, numProc := range []int{1, 4} {
		t.Run(fmt.Sprintf("numProc=%d", numProc), func(t *testing.T) {
			ds := FromRecords(indexedRecords(30))

			out, err := ds.Filter(context.Background(), func(rec Record) (bool, error) {
				return rec["idx"].([]int)[0]%3 == 0, nil
			}, Options{NumProc: numProc})
			require.NoError(t, err)

			require.Equal(t, 10, out.Len())
			for i := 0; i < out.Len(); i++ {
				assert.Equal(t, []int{i * 3}, out.Record(i)["idx"])
			}
		})
	}
}

func TestFilterAllSurvive(t *testing.T) {
	ds := FromRecords(indexedRecords(8))
	out, err := ds.Filter(context.Background(), func(Record) (bool, error) { return true, nil }, Options{})
	require.NoError(t, err)
	assert.Equal(t, ds.Len(), out.Len())
}

func TestFilterPropagatesError(t *testing.T) {
	ds := FromRecords(indexedRecords(4))
	boom := errors.New("boom")
	_, err := ds.Filter(context.Background(), func(Record) (bool, error) { return false, boom }, Options{})
	assert.ErrorIs(t, err, boom)
}

func BenchmarkMapSequential(b *testing.B) {
	ds := FromRecords(indexedRecords(1000))
	fn := func(rec Record) (Record, error) { return rec, nil }
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ds.Map(context.Background(), fn, Options{}); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkMapParallel(b *testing.B) {
	ds := FromRecords(indexedRecords(1000))
	fn := func(rec Record) (Record, error) { return rec, nil }
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ds.Map(context.Background(), fn, Options{NumProc: 8, Batched: true}); err != nil {
			b.Fatal(err)
		}
	}
}
