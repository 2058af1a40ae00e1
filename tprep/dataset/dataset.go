package dataset

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"

	roaring "github.com/RoaringBitmap/roaring"
	"github.com/sourcegraph/conc/pool"
)

// Common error types used across the dataset package
var (
	ErrFieldMissing = errors.New("field not present in dataset")
	ErrNilFunc      = errors.New("transformation function cannot be nil")
)

// Record is a single named-field example. Before tokenization fields hold
// structured message lists; after tokenization they hold token-id sequences.
type Record map[string]any

// MapFunc transforms one record into its replacement. The input record is a
// shallow copy owned by the function; assigning fields is safe.
type MapFunc func(Record) (Record, error)

// FilterFunc reports whether a record survives filtering.
type FilterFunc func(Record) (bool, error)

// Options controls how a single Map or Filter call executes.
type Options struct {
	// NumProc is the degree of parallelism; <= 1 means sequential.
	NumProc int
	// Batched hands workers multi-record chunks instead of single records.
	Batched bool
	// LoadFromCache allows reusing a previously cached result for CacheKey.
	LoadFromCache bool
	// CacheKey identifies the transformation for cache lookups. Results are
	// only cached when a cache is attached and CacheKey is non-empty.
	CacheKey string
}

// Dataset is an ordered, immutable collection of records. Map and Filter
// return fresh datasets; the receiver is never mutated.
type Dataset struct {
	records []Record
	cache   *Cache
}

// FromRecords builds a dataset over the given records. The slice is not
// copied; callers hand over ownership.
func FromRecords(records []Record) *Dataset {
	return &Dataset{records: records}
}

// WithCache returns a dataset sharing the receiver's records with the given
// transformation cache attached. Derived datasets inherit the cache.
func (d *Dataset) WithCache(c *Cache) *Dataset {
	return &Dataset{records: d.records, cache: c}
}

// Len returns the record count.
func (d *Dataset) Len() int { return len(d.records) }

// Record returns the i-th record.
func (d *Dataset) Record(i int) Record { return d.records[i] }

// Records returns the backing record slice. Callers must not mutate it.
func (d *Dataset) Records() []Record { return d.records }

// Fields returns the sorted union of field names across all records.
func (d *Dataset) Fields() []string {
	seen := make(map[string]struct{})
	for _, rec := range d.records {
		for name := range rec {
			seen[name] = struct{}{}
		}
	}
	fields := make([]string, 0, len(seen))
	for name := range seen {
		fields = append(fields, name)
	}
	sort.Strings(fields)
	return fields
}

// Column returns the ordered per-record values of one field.
func (d *Dataset) Column(name string) ([]any, error) {
	values := make([]any, len(d.records))
	for i, rec := range d.records {
		v, ok := rec[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q (record %d)", ErrFieldMissing, name, i)
		}
		values[i] = v
	}
	return values, nil
}

// Map applies fn to every record and returns a new dataset of identical
// record count. Execution fans out over a bounded worker pool when
// opts.NumProc > 1 and consults the attached cache per opts.
func (d *Dataset) Map(ctx context.Context, fn MapFunc, opts Options) (*Dataset, error) {
	if fn == nil {
		return nil, ErrNilFunc
	}
	if cached, ok := d.cacheLookup(ctx, "map", opts); ok {
		return cached, nil
	}

	out := make([]Record, len(d.records))
	apply := func(i int) error {
		rec, err := fn(maps.Clone(d.records[i]))
		if err != nil {
			return fmt.Errorf("map record %d: %w", i, err)
		}
		out[i] = rec
		return nil
	}

	if err := d.forEach(ctx, opts, apply); err != nil {
		return nil, err
	}

	result := &Dataset{records: out, cache: d.cache}
	d.cacheStore(ctx, "map", opts, result)
	return result, nil
}

// Filter applies pred to every record and returns a new dataset holding, in
// input order, exactly the records for which pred returned true. Survivors
// are tracked in a roaring bitmap so parallel workers only merge masks.
func (d *Dataset) Filter(ctx context.Context, pred FilterFunc, opts Options) (*Dataset, error) {
	if pred == nil {
		return nil, ErrNilFunc
	}
	if cached, ok := d.cacheLookup(ctx, "filter", opts); ok {
		return cached, nil
	}

	keep := roaring.New()
	var keepMu sync.Mutex
	apply := func(i int) error {
		ok, err := pred(d.records[i])
		if err != nil {
			return fmt.Errorf("filter record %d: %w", i, err)
		}
		if ok {
			keepMu.Lock()
			keep.Add(uint32(i))
			keepMu.Unlock()
		}
		return nil
	}

	if err := d.forEach(ctx, opts, apply); err != nil {
		return nil, err
	}

	out := make([]Record, 0, keep.GetCardinality())
	for i := range d.records {
		if keep.Contains(uint32(i)) {
			out = append(out, d.records[i])
		}
	}

	result := &Dataset{records: out, cache: d.cache}
	d.cacheStore(ctx, "filter", opts, result)
	return result, nil
}

// forEach runs apply for every record index, sequentially or across a conc
// worker pool, honoring opts.Batched chunking.
func (d *Dataset) forEach(ctx context.Context, opts Options, apply func(i int) error) error {
	n := len(d.records)
	if opts.NumProc <= 1 {
		for i := 0; i < n; i++ {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if err := apply(i); err != nil {
				return err
			}
		}
		return nil
	}

	chunk := 1
	if opts.Batched {
		chunk = (n + opts.NumProc - 1) / opts.NumProc
		if chunk < 1 {
			chunk = 1
		}
	}

	p := pool.New().WithMaxGoroutines(opts.NumProc).WithContext(ctx).WithCancelOnError()
	for start := 0; start < n; start += chunk {
		end := start + chunk
		if end > n {
			end = n
		}
		p.Go(func(ctx context.Context) error {
			for i := start; i < end; i++ {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
				if err := apply(i); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return p.Wait()
}
