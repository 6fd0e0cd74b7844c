// Package row defines the Row and RowStream types that flow through the
// pipeline runtime between steps.
package row

import (
	"fmt"
	"maps"
)

// Row is an ordered mapping from string keys to JSON-serialisable values
// plus a stable index assigned at ingestion. A Row is immutable within a
// step: a new Row version is produced by merging a step's output.
type Row struct {
	// Index is the stable identifier assigned at ingestion. Fan-out
	// (explode) appends a positional suffix rather than replacing it.
	Index string

	// Data holds the row's current key/value state.
	Data map[string]any
}

// New creates a Row with the given base index and data. The data map is
// copied so the caller's map can be reused or mutated afterwards.
func New(index string, data map[string]any) Row {
	d := make(map[string]any, len(data))
	maps.Copy(d, data)
	return Row{Index: index, Data: d}
}

// Get returns the value at key, or nil if absent. Missing keys are treated
// as null per the RowStream invariant in spec §3.
func (r Row) Get(key string) any {
	return r.Data[key]
}

// Clone returns a deep-enough copy of the row: the top-level map is copied,
// nested values are shared by reference (consistent with the JSON-value
// semantics the rest of the runtime assumes — nested maps/slices are never
// mutated in place, only replaced).
func (r Row) Clone() Row {
	d := make(map[string]any, len(r.Data))
	maps.Copy(d, r.Data)
	return Row{Index: r.Index, Data: d}
}

// Merge returns a new Row with fields shallow-merged on top of the
// receiver's data. The receiver is not mutated.
func (r Row) Merge(fields map[string]any) Row {
	out := r.Clone()
	maps.Copy(out.Data, fields)
	return out
}

// WithSuffix returns a new Row holding a Clone of the receiver's data but
// whose Index has the given positional suffix appended. Used when a plugin fans a row
// out into multiple copies (explode) so the parent index is preserved with
// a stable, deterministic suffix (spec §3, §8).
func (r Row) WithSuffix(suffix int) Row {
	out := r.Clone()
	out.Index = fmt.Sprintf("%s_%d", r.Index, suffix)
	return out
}

// Stream is the logical row population at a step boundary: a finite,
// ordered sequence of rows. All rows in a Stream are expected to share the
// same key universe; callers treat missing keys as null rather than
// enforcing a hard schema.
type Stream []Row

// Indices returns the Index of every row in the stream, in order. Useful in
// tests asserting ordering/explode-suffix invariants.
func (s Stream) Indices() []string {
	out := make([]string, len(s))
	for i, r := range s {
		out[i] = r.Index
	}
	return out
}

// KeyUniverse returns the union of all keys present across the stream.
func (s Stream) KeyUniverse() map[string]struct{} {
	keys := make(map[string]struct{})
	for _, r := range s {
		for k := range r.Data {
			keys[k] = struct{}{}
		}
	}
	return keys
}
