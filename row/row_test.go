package row

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowMergeDoesNotMutateReceiver(t *testing.T) {
	r := New("0", map[string]any{"genre": "rock"})
	merged := r.Merge(map[string]any{"band_name": "The Mocks"})

	assert.Equal(t, "rock", r.Get("genre"))
	assert.Nil(t, r.Get("band_name"))
	assert.Equal(t, "The Mocks", merged.Get("band_name"))
	assert.Equal(t, "rock", merged.Get("genre"))
}

func TestRowWithSuffixPreservesParentIndex(t *testing.T) {
	r := New("3", map[string]any{"k": "a"})
	for i := 0; i < 6; i++ {
		child := r.WithSuffix(i)
		require.Equal(t, "3_"+strconv.Itoa(i), child.Index)
		assert.Equal(t, "a", child.Get("k"))
	}
}

func TestDedupeFirstOccurrencePreservesOrder(t *testing.T) {
	rows := Stream{
		New("0", map[string]any{"k": "a"}),
		New("1", map[string]any{"k": "a"}),
		New("2", map[string]any{"k": "b"}),
	}

	out := DedupeFirstOccurrence(rows, "k", nil)

	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].Get("k"))
	assert.Equal(t, "b", out[1].Get("k"))
	assert.Equal(t, "0", out[0].Index)
	assert.Equal(t, "2", out[1].Index)
}

func TestDedupeFirstOccurrenceSharedSeenSetIsPluginScoped(t *testing.T) {
	seen := make(map[string]struct{})
	first := DedupeFirstOccurrence(Stream{New("0", map[string]any{"k": "a"})}, "k", seen)
	second := DedupeFirstOccurrence(Stream{New("1", map[string]any{"k": "a"})}, "k", seen)

	assert.Len(t, first, 1)
	assert.Len(t, second, 0)
}
