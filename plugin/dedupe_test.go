package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupeFactoryRequiresKeyField(t *testing.T) {
	_, err := NewDedupeFactory()("d1", map[string]any{})
	assert.Error(t, err)
}

func TestDedupeDropsSecondOccurrence(t *testing.T) {
	p, err := NewDedupeFactory()("d1", map[string]any{"keyField": "email"})
	require.NoError(t, err)

	resolved, err := p.ResolveConfig(nil, map[string]any{"email": "a@b.com"}, nil)
	require.NoError(t, err)

	result, err := p.Execute(t.Context(), resolved, nil)
	require.NoError(t, err)
	assert.Len(t, result.Packets, 1)

	result2, err := p.Execute(t.Context(), resolved, nil)
	require.NoError(t, err)
	assert.Len(t, result2.Packets, 0)
}

func TestDedupeDistinguishesDifferentKeys(t *testing.T) {
	p, err := NewDedupeFactory()("d1", map[string]any{"keyField": "email"})
	require.NoError(t, err)

	r1, _ := p.ResolveConfig(nil, map[string]any{"email": "a@b.com"}, nil)
	r2, _ := p.ResolveConfig(nil, map[string]any{"email": "c@d.com"}, nil)

	res1, err := p.Execute(t.Context(), r1, nil)
	require.NoError(t, err)
	assert.Len(t, res1.Packets, 1)

	res2, err := p.Execute(t.Context(), r2, nil)
	require.NoError(t, err)
	assert.Len(t, res2.Packets, 1)
}
