package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCreateUnknownType(t *testing.T) {
	r := NewRegistry()
	_, err := r.Create("nope", "step1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown type")
}

func TestRegistryRegisterAndCreate(t *testing.T) {
	r := NewRegistry()
	r.Register("dedupe", NewDedupeFactory())

	p, err := r.Create("dedupe", "d1", map[string]any{"keyField": "email"})
	require.NoError(t, err)
	assert.Equal(t, "dedupe", p.Type())
}

func TestRegistryTypes(t *testing.T) {
	r := NewRegistry()
	r.Register("dedupe", NewDedupeFactory())
	r.Register("urlexpand", NewURLExpandFactory())
	assert.ElementsMatch(t, []string{"dedupe", "urlexpand"}, r.Types())
}

func TestServicesHasCapability(t *testing.T) {
	s := &Services{}
	assert.False(t, s.HasCapability(CapabilityHTTPFetch))
	assert.True(t, s.HasCapability(CapabilityEmailVerify))
}
