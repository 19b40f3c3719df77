package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFactory(name string) Factory {
	return func() *Agent {
		return New(name, "agent "+name, "", &sequenceCompleter{}, Options{})
	}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register("shopper", "Buys groceries", newTestFactory("shopper"))

	f, ok := r.Get("shopper")
	require.True(t, ok)
	require.NotNil(t, f)
	assert.Equal(t, "shopper", f().Name())
}

func TestRegistryGetNotFound(t *testing.T) {
	r := NewRegistry()

	f, ok := r.Get("ghost")
	assert.False(t, ok)
	assert.Nil(t, f)
}

func TestRegistryRegisterReplaces(t *testing.T) {
	r := NewRegistry()
	r.Register("shopper", "old", newTestFactory("shopper"))
	r.Register("shopper", "new", newTestFactory("shopper"))

	entries := r.List()
	require.Len(t, entries, 1)
	assert.Equal(t, "new", entries[0].Description)
}

func TestRegistryListSorted(t *testing.T) {
	r := NewRegistry()
	r.Register("wine", "Picks wine", newTestFactory("wine"))
	r.Register("grocery", "Buys groceries", newTestFactory("grocery"))
	r.Register("pharmacy", "Orders medicine", newTestFactory("pharmacy"))

	entries := r.List()
	require.Len(t, entries, 3)
	assert.Equal(t, "grocery", entries[0].Name)
	assert.Equal(t, "pharmacy", entries[1].Name)
	assert.Equal(t, "wine", entries[2].Name)
}

func TestRegistrySpawnReturnsFreshAgent(t *testing.T) {
	r := NewRegistry()
	r.Register("shopper", "Buys groceries", newTestFactory("shopper"))

	first, ok := r.Spawn("shopper")
	require.True(t, ok)

	second, ok := r.Spawn("shopper")
	require.True(t, ok)

	assert.NotSame(t, first, second)
	assert.NotSame(t, first.Chat(), second.Chat())
	assert.NotEqual(t, first.ID(), second.ID())
}

func TestRegistrySpawnNotFound(t *testing.T) {
	r := NewRegistry()

	a, ok := r.Spawn("ghost")
	assert.False(t, ok)
	assert.Nil(t, a)
}
