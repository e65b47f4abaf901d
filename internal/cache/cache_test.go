package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSet(t *testing.T) {
	c := New[string, int](Options{})

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("a", 1)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 1, c.Len())
}

func TestOverwrite(t *testing.T) {
	c := New[string, string](Options{})
	c.Set("k", "old")
	c.Set("k", "new")

	v, _ := c.Get("k")
	assert.Equal(t, "new", v)
	assert.Equal(t, 1, c.Len())
}

func TestTTLExpiry(t *testing.T) {
	c := New[string, int](Options{TTL: 20 * time.Millisecond})
	c.Set("a", 1)

	_, ok := c.Get("a")
	require.True(t, ok)

	time.Sleep(30 * time.Millisecond)
	_, ok = c.Get("a")
	assert.False(t, ok)
}

func TestDelete(t *testing.T) {
	c := New[string, int](Options{})
	c.Set("a", 1)
	c.Delete("a")
	c.Delete("never-there")

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestEvictsOldestWhenFull(t *testing.T) {
	c := New[string, int](Options{MaxEntries: 2})
	c.Set("first", 1)
	c.Set("second", 2)
	c.Set("third", 3)

	_, ok := c.Get("first")
	assert.False(t, ok, "oldest entry is evicted")
	_, ok = c.Get("second")
	assert.True(t, ok)
	_, ok = c.Get("third")
	assert.True(t, ok)
}

func TestEvictsExpiredBeforeOldest(t *testing.T) {
	c := New[string, int](Options{MaxEntries: 2, TTL: 20 * time.Millisecond})
	c.Set("stale", 1)
	time.Sleep(30 * time.Millisecond)
	c.Set("fresh", 2)
	c.Set("newer", 3)

	_, ok := c.Get("fresh")
	assert.True(t, ok, "fresh entry survives because the expired one went first")
	_, ok = c.Get("newer")
	assert.True(t, ok)
}
