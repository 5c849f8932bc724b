package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_MissingIDReturnsFalse(t *testing.T) {
	c, err := New(4)
	require.NoError(t, err)

	_, ok := c.Get("missing")
	assert.False(t, ok)
}

func TestSetThenGet_ReturnsStoredBag(t *testing.T) {
	c, err := New(4)
	require.NoError(t, err)

	bag := map[string][]byte{"title": []byte("hello")}
	c.Set("id-1", bag)

	got, ok := c.Get("id-1")
	require.True(t, ok)
	assert.Equal(t, bag, got)
}

func TestInvalidate_RemovesEntry(t *testing.T) {
	c, err := New(4)
	require.NoError(t, err)
	c.Set("id-1", map[string][]byte{"title": []byte("x")})

	c.Invalidate("id-1")

	_, ok := c.Get("id-1")
	assert.False(t, ok)
}

func TestLen_ReflectsEntryCountWithinBound(t *testing.T) {
	c, err := New(2)
	require.NoError(t, err)

	c.Set("a", map[string][]byte{})
	c.Set("b", map[string][]byte{})
	c.Set("c", map[string][]byte{})

	assert.Equal(t, 2, c.Len())
}
