package main

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestURLHash(t *testing.T) {
	a := urlHash("https://www.youtube.com/watch?v=abc")
	b := urlHash("https://www.youtube.com/watch?v=abc")
	c := urlHash("https://www.youtube.com/watch?v=def")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 32)
}

func TestInfoCachePutGet(t *testing.T) {
	c := newInfoCache(10, time.Minute)

	_, ok := c.Get("h1")
	assert.False(t, ok)

	c.Put("h1", MediaDescription{Title: "clip", Success: true})
	desc, ok := c.Get("h1")
	require.True(t, ok)
	assert.Equal(t, "clip", desc.Title)
	assert.Equal(t, 1, c.Len())
}

func TestInfoCacheExpiry(t *testing.T) {
	c := newInfoCache(10, 10*time.Millisecond)
	c.Put("h1", MediaDescription{Title: "clip"})

	time.Sleep(20 * time.Millisecond)
	_, ok := c.Get("h1")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestInfoCacheEviction(t *testing.T) {
	c := newInfoCache(3, time.Minute)
	for i := 0; i < 5; i++ {
		c.Put(fmt.Sprintf("h%d", i), MediaDescription{})
	}
	assert.Equal(t, 3, c.Len())

	// The most recent entry always survives eviction.
	_, ok := c.Get("h4")
	assert.True(t, ok)
}

func TestThumbnailCache(t *testing.T) {
	c := newThumbnailCache()

	_, _, ok := c.Get("t1")
	assert.False(t, ok)

	c.Put("t1", "https://cdn.example/a.jpg", nil)
	url, data, ok := c.Get("t1")
	require.True(t, ok)
	assert.Equal(t, "https://cdn.example/a.jpg", url)
	assert.Nil(t, data)

	c.SetData("t1", []byte("jpeg-bytes"))
	_, data, _ = c.Get("t1")
	assert.Equal(t, []byte("jpeg-bytes"), data)

	// SetData on an absent id is ignored.
	c.SetData("missing", []byte("x"))
	assert.Equal(t, 1, c.Len())
}

func TestThumbnailCacheExpire(t *testing.T) {
	c := newThumbnailCache()
	c.Put("t1", "u", nil)

	c.Expire(time.Minute)
	assert.Equal(t, 1, c.Len())

	c.Expire(0)
	assert.Equal(t, 0, c.Len())
}
