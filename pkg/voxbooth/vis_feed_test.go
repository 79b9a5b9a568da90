package voxbooth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVisFeedDropsWhenInactive(t *testing.T) {
	feed := NewVisFeed(4)

	assert.False(t, feed.Offer([]float32{1, 2, 3}))

	_, ok := feed.Next(10 * time.Millisecond)
	assert.False(t, ok)
}

func TestVisFeedDeliversCopies(t *testing.T) {
	feed := NewVisFeed(4)
	feed.SetActive(true)

	block := []float32{0.1, 0.2}
	require.True(t, feed.Offer(block))

	// The producer's slice can be reused immediately.
	block[0] = 99

	got, ok := feed.Next(time.Second)
	require.True(t, ok)
	assert.Equal(t, []float32{0.1, 0.2}, got)
}

func TestVisFeedDropsOnOverflow(t *testing.T) {
	feed := NewVisFeed(2)
	feed.SetActive(true)

	assert.True(t, feed.Offer([]float32{1}))
	assert.True(t, feed.Offer([]float32{2}))
	// Queue full: the producer never blocks, the block is lost.
	assert.False(t, feed.Offer([]float32{3}))

	got, ok := feed.Next(time.Second)
	require.True(t, ok)
	assert.Equal(t, []float32{1}, got)
}
