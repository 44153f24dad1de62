package cache

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_SetGetExpiry(t *testing.T) {
	c := NewMemoryCache()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Second))
	val, found, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), val)

	now = now.Add(2 * time.Second)
	_, found, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryCache_JobStatus(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	id := uuid.New()

	_, found, err := c.GetJobStatus(ctx, id)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.SetJobStatus(ctx, id, "waiting_reply", time.Minute))
	status, found, err := c.GetJobStatus(ctx, id)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "waiting_reply", status)
}

func TestMemoryCache_IncrWithExpiry(t *testing.T) {
	c := NewMemoryCache()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := c.IncrWithExpiry(ctx, "rl", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	now = now.Add(2 * time.Minute)
	n, err := c.IncrWithExpiry(ctx, "rl", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemoryCache_ClaimReply(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	jobA, jobB := uuid.New(), uuid.New()

	ok, err := c.ClaimReply(ctx, "syntxaibot", 103, jobA, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.ClaimReply(ctx, "syntxaibot", 103, jobA, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.ClaimReply(ctx, "@syntxaibot", 103, jobB, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
}
