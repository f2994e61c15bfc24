package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Total int      `json:"total"`
	Days  []string `json:"days"`
}

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewClient(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestSetGetJSON(t *testing.T) {
	c, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.SetJSON(ctx, "stats:7", payload{Total: 3, Days: []string{"2026-01-01"}}, time.Minute))
	assert.True(t, mr.Exists("newsletter:stats:7"))

	var got payload
	found, err := c.GetJSON(ctx, "stats:7", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 3, got.Total)
	assert.Equal(t, []string{"2026-01-01"}, got.Days)
}

func TestGetJSONMissAndExpiry(t *testing.T) {
	c, mr := setupTestRedis(t)
	ctx := context.Background()

	var got payload
	found, err := c.GetJSON(ctx, "nope", &got)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.SetJSON(ctx, "k", payload{Total: 1}, 30*time.Second))
	mr.FastForward(31 * time.Second)
	found, err = c.GetJSON(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, found)
}
