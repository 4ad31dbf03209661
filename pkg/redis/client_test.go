package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/metadata-search/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("MDS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("MDS_TEST_REDIS_ADDR not set")
	}
	c, err := NewClient(config.RedisConfig{Addr: addr, PoolSize: 2})
	if err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSetGetFlush(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "mds-test:a", "1", time.Minute))
	require.NoError(t, c.Set(ctx, "mds-test:b", "2", time.Minute))
	v, err := c.Get(ctx, "mds-test:a")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	n, err := c.FlushByPattern(ctx, "mds-test:*")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = c.Get(ctx, "mds-test:a")
	assert.True(t, IsNilError(err))
}
