package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/driveimport/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis spins up a Redis container and returns a connected RedisCache + cleanup.
func setupRedis(t *testing.T) *cache.RedisCache {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	redisURL := "redis://" + host + ":" + port.Port()
	rc, err := cache.NewRedisCache(redisURL)
	require.NoError(t, err)

	return rc
}

// --- Ping ---

func TestPing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	err := rc.Ping(context.Background())
	assert.NoError(t, err)
}

// --- SetNX ---

func TestSetNX_FirstWins(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := cache.BatchAcceptedKey(uuid.NewString())

	ok, err := rc.SetNX(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = rc.SetNX(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetNX_AfterExpiry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := cache.BatchAcceptedKey(uuid.NewString())

	ok, err := rc.SetNX(ctx, key, 1*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(1500 * time.Millisecond)

	ok, err = rc.SetNX(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

// --- IncrWithExpiry ---

func TestIncrWithExpiry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := "ratelimit:test:" + uuid.NewString()[:8]

	val, err := rc.IncrWithExpiry(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), val)

	val, err = rc.IncrWithExpiry(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(2), val)

	val, err = rc.IncrWithExpiry(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(3), val)
}

func TestIncrWithExpiry_Expires(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := "ratelimit:expiry:" + uuid.NewString()[:8]

	_, err := rc.IncrWithExpiry(ctx, key, 1*time.Second)
	require.NoError(t, err)

	time.Sleep(1500 * time.Millisecond)

	// After expiry, should start from 1 again
	val, err := rc.IncrWithExpiry(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), val)
}

// --- Cache Key Builders ---

func TestRateLimitKey(t *testing.T) {
	assert.Equal(t, "ratelimit:10.0.0.7", cache.RateLimitKey("10.0.0.7"))
}

func TestJobKeys(t *testing.T) {
	jobID := "22222222-2222-2222-2222-222222222222"
	assert.Equal(t, "import:job:22222222-2222-2222-2222-222222222222", cache.JobKey(jobID))
	assert.Equal(t, "import:job:22222222-2222-2222-2222-222222222222:imported", cache.JobImportedKey(jobID))
	assert.Equal(t, "import:job:22222222-2222-2222-2222-222222222222:items", cache.JobItemsKey(jobID))
}

func TestKeyBuilders_NonColliding(t *testing.T) {
	id := uuid.NewString()

	keys := map[string]bool{
		cache.RateLimitKey(id):     true,
		cache.BatchAcceptedKey(id): true,
		cache.JobKey(id):           true,
		cache.JobImportedKey(id):   true,
		cache.JobItemsKey(id):      true,
	}
	assert.Len(t, keys, 5, "all keys should be unique")
}
