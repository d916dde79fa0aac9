package chunkstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func redisRegistry(t *testing.T) *RedisRegistry {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	return NewRedisRegistry(client, "shortsplit-test-"+uuid.NewString(), time.Hour)
}

func TestRedisRegistryLifecycle(t *testing.T) {
	ctx := context.Background()
	reg := redisRegistry(t)
	now := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, reg.Create(ctx, Session{ID: "s1", Filename: "a.mp4", CreatedAt: now, UpdatedAt: now}))
	require.Error(t, reg.Create(ctx, Session{ID: "s1"}))

	require.NoError(t, reg.DeclareTotal(ctx, "s1", 3))
	require.NoError(t, reg.DeclareTotal(ctx, "s1", 3))
	assert.ErrorIs(t, reg.DeclareTotal(ctx, "s1", 4), ErrInconsistentUpload)

	require.NoError(t, reg.MarkReceived(ctx, "s1", 2, now))
	require.NoError(t, reg.MarkReceived(ctx, "s1", 0, now))

	sess, err := reg.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "a.mp4", sess.Filename)
	assert.Equal(t, 3, sess.TotalChunks)
	assert.Equal(t, []int{0, 2}, sess.Received)
	assert.True(t, sess.CreatedAt.Equal(now))

	list, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, reg.Claim(ctx, "s1"))
	assert.ErrorIs(t, reg.Claim(ctx, "s1"), ErrFinalizing)
	sess, err = reg.Get(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, sess.Finalizing)
	require.NoError(t, reg.Release(ctx, "s1"))
	require.NoError(t, reg.Claim(ctx, "s1"))
	assert.ErrorIs(t, reg.Claim(ctx, "missing"), ErrSessionNotFound)

	require.NoError(t, reg.Delete(ctx, "s1"))
	_, err = reg.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, reg.MarkReceived(ctx, "s1", 1, now), ErrSessionNotFound)
	assert.ErrorIs(t, reg.DeclareTotal(ctx, "s1", 3), ErrSessionNotFound)
}

func TestStoreOnRedisRegistry(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := New(redisRegistry(t), Options{
		StagingDir: filepath.Join(root, "chunks"),
		OutputDir:  filepath.Join(root, "uploads"),
	})
	require.NoError(t, err)

	sess, err := store.Begin(ctx, BeginOptions{Filename: "clip.mp4"})
	require.NoError(t, err)
	for _, i := range []int{1, 0} {
		require.NoError(t, store.WriteChunk(ctx, sess.ID, i, 2, strings.NewReader([]string{"ab", "cd"}[i])))
	}

	out, err := store.Finalize(ctx, sess.ID)
	require.NoError(t, err)
	data, err := os.ReadFile(out.Path)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(data))
}
