package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRegistry keeps sessions in Redis so several service instances can
// accept chunks for the same upload against a shared staging volume.
//
// Layout: <prefix>:upload:<id> is a hash (file_name, total_chunks, created_at,
// updated_at), <prefix>:upload:<id>:chunks a set of indices, and
// <prefix>:uploads the set of live ids. A finalizing=1 field marks a session
// claimed by a finalizer.
type RedisRegistry struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisRegistry returns a registry on client. Keys expire ttl after the last
// write when ttl is positive.
func NewRedisRegistry(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisRegistry {
	if prefix == "" {
		prefix = "shortsplit"
	}
	return &RedisRegistry{client: client, prefix: prefix, ttl: ttl}
}

var declareTotalScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
local cur = tonumber(redis.call('HGET', KEYS[1], 'total_chunks') or '0')
if cur == 0 then
  redis.call('HSET', KEYS[1], 'total_chunks', ARGV[1])
  return tonumber(ARGV[1])
end
return cur
`)

var markReceivedScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
redis.call('SADD', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[1], 'updated_at', ARGV[2])
local ttl = tonumber(ARGV[3])
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[1], ttl)
  redis.call('PEXPIRE', KEYS[2], ttl)
end
return 1
`)

var claimScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
return redis.call('HSETNX', KEYS[1], 'finalizing', '1')
`)

func (r *RedisRegistry) sessionKey(id string) string { return r.prefix + ":upload:" + id }
func (r *RedisRegistry) chunksKey(id string) string  { return r.prefix + ":upload:" + id + ":chunks" }
func (r *RedisRegistry) indexKey() string            { return r.prefix + ":uploads" }

func (r *RedisRegistry) Create(ctx context.Context, s Session) error {
	key := r.sessionKey(s.ID)
	created, err := r.client.HSetNX(ctx, key, "file_name", s.Filename).Result()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if !created {
		return fmt.Errorf("session %s already exists", s.ID)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"total_chunks", s.TotalChunks,
			"created_at", s.CreatedAt.UTC().Format(time.RFC3339Nano),
			"updated_at", s.UpdatedAt.UTC().Format(time.RFC3339Nano),
		)
		pipe.SAdd(ctx, r.indexKey(), s.ID)
		if r.ttl > 0 {
			pipe.PExpire(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Get(ctx context.Context, id string) (Session, error) {
	fields, err := r.client.HGetAll(ctx, r.sessionKey(id)).Result()
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	if len(fields) == 0 {
		return Session{}, ErrSessionNotFound
	}
	members, err := r.client.SMembers(ctx, r.chunksKey(id)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Session{}, fmt.Errorf("get session chunks: %w", err)
	}
	return decodeSession(id, fields, members)
}

func (r *RedisRegistry) DeclareTotal(ctx context.Context, id string, total int) error {
	cur, err := declareTotalScript.Run(ctx, r.client, []string{r.sessionKey(id)}, total).Int()
	if err != nil {
		return fmt.Errorf("declare total: %w", err)
	}
	switch cur {
	case -1:
		return ErrSessionNotFound
	case total:
		return nil
	default:
		return fmt.Errorf("%w: total chunks %d, session declared %d", ErrInconsistentUpload, total, cur)
	}
}

func (r *RedisRegistry) MarkReceived(ctx context.Context, id string, index int, at time.Time) error {
	ok, err := markReceivedScript.Run(ctx, r.client,
		[]string{r.sessionKey(id), r.chunksKey(id)},
		index, at.UTC().Format(time.RFC3339Nano), r.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("mark chunk received: %w", err)
	}
	if ok == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *RedisRegistry) Claim(ctx context.Context, id string) error {
	res, err := claimScript.Run(ctx, r.client, []string{r.sessionKey(id)}).Int()
	if err != nil {
		return fmt.Errorf("claim session: %w", err)
	}
	switch res {
	case -1:
		return ErrSessionNotFound
	case 0:
		return ErrFinalizing
	default:
		return nil
	}
}

func (r *RedisRegistry) Release(ctx context.Context, id string) error {
	if err := r.client.HDel(ctx, r.sessionKey(id), "finalizing").Err(); err != nil {
		return fmt.Errorf("release session: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Delete(ctx context.Context, id string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.sessionKey(id), r.chunksKey(id))
		pipe.SRem(ctx, r.indexKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// List returns live sessions and prunes ids whose hash has expired.
func (r *RedisRegistry) List(ctx context.Context) ([]Session, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]Session, 0, len(ids))
	for _, id := range ids {
		s, err := r.Get(ctx, id)
		if errors.Is(err, ErrSessionNotFound) {
			r.client.SRem(ctx, r.indexKey(), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func decodeSession(id string, fields map[string]string, members []string) (Session, error) {
	s := Session{ID: id, Filename: fields["file_name"], Finalizing: fields["finalizing"] == "1"}
	if v := fields["total_chunks"]; v != "" {
		total, err := strconv.Atoi(v)
		if err != nil {
			return Session{}, fmt.Errorf("decode session %s: total_chunks: %w", id, err)
		}
		s.TotalChunks = total
	}
	s.CreatedAt, _ = time.Parse(time.RFC3339Nano, fields["created_at"])
	s.UpdatedAt, _ = time.Parse(time.RFC3339Nano, fields["updated_at"])

	s.Received = make([]int, 0, len(members))
	for _, m := range members {
		i, err := strconv.Atoi(m)
		if err != nil {
			continue
		}
		s.Received = append(s.Received, i)
	}
	sort.Ints(s.Received)
	return s, nil
}
