package judge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedResolveClient wraps a Client with a short-TTL cache in front
// of ResolveUser only: handle->rating lookups are safe to serve stale
// for a few minutes and repeated logins by the same handle are common,
// while ListAllProblems and ListRecentSubmissions must stay live (the
// former isn't cached per the reference design, the latter feeds a
// freshness-sensitive verification pipeline).
type CachedResolveClient struct {
	Client
	rdb *redis.Client
	ttl time.Duration
}

func NewCachedResolveClient(inner Client, rdb *redis.Client, ttl time.Duration) *CachedResolveClient {
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &CachedResolveClient{Client: inner, rdb: rdb, ttl: ttl}
}

func (c *CachedResolveClient) ResolveUser(ctx context.Context, handle string) (ResolvedUser, error) {
	key := "judge:resolve:" + handle
	if c.rdb != nil {
		if raw, err := c.rdb.Get(ctx, key).Result(); err == nil {
			var cached ResolvedUser
			if json.Unmarshal([]byte(raw), &cached) == nil {
				return cached, nil
			}
		}
	}

	u, err := c.Client.ResolveUser(ctx, handle)
	if err != nil {
		return ResolvedUser{}, err
	}

	if c.rdb != nil {
		if raw, err := json.Marshal(u); err == nil {
			_ = c.rdb.Set(ctx, key, raw, c.ttl).Err()
		}
	}
	return u, nil
}
