package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"taskboard/domain"
)

const membersCacheKey = "taskboard:members"

// MemberCache wraps a Backend with Redis-backed caching of the member list.
// Task reads are never cached.
type MemberCache struct {
	Backend
	redis *redis.Client
	ttl   time.Duration
}

// NewMemberCache creates a caching wrapper using the provided Redis client and TTL.
func NewMemberCache(base Backend, client *redis.Client, ttl time.Duration) *MemberCache {
	if base == nil {
		panic("storage.NewMemberCache: base backend is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &MemberCache{Backend: base, redis: client, ttl: ttl}
}

func (c *MemberCache) ListMembers(ctx context.Context) ([]domain.Member, error) {
	if members, ok := c.load(ctx); ok {
		return members, nil
	}

	members, err := c.Backend.ListMembers(ctx)
	if err != nil {
		return nil, err
	}

	c.store(ctx, members)
	return members, nil
}

func (c *MemberCache) CreateMember(ctx context.Context, m domain.NewMember) (domain.Member, error) {
	member, err := c.Backend.CreateMember(ctx, m)
	if err != nil {
		return domain.Member{}, err
	}

	c.Evict(ctx)
	return member, nil
}

// Evict drops the cached member list.
func (c *MemberCache) Evict(ctx context.Context) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, membersCacheKey).Result()
}

func (c *MemberCache) load(ctx context.Context) ([]domain.Member, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, membersCacheKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing store without failing.
			_ = c.redis.Del(ctx, membersCacheKey).Err()
		}
		return nil, false
	}
	var members []domain.Member
	if err := sonic.Unmarshal(data, &members); err != nil {
		_ = c.redis.Del(ctx, membersCacheKey).Err()
		return nil, false
	}
	return members, true
}

func (c *MemberCache) store(ctx context.Context, members []domain.Member) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(members)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, membersCacheKey, data, c.ttl).Err()
}
