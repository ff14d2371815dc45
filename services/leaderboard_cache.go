package services

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"bench2drive-leaderboard/models"

	"github.com/redis/go-redis/v9"
)

// LeaderboardCache stores snapshots keyed by a generation counter. Bumping the
// generation retires every older snapshot at once.
type LeaderboardCache interface {
	Generation(ctx context.Context) (int64, error)
	Get(ctx context.Context, gen int64) ([]models.LeaderboardEntry, bool, error)
	Set(ctx context.Context, gen int64, entries []models.LeaderboardEntry) error
	Bump(ctx context.Context) (int64, error)
}

const (
	leaderboardGenKey      = "leaderboard:gen"
	leaderboardSnapshotKey = "leaderboard:snapshot:"
)

type redisLeaderboardCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLeaderboardCache(client *redis.Client, ttl time.Duration) LeaderboardCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &redisLeaderboardCache{client: client, ttl: ttl}
}

func (c *redisLeaderboardCache) Generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, leaderboardGenKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *redisLeaderboardCache) Get(ctx context.Context, gen int64) ([]models.LeaderboardEntry, bool, error) {
	raw, err := c.client.Get(ctx, snapshotKey(gen)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var entries []models.LeaderboardEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, false, err
	}
	return entries, true, nil
}

func (c *redisLeaderboardCache) Set(ctx context.Context, gen int64, entries []models.LeaderboardEntry) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, snapshotKey(gen), raw, c.ttl).Err()
}

func (c *redisLeaderboardCache) Bump(ctx context.Context) (int64, error) {
	return c.client.Incr(ctx, leaderboardGenKey).Result()
}

func snapshotKey(gen int64) string {
	return leaderboardSnapshotKey + strconv.FormatInt(gen, 10)
}

// MemoryLeaderboardCache is the single-process cache used when no Redis is configured.
type MemoryLeaderboardCache struct {
	mu       sync.Mutex
	gen      int64
	snapGen  int64
	snapshot []models.LeaderboardEntry
	ok       bool
}

func NewMemoryLeaderboardCache() *MemoryLeaderboardCache {
	return &MemoryLeaderboardCache{}
}

func (c *MemoryLeaderboardCache) Generation(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen, nil
}

func (c *MemoryLeaderboardCache) Get(_ context.Context, gen int64) ([]models.LeaderboardEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ok || c.snapGen != gen {
		return nil, false, nil
	}
	out := make([]models.LeaderboardEntry, len(c.snapshot))
	copy(out, c.snapshot)
	return out, true, nil
}

func (c *MemoryLeaderboardCache) Set(_ context.Context, gen int64, entries []models.LeaderboardEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen < c.gen {
		return nil
	}
	c.snapGen = gen
	c.snapshot = append([]models.LeaderboardEntry(nil), entries...)
	c.ok = true
	return nil
}

func (c *MemoryLeaderboardCache) Bump(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.ok = false
	return c.gen, nil
}
