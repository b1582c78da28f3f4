// Package cache provides the fast key-value read models permitted by
// spec §5: presence entries for reviewers the Assigner has just marked
// offline, and the (task_id, minute)
// dedup lock the Pre-warning Emitter uses for exactly-once emission
// (spec §4.5). Both are strictly reconstructible from the Task Store;
// nothing here is a write path.
package cache

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"github.com/zjrosen/taskcore/internal/log"
)

const (
	defaultExpiration     = 2 * time.Minute
	defaultCleanupInterval = 5 * time.Minute
)

// PresenceEntry is the cached presence and heartbeat for one reviewer.
// The Assigner skips a candidate that has an offline entry; its
// candidate scan (ListReviewers) always reads Postgres.
type PresenceEntry struct {
	Presence        string
	LastHeartbeatAt time.Time
}

// PresenceCache is an in-process TTL cache of PresenceEntry values.
// The Assigner sets an entry itself right after calling
// MarkReviewerOffline, whether or not that store write succeeded.
type PresenceCache struct {
	c *gocache.Cache
}

// NewPresenceCache builds a presence cache whose entries expire after
// defaultExpiration (2 minutes).
func NewPresenceCache() *PresenceCache {
	return &PresenceCache{c: gocache.New(defaultExpiration, defaultCleanupInterval)}
}

func (p *PresenceCache) Set(reviewerID string, entry PresenceEntry) {
	p.c.Set(reviewerID, entry, gocache.DefaultExpiration)
}

func (p *PresenceCache) Get(reviewerID string) (PresenceEntry, bool) {
	v, found := p.c.Get(reviewerID)
	if !found {
		return PresenceEntry{}, false
	}
	entry, ok := v.(PresenceEntry)
	if !ok {
		log.Error(log.CatCache, "presence cache: wrong type assertion", "reviewer_id", reviewerID)
		return PresenceEntry{}, false
	}
	return entry, true
}

// WarningLock implements exactly-once emission for the (task_id,
// minute) pair per spec §4.5 / §9: acquisition failure means "already
// emitted". Two implementations share this interface: an in-process
// go-cache lock for single-instance deployments, and a Redis SET NX PX
// lock for multi-instance ones (SPEC_FULL.md §11).
type WarningLock interface {
	// TryAcquire attempts to claim (taskID, minute) for ttl. Returns
	// true only if this call is the first to claim it within ttl.
	TryAcquire(ctx context.Context, taskID string, minute int, ttl time.Duration) (bool, error)
}

// InProcessWarningLock backs WarningLock with patrickmn/go-cache, for
// single-instance deployments.
type InProcessWarningLock struct {
	c *gocache.Cache
}

func NewInProcessWarningLock() *InProcessWarningLock {
	return &InProcessWarningLock{c: gocache.New(defaultExpiration, defaultCleanupInterval)}
}

func (l *InProcessWarningLock) TryAcquire(_ context.Context, taskID string, minute int, ttl time.Duration) (bool, error) {
	key := warningKey(taskID, minute)
	if err := l.c.Add(key, struct{}{}, ttl); err != nil {
		return false, nil // already present: already emitted
	}
	return true, nil
}

// RedisWarningLock backs WarningLock with Redis SET NX PX, for
// multi-instance deployments where the dedup decision must be shared
// across processes.
type RedisWarningLock struct {
	rdb *redis.Client
}

func NewRedisWarningLock(rdb *redis.Client) *RedisWarningLock {
	return &RedisWarningLock{rdb: rdb}
}

func (l *RedisWarningLock) TryAcquire(ctx context.Context, taskID string, minute int, ttl time.Duration) (bool, error) {
	key := warningKey(taskID, minute)
	ok, err := l.rdb.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func warningKey(taskID string, minute int) string {
	return fmt.Sprintf("taskcore:warning:%s:%d", taskID, minute)
}

var (
	_ WarningLock = (*InProcessWarningLock)(nil)
	_ WarningLock = (*RedisWarningLock)(nil)
)
