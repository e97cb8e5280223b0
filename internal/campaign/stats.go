package campaign

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/phishing-trainer/internal/pkg/logger"
)

// StatsService serves the live infection counter the control panel polls
// every couple of seconds. When a Redis client is provided the count is
// cached with a short TTL so the polling loop does not hammer Postgres;
// without one every call goes to the store.
type StatsService struct {
	store *Store
	rdb   *redis.Client
	ttl   time.Duration
}

// NewStatsService creates a stats service. rdb may be nil to disable caching.
func NewStatsService(store *Store, rdb *redis.Client, ttl time.Duration) *StatsService {
	return &StatsService{store: store, rdb: rdb, ttl: ttl}
}

// InfectStats returns the infected-record count of the current campaign, or
// zero if no campaign is current or the current campaign is locked.
func (ss *StatsService) InfectStats(ctx context.Context) (int, error) {
	cur, err := ss.store.Current(ctx)
	if err != nil {
		return 0, err
	}
	if cur == nil || cur.Locked() {
		return 0, nil
	}

	if ss.rdb != nil {
		key := cacheKey(cur.ID)
		if n, err := ss.rdb.Get(ctx, key).Int(); err == nil {
			return n, nil
		} else if err != redis.Nil {
			logger.Warn("stats cache read failed", "error", err.Error())
		}
	}

	count, err := ss.store.InfectedCount(ctx, cur.ID)
	if err != nil {
		return 0, err
	}

	if ss.rdb != nil {
		if err := ss.rdb.Set(ctx, cacheKey(cur.ID), count, ss.ttl).Err(); err != nil {
			logger.Warn("stats cache write failed", "error", err.Error())
		}
	}
	return count, nil
}

func cacheKey(campaignID string) string {
	return fmt.Sprintf("phish:infected:%s", campaignID)
}
