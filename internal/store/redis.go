package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis wraps redis client.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to redis with short timeouts.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &Redis{Client: client}
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

// SetSessionCounts caches a session's attendance tallies for dashboards.
func (r *Redis) SetSessionCounts(ctx context.Context, sessionID string, timeIn, timeOut int) error {
	key := sessionCountsKey(sessionID)
	if err := r.Client.HSet(ctx, key, "time_in", timeIn, "time_out", timeOut).Err(); err != nil {
		return err
	}
	return r.Client.Expire(ctx, key, 24*time.Hour).Err()
}

// GetSessionCounts reads cached attendance tallies; ok is false on a miss.
func (r *Redis) GetSessionCounts(ctx context.Context, sessionID string) (timeIn, timeOut int, ok bool, err error) {
	vals, err := r.Client.HGetAll(ctx, sessionCountsKey(sessionID)).Result()
	if err != nil {
		return 0, 0, false, err
	}
	if len(vals) == 0 {
		return 0, 0, false, nil
	}
	fmt.Sscanf(vals["time_in"], "%d", &timeIn)
	fmt.Sscanf(vals["time_out"], "%d", &timeOut)
	return timeIn, timeOut, true, nil
}

func sessionCountsKey(sessionID string) string {
	return "qrattend:session:" + sessionID + ":counts"
}
