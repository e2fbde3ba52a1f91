package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/nandanugg/tj-tracking/module/core/domain"
)

type hashClient interface {
	HSet(ctx context.Context, key string, values ...interface{}) *goredis.IntCmd
	HGetAll(ctx context.Context, key string) *goredis.MapStringStringCmd
}

// StatusStore keeps one hash per device under tracking:device:<id>.
type StatusStore struct {
	rdb hashClient
}

func NewStatusStore(rdb *goredis.Client) *StatusStore {
	return &StatusStore{rdb: rdb}
}

func key(deviceID string) string {
	return "tracking:device:" + deviceID
}

func (s *StatusStore) MarkOnline(ctx context.Context, deviceID string, at time.Time) error {
	if err := s.rdb.HSet(ctx, key(deviceID), "status", domain.StatusOnline, "last_update", at.Unix()).Err(); err != nil {
		return fmt.Errorf("redis hset %s: %w", deviceID, err)
	}
	return nil
}

func (s *StatusStore) MarkOffline(ctx context.Context, deviceID string) error {
	if err := s.rdb.HSet(ctx, key(deviceID), "status", domain.StatusOffline).Err(); err != nil {
		return fmt.Errorf("redis hset %s: %w", deviceID, err)
	}
	return nil
}

// Status returns ok=false when nothing was ever recorded for deviceID.
func (s *StatusStore) Status(ctx context.Context, deviceID string) (domain.DeviceStatus, bool, error) {
	vals, err := s.rdb.HGetAll(ctx, key(deviceID)).Result()
	if err != nil {
		return domain.DeviceStatus{}, false, fmt.Errorf("redis hgetall %s: %w", deviceID, err)
	}
	if len(vals) == 0 {
		return domain.DeviceStatus{}, false, nil
	}

	st := domain.DeviceStatus{Status: vals["status"]}
	if ts, err := strconv.ParseInt(vals["last_update"], 10, 64); err == nil {
		st.LastUpdate = time.Unix(ts, 0)
	}
	return st, true, nil
}
