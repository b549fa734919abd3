// Package store mirrors the latest device state into Redis so external
// consumers can read positions without touching the gateway.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

var ctx = context.Background()
var rdb *redis.Client

const stateTTL = 10 * time.Minute

// InitRedis connects and pings the server. Mirroring stays disabled until
// this succeeds.
func InitRedis(addr string, db int) error {
	rdb = redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb = nil
		return fmt.Errorf("redis ping failed: %w", err)
	}
	slog.Info("redis connected", "addr", addr)
	return nil
}

func deviceKey(imei string) string {
	return "gt06:device:" + imei
}

// SaveDeviceStateSafe writes the JSON-encoded state under gt06:device:<imei>
// with a sliding TTL. Failures are logged, never propagated.
func SaveDeviceStateSafe(imei string, state interface{}) {
	if rdb == nil {
		return
	}
	data, err := json.Marshal(state)
	if err != nil {
		slog.Error("redis marshal state", "imei", imei, "err", err)
		return
	}
	if err := rdb.Set(ctx, deviceKey(imei), data, stateTTL).Err(); err != nil {
		slog.Error("redis SET failed", "imei", imei, "err", err)
	}
}

// GetDeviceState reads the mirrored state back into out.
func GetDeviceState(imei string, out interface{}) bool {
	if rdb == nil {
		return false
	}
	val, err := rdb.Get(ctx, deviceKey(imei)).Result()
	if err != nil {
		return false
	}
	return json.Unmarshal([]byte(val), out) == nil
}
