package redisx

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Deduper marks event ids as processed for one consuming service.
type Deduper struct {
	RDB     redis.Cmdable
	Service string
}

// FirstSeen reports whether id had not been marked yet, and marks it.
func (d *Deduper) FirstSeen(ctx context.Context, id string) (bool, error) {
	ok, err := d.RDB.SetNX(ctx, fmt.Sprintf(KeyDedup, d.Service, id), "1", TTLDedup).Result()
	if err != nil {
		return false, fmt.Errorf("rdb.SetNX: %w", err)
	}
	return ok, nil
}

// Forget unmarks id so a redelivery gets processed again.
func (d *Deduper) Forget(ctx context.Context, id string) error {
	if err := d.RDB.Del(ctx, fmt.Sprintf(KeyDedup, d.Service, id)).Err(); err != nil {
		return fmt.Errorf("rdb.Del: %w", err)
	}
	return nil
}
