package redisx

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

type ClaimState int

const (
	// ClaimNew: the caller owns the key and must Finish or Release it.
	ClaimNew ClaimState = iota + 1
	// ClaimInFlight: another request with the same key is still running.
	ClaimInFlight
	// ClaimDone: the key already produced an order.
	ClaimDone
)

const inFlightMarker = "pending"

// IdempotencyStore remembers which order an Idempotency-Key produced for a buyer.
type IdempotencyStore struct{ RDB redis.Cmdable }

func idemKey(buyerID int64, key string) string {
	return fmt.Sprintf(KeyIdemOrderPlace, buyerID, key)
}

func (s *IdempotencyStore) Claim(ctx context.Context, buyerID int64, key string) (ClaimState, int64, error) {
	k := idemKey(buyerID, key)

	ok, err := s.RDB.SetNX(ctx, k, inFlightMarker, TTLInFlight).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("rdb.SetNX: %w", err)
	}
	if ok {
		return ClaimNew, 0, nil
	}

	v, err := s.RDB.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET; let the client retry
		return ClaimInFlight, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("rdb.Get: %w", err)
	}
	if v == inFlightMarker {
		return ClaimInFlight, 0, nil
	}

	orderID, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("idempotency value[%s] is not an order id: %w", v, err)
	}
	return ClaimDone, orderID, nil
}

func (s *IdempotencyStore) Finish(ctx context.Context, buyerID int64, key string, orderID int64) error {
	if err := s.RDB.Set(ctx, idemKey(buyerID, key), orderID, TTLIdempotency).Err(); err != nil {
		return fmt.Errorf("rdb.Set: %w", err)
	}
	return nil
}

// Release drops a claim whose checkout failed so the key can be reused.
func (s *IdempotencyStore) Release(ctx context.Context, buyerID int64, key string) error {
	if err := s.RDB.Del(ctx, idemKey(buyerID, key)).Err(); err != nil {
		return fmt.Errorf("rdb.Del: %w", err)
	}
	return nil
}
