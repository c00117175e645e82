package redisx

import "time"

const (
	// Idempotent checkout: idem:order:place:{buyer_id}:{idempotency_key} -> order_id | "pending"
	KeyIdemOrderPlace = "idem:order:place:%d:%s"

	// Event dedup: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLInFlight    = 30 * time.Second
	TTLDedup       = 48 * time.Hour
)
