package redisx

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrInFlight  = errors.New("request with this idempotency key is still in flight")
	ErrKeyReused = errors.New("idempotency key was already used with a different request")
)

// Idempotency guards order creation behind a client supplied key. Keys are scoped
// per user and remember a fingerprint of the request they were first used with.
type Idempotency struct{ RDB redis.Cmdable }

type idemRecord struct {
	Fingerprint string `json:"fp"`
	OrderID     string `json:"order_id,omitempty"` // empty while in flight
}

// Fingerprint hashes the parts of a request that must match on a replay.
func Fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Claim reserves key of userID for a new request with fingerprint fp. It returns
// the order id of an earlier successful request with the same key, ErrInFlight
// while that one still runs, or ErrKeyReused when the earlier request differed.
// An empty id and nil error mean the caller owns the key now.
func (i Idempotency) Claim(ctx context.Context, userID, key, fp string) (string, error) {
	k := fmt.Sprintf(KeyIdemOrderCreate, userID, key)
	pending, err := json.Marshal(idemRecord{Fingerprint: fp})
	if err != nil {
		return "", err
	}
	ok, err := i.RDB.SetNX(ctx, k, pending, TTLIdemPending).Result()
	if err != nil {
		return "", err
	}
	if ok {
		return "", nil
	}
	v, err := i.RDB.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET; try once more
		return i.Claim(ctx, userID, key, fp)
	}
	if err != nil {
		return "", err
	}
	var rec idemRecord
	if err := json.Unmarshal([]byte(v), &rec); err != nil {
		return "", fmt.Errorf("decode idempotency record: %w", err)
	}
	switch {
	case rec.Fingerprint != fp:
		return "", ErrKeyReused
	case rec.OrderID == "":
		return "", ErrInFlight
	}
	return rec.OrderID, nil
}

func (i Idempotency) Complete(ctx context.Context, userID, key, fp, orderID string) error {
	b, err := json.Marshal(idemRecord{Fingerprint: fp, OrderID: orderID})
	if err != nil {
		return err
	}
	return i.RDB.Set(ctx, fmt.Sprintf(KeyIdemOrderCreate, userID, key), b, TTLIdempotency).Err()
}

// Release drops a claim whose request failed, so the client may retry.
func (i Idempotency) Release(ctx context.Context, userID, key string) error {
	return i.RDB.Del(ctx, fmt.Sprintf(KeyIdemOrderCreate, userID, key)).Err()
}

type CachedStatus struct {
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusCache is a read-through cache of order status; the store stays the truth.
type StatusCache struct{ RDB redis.Cmdable }

func (c StatusCache) Get(ctx context.Context, orderID string) (CachedStatus, bool, error) {
	s, err := c.RDB.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Result()
	if errors.Is(err, redis.Nil) {
		return CachedStatus{}, false, nil
	}
	if err != nil {
		return CachedStatus{}, false, err
	}
	var cs CachedStatus
	if err := json.Unmarshal([]byte(s), &cs); err != nil {
		return CachedStatus{}, false, fmt.Errorf("decode cached status: %w", err)
	}
	return cs, true, nil
}

func (c StatusCache) Set(ctx context.Context, orderID string, cs CachedStatus) error {
	b, err := json.Marshal(cs)
	if err != nil {
		return err
	}
	return c.RDB.Set(ctx, fmt.Sprintf(KeyOrderStatus, orderID), b, TTLStatusCache).Err()
}

// Dedup remembers processed event ids per consuming service.
type Dedup struct {
	RDB     redis.Cmdable
	Service string
}

// First reports whether eventID is seen for the first time, marking it seen.
func (d Dedup) First(ctx context.Context, eventID string) (bool, error) {
	return d.RDB.SetNX(ctx, fmt.Sprintf(KeyDedup, d.Service, eventID), "1", TTLDedup).Result()
}

// Forget unmarks eventID after processing failed, so a redelivery is handled again.
func (d Dedup) Forget(ctx context.Context, eventID string) error {
	return d.RDB.Del(ctx, fmt.Sprintf(KeyDedup, d.Service, eventID)).Err()
}
