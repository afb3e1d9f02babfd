package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const otpKeyPrefix = "placelists:otp:"

// RedisTokens stores one-time tokens in Redis. Keys outlive the token's
// expiry by expiredRetention so an expired token is still recognized.
type RedisTokens struct {
	client redis.Cmdable
	now    func() time.Time
}

func NewRedisTokens(client redis.Cmdable, now func() time.Time) *RedisTokens {
	if now == nil {
		now = time.Now
	}
	return &RedisTokens{client: client, now: now}
}

var _ OneTimeTokens = (*RedisTokens)(nil)

func (r *RedisTokens) Put(ctx context.Context, hash string, rec OTPRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding one-time token: %w", err)
	}

	ttl := rec.ExpiresAt.Sub(r.now()) + expiredRetention
	if ttl <= 0 {
		return fmt.Errorf("one-time token already past retention")
	}

	ok, err := r.client.SetNX(ctx, otpKeyPrefix+hash, data, ttl).Result()
	if err != nil {
		return fmt.Errorf("storing one-time token: %w", err)
	}
	if !ok {
		return fmt.Errorf("one-time token collision")
	}
	return nil
}

// Take reads and deletes the token atomically.
func (r *RedisTokens) Take(ctx context.Context, hash string) (*OTPRecord, error) {
	data, err := r.client.GetDel(ctx, otpKeyPrefix+hash).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrOTPNotFound
		}
		return nil, fmt.Errorf("taking one-time token: %w", err)
	}

	var rec OTPRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding one-time token: %w", err)
	}
	return &rec, nil
}
