package queue

import (
	"context"
	"errors"
	"time"

	"reminder-voice/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// Slot is a shared "one call in flight" permit.
type Slot interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// RedisSlot keeps the single-call guarantee across replicas that share a
// Redis instance.
type RedisSlot struct {
	rdb     redis.Scripter
	key     string
	ttl     time.Duration
	retry   time.Duration
	maxWait time.Duration
}

// NewRedisSlot returns a slot under key. ttl must outlast the longest call;
// it frees the slot if the holder dies.
func NewRedisSlot(rdb redis.Scripter, key string, ttl time.Duration) *RedisSlot {
	if key == "" {
		key = "dialer:inflight"
	}
	if ttl <= 0 {
		ttl = DefaultMaxWait + time.Minute
	}
	return &RedisSlot{rdb: rdb, key: key, ttl: ttl, retry: DefaultPollInterval, maxWait: ttl}
}

var ErrSlotTimeout = errors.New("queue: timed out waiting for dial slot")

func (s *RedisSlot) Acquire(ctx context.Context) (func(), error) {
	deadline := time.Now().Add(s.maxWait)
	for {
		ok, err := utils.AcquireSlot(ctx, s.rdb, s.key, 1, s.ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return func() { _ = utils.ReleaseSlot(context.WithoutCancel(ctx), s.rdb, s.key) }, nil
		}
		if !time.Now().Before(deadline) {
			return nil, ErrSlotTimeout
		}
		if err := sleep(ctx, s.retry); err != nil {
			return nil, err
		}
	}
}
