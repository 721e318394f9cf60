// Package barrier provides a Redis-backed join barrier shared by workers on
// several hosts.
package barrier

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pipejob/internal/store"
)

// DefaultTTL bounds how long join bookkeeping outlives its last arrival.
const DefaultTTL = 7 * 24 * time.Hour

// RedisBarrier implements store.Barrier with a set of arrived children per
// parent and a fire-once marker.
type RedisBarrier struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ store.Barrier = (*RedisBarrier)(nil)

// NewRedisBarrier returns a barrier using client. Keys are namespaced under
// prefix ("pipejob" when empty).
func NewRedisBarrier(client *redis.Client, prefix string) *RedisBarrier {
	if prefix == "" {
		prefix = "pipejob"
	}
	return &RedisBarrier{client: client, prefix: prefix, ttl: DefaultTTL}
}

func (b *RedisBarrier) arrivalsKey(parent string) string {
	return fmt.Sprintf("%s:join:%s:arrivals", b.prefix, parent)
}

func (b *RedisBarrier) firedKey(parent string) string {
	return fmt.Sprintf("%s:join:%s:fired", b.prefix, parent)
}

// Arrive adds childGUID to the parent's arrival set. When the set holds at
// least expected members, the first caller to claim the fired marker wins.
func (b *RedisBarrier) Arrive(ctx context.Context, parentGUID, childGUID string, expected int) (bool, error) {
	key := b.arrivalsKey(parentGUID)
	var card *redis.IntCmd
	_, err := b.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, key, childGUID)
		p.Expire(ctx, key, b.ttl)
		card = p.SCard(ctx, key)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to record arrival of job %s: %w", childGUID, err)
	}
	if card.Val() < int64(expected) {
		return false, nil
	}
	fired, err := b.client.SetNX(ctx, b.firedKey(parentGUID), childGUID, b.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to fire join for job %s: %w", parentGUID, err)
	}
	return fired, nil
}
