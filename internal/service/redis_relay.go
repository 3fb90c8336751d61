package service

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

const proctorChannel = "proctor_channel"

// RedisRelay 通过 Redis 发布订阅在多个实例之间转发监考广播
type RedisRelay struct {
	rdb     *redis.Client
	channel string
}

func NewRedisRelay(rdb *redis.Client) *RedisRelay {
	return &RedisRelay{rdb: rdb, channel: proctorChannel}
}

func (r *RedisRelay) Publish(ctx context.Context, payload []byte) error {
	return r.rdb.Publish(ctx, r.channel, payload).Err()
}

func (r *RedisRelay) Subscribe(ctx context.Context) (<-chan []byte, func() error) {
	pubsub := r.rdb.Subscribe(ctx, r.channel)
	out := make(chan []byte, observerBuffer)
	go func() {
		defer close(out)
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, pubsub.Close
}

// RedisLock 基于 SETNX 的租约锁，过期自动释放
type RedisLock struct {
	rdb *redis.Client
}

func NewRedisLock(rdb *redis.Client) *RedisLock {
	return &RedisLock{rdb: rdb}
}

func (l *RedisLock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.rdb.SetNX(ctx, key, time.Now().Unix(), ttl).Result()
}
