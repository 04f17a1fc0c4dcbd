package dedup

import (
	"context"
	"time"

	"github.com/gomodule/redigo/redis"
)

// Redis shares the ledger between relay replicas.
type Redis struct {
	Pool   *redis.Pool
	TTL    time.Duration
	Prefix string
}

func NewRedisPool(rawURL string) *redis.Pool {
	return &redis.Pool{
		MaxIdle:     8,
		IdleTimeout: 240 * time.Second,
		Dial: func() (redis.Conn, error) {
			return redis.DialURL(rawURL,
				redis.DialConnectTimeout(2*time.Second),
				redis.DialReadTimeout(2*time.Second),
				redis.DialWriteTimeout(2*time.Second),
			)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
}

func (r *Redis) key(instance, messageID string) string {
	p := r.Prefix
	if p == "" {
		p = "relay:dedup:"
	}
	return p + Key(instance, messageID)
}

func (r *Redis) Seen(ctx context.Context, instance, messageID string) (bool, error) {
	if messageID == "" {
		return false, nil
	}
	conn, err := r.Pool.GetContext(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()
	return redis.Bool(conn.Do("EXISTS", r.key(instance, messageID)))
}

func (r *Redis) MarkProcessed(ctx context.Context, instance, messageID string) error {
	if messageID == "" {
		return nil
	}
	conn, err := r.Pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	ttl := r.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	_, err = conn.Do("SET", r.key(instance, messageID), "1", "EX", int64(ttl/time.Second))
	return err
}

func (r *Redis) Ping(ctx context.Context) error {
	conn, err := r.Pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Do("PING")
	return err
}
