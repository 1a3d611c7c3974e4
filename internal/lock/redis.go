package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	DefaultKeyPrefix     = "newsify:lock:"
	DefaultTTL           = 2 * time.Minute
	DefaultRetryInterval = 100 * time.Millisecond
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(1, `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript resets the expiry only if the key still holds our token.
var extendScript = redis.NewScript(1, `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisConfig configures a RedisLocker.
type RedisConfig struct {
	Prefix        string
	TTL           time.Duration
	RetryInterval time.Duration
}

// RedisLocker is a Locker shared across processes through Redis.
// A held key is refreshed every TTL/3 until released, so it expires
// after TTL only when the holder dies.
type RedisLocker struct {
	pool          *redis.Pool
	prefix        string
	ttl           time.Duration
	retryInterval time.Duration
}

var _ Locker = (*RedisLocker)(nil)

// NewRedisPool creates a connection pool for addr.
func NewRedisPool(addr string) *redis.Pool {
	return &redis.Pool{
		MaxIdle:     4,
		IdleTimeout: 5 * time.Minute,
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			return redis.DialContext(ctx, "tcp", addr,
				redis.DialConnectTimeout(5*time.Second),
				redis.DialReadTimeout(5*time.Second),
				redis.DialWriteTimeout(5*time.Second),
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

// NewRedisLocker creates a RedisLocker over pool.
func NewRedisLocker(pool *redis.Pool, cfg RedisConfig) *RedisLocker {
	l := &RedisLocker{
		pool:          pool,
		prefix:        cfg.Prefix,
		ttl:           cfg.TTL,
		retryInterval: cfg.RetryInterval,
	}
	if l.prefix == "" {
		l.prefix = DefaultKeyPrefix
	}
	if l.ttl <= 0 {
		l.ttl = DefaultTTL
	}
	if l.retryInterval <= 0 {
		l.retryInterval = DefaultRetryInterval
	}
	return l
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	fullKey := l.prefix + key
	token := uuid.NewString()

	for {
		ok, err := l.trySet(ctx, fullKey, token)
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}

		timer := time.NewTimer(l.retryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(fullKey, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			if err := l.release(fullKey, token); err != nil {
				log.Warn().Err(err).Str("key", fullKey).Msg("Failed to release redis lock")
			}
		})
	}, nil
}

// keepAlive extends the key until stop is closed or the token is lost.
func (l *RedisLocker) keepAlive(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(max(l.ttl/3, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		held, err := l.extend(key, token)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Failed to extend redis lock")
			continue
		}
		if !held {
			log.Warn().Str("key", key).Msg("Redis lock lost before release")
			return
		}
	}
}

func (l *RedisLocker) extend(key, token string) (bool, error) {
	conn := l.pool.Get()
	defer conn.Close()

	n, err := redis.Int(extendScript.Do(conn, key, token, l.ttl.Milliseconds()))
	if err != nil {
		return false, fmt.Errorf("extend lock %s: %w", key, err)
	}
	return n == 1, nil
}

func (l *RedisLocker) trySet(ctx context.Context, key, token string) (bool, error) {
	conn, err := l.pool.GetContext(ctx)
	if err != nil {
		return false, fmt.Errorf("get redis connection: %w", err)
	}
	defer conn.Close()

	_, err = redis.String(conn.Do("SET", key, token, "NX", "PX", l.ttl.Milliseconds()))
	if errors.Is(err, redis.ErrNil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("set lock %s: %w", key, err)
	}
	return true, nil
}

func (l *RedisLocker) release(key, token string) error {
	conn := l.pool.Get()
	defer conn.Close()

	if _, err := releaseScript.Do(conn, key, token); err != nil {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}
