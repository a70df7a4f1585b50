package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-realtime-chat/internal/config"
)

// ConnectRedis opens and pings a client. It returns (nil, nil) when no
// address is configured.
func ConnectRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "worker.ConnectRedis")
	}
	log.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("connected to redis")
	return rdb, nil
}

// lockClient is the subset of *redis.Client the lock needs.
type lockClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// releaseScript deletes the key only while it still holds our token.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) else return 0 end`

// RedisLock is a best-effort single-runner lock (SET key token NX PX ttl).
type RedisLock struct {
	client lockClient
	key    string
	ttl    time.Duration
}

// NewRedisLock returns a lock on key that expires after ttl if never released.
func NewRedisLock(client lockClient, key string, ttl time.Duration) *RedisLock {
	return &RedisLock{client: client, key: key, ttl: ttl}
}

// TryAcquire takes the lock without waiting. When ok is true, release must
// be called once the work is done.
func (l *RedisLock) TryAcquire(ctx context.Context) (release func(), ok bool, err error) {
	token := uuid.NewString()
	ok, err = l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, errors.Wrap(err, "worker.RedisLock: setnx")
	}
	if !ok {
		return nil, false, nil
	}
	return func() {
		// the work may have outlived ctx
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := l.client.Eval(rctx, releaseScript, []string{l.key}, token).Err(); err != nil {
			log.Warn().Err(err).Str("key", l.key).Msg("release redis lock")
		}
	}, true, nil
}
