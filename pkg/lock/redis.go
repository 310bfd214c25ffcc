package lock

import (
	"context"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisLocker takes SET NX PX locks shared by every replica
type RedisLocker struct {
	rdb       redis.UniversalClient
	keyPrefix string
	opts      Options
	logger    ectologger.Logger
}

func NewRedisLocker(rdb redis.UniversalClient, keyPrefix string, opts Options, logger ectologger.Logger) *RedisLocker {
	if keyPrefix == "" {
		keyPrefix = "clover:lock:"
	}
	return &RedisLocker{rdb: rdb, keyPrefix: keyPrefix, opts: opts.withDefaults(), logger: logger}
}

type redisLock struct {
	key   string
	value string
}

func (l *RedisLocker) Acquire(ctx context.Context, keys ...string) (Release, error) {
	token := uuid.New().String()
	var held []redisLock

	release := func(ctx context.Context) error {
		var errs []error
		for _, lock := range held {
			if err := l.release(ctx, lock); err != nil {
				errs = append(errs, err)
			}
		}
		held = nil
		return errors.Join(errs...)
	}

	deadline := time.Now().Add(l.opts.Timeout)
	for _, key := range sortedUnique(keys) {
		lock, err := l.acquire(ctx, l.keyPrefix+key, token, deadline)
		if err != nil {
			if releaseErr := release(ctx); releaseErr != nil {
				l.logger.WithContext(ctx).WithError(releaseErr).Warn("Failed to release partially acquired locks")
			}
			return nil, err
		}
		held = append(held, lock)
	}

	l.logger.WithContext(ctx).WithField("keys", keys).Debug("Acquired locks")
	return release, nil
}

func (l *RedisLocker) acquire(ctx context.Context, key, token string, deadline time.Time) (redisLock, error) {
	wait := 10 * time.Millisecond
	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.opts.TTL).Result()
		if err != nil {
			return redisLock{}, err
		}
		if ok {
			return redisLock{key: key, value: token}, nil
		}
		if l.opts.Mode == ModeFailFast || (l.opts.Timeout > 0 && !time.Now().Before(deadline)) {
			return redisLock{}, ErrLockNotAcquired
		}

		select {
		case <-ctx.Done():
			return redisLock{}, ctx.Err()
		case <-time.After(wait):
			wait = backoff(wait)
		}
	}
}

func (l *RedisLocker) release(ctx context.Context, lock redisLock) error {
	result, err := releaseScript.Run(ctx, l.rdb, []string{lock.key}, lock.value).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotHeld
	}
	return nil
}
