// Package runlock serializes pipeline runs against the same warehouse.
//
// Two runs loading one warehouse at the same time could both stage the same
// new natural keys; the unique constraints keep the data correct but one
// run would fail. A Redis lock keyed by the warehouse identity makes the
// second run wait or stop instead. The holder refreshes the lock every third
// of its TTL, so a run longer than the TTL keeps it.
package runlock

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ajitpratap0/starload/pkg/config"
	"github.com/ajitpratap0/starload/pkg/errors"
)

// KeyPrefix prefixes every run lock key
const KeyPrefix = "starload:run:"

// Locker acquires the run lock for one warehouse
type Locker interface {
	// Acquire blocks until the lock is held or the wait budget is spent.
	// The returned release func is safe to call more than once.
	Acquire(ctx context.Context, warehouse string) (release func(), err error)
}

// Key returns the lock key of a warehouse identity
func Key(warehouse string) string {
	return KeyPrefix + warehouse
}

// Noop is a Locker that never blocks, used when no lock server is configured
type Noop struct{}

// Acquire always succeeds
func (Noop) Acquire(context.Context, string) (func(), error) {
	return func() {}, nil
}

// RedisLocker holds run locks in Redis
type RedisLocker struct {
	client *redis.Client
	locker *redislock.Client
	ttl    time.Duration
	wait   time.Duration
	logger *zap.Logger
}

// New returns a Noop locker when cfg has no Redis address, a RedisLocker
// otherwise.
func New(cfg config.LockConfig, logger *zap.Logger) Locker {
	if cfg.RedisAddr == "" {
		return Noop{}
	}
	return NewRedis(cfg, logger)
}

// NewRedis creates a Redis-backed locker
func NewRedis(cfg config.LockConfig, logger *zap.Logger) *RedisLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return &RedisLocker{
		client: client,
		locker: redislock.New(client),
		ttl:    cfg.TTL,
		wait:   cfg.WaitTimeout,
		logger: logger.With(zap.String("component", "runlock")),
	}
}

// Acquire obtains the lock of warehouse. A lock held by another run yields
// a lock error once the wait timeout passes.
func (l *RedisLocker) Acquire(ctx context.Context, warehouse string) (func(), error) {
	key := Key(warehouse)

	var strategy redislock.RetryStrategy = redislock.NoRetry()
	if l.wait > 0 {
		strategy = redislock.LimitRetry(redislock.LinearBackoff(500*time.Millisecond), int(l.wait/(500*time.Millisecond)))
	}

	lock, err := l.locker.Obtain(ctx, key, l.ttl, &redislock.Options{RetryStrategy: strategy})
	if stderrors.Is(err, redislock.ErrNotObtained) {
		return nil, errors.Newf(errors.ErrorTypeLock, "another run holds the lock on %s", warehouse).
			WithDetail("key", key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeLock, "obtain run lock on %s", warehouse).
			WithDetail("key", key).
			WithDetail("system", "redis "+l.client.Options().Addr)
	}
	l.logger.Info("run lock obtained", zap.String("key", key), zap.Duration("ttl", l.ttl))

	refreshCtx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		keepAlive(refreshCtx, lock, l.ttl, l.ttl/3, l.logger.With(zap.String("key", key)))
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			stop()
			<-done
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := lock.Release(ctx); err != nil && !stderrors.Is(err, redislock.ErrLockNotHeld) {
				l.logger.Warn("failed to release run lock", zap.String("key", key), zap.Error(err))
				return
			}
			l.logger.Info("run lock released", zap.String("key", key))
		})
	}, nil
}

type refresher interface {
	Refresh(ctx context.Context, ttl time.Duration, opt *redislock.Options) error
}

// keepAlive extends lock to ttl every interval until ctx ends. A refresh
// that finds the lock taken stops the loop; other failures are retried on
// the next tick.
func keepAlive(ctx context.Context, lock refresher, ttl, every time.Duration, logger *zap.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := lock.Refresh(ctx, ttl, nil)
			switch {
			case err == nil:
			case ctx.Err() != nil:
				return
			case stderrors.Is(err, redislock.ErrNotObtained):
				logger.Error("run lock lost to another holder", zap.Error(err))
				return
			default:
				logger.Warn("failed to refresh run lock", zap.Error(err))
			}
		}
	}
}

// Close closes the Redis client. Locks must be released first.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}
