package runlock

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/bsm/redislock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/starload/pkg/config"
	"github.com/ajitpratap0/starload/pkg/errors"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "starload:run:postgres:localhost/pd_dw", Key("postgres:localhost/pd_dw"))
}

func TestNew(t *testing.T) {
	assert.IsType(t, Noop{}, New(config.LockConfig{}, nil))

	l := New(config.LockConfig{RedisAddr: "127.0.0.1:6379", TTL: time.Minute}, nil)
	require.IsType(t, &RedisLocker{}, l)
	assert.NoError(t, l.(*RedisLocker).Close())
}

func TestNoop(t *testing.T) {
	release, err := Noop{}.Acquire(context.Background(), "sqlite:warehouse.db")
	require.NoError(t, err)
	release()
	release()
}

func TestRedisLocker_Unreachable(t *testing.T) {
	l := NewRedis(config.LockConfig{RedisAddr: "127.0.0.1:1", TTL: time.Minute}, nil)
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	release, err := l.Acquire(ctx, "sqlite:warehouse.db")
	require.Error(t, err)
	assert.Nil(t, release)
	assert.True(t, errors.IsType(err, errors.ErrorTypeLock))

	var typed *errors.Error
	require.True(t, errors.As(err, &typed))
	assert.Equal(t, "starload:run:sqlite:warehouse.db", typed.Detail("key"))
	assert.Equal(t, "redis 127.0.0.1:1", typed.Detail("system"))
}

type countingLock struct {
	mu    sync.Mutex
	calls int
	ttl   time.Duration
	err   error
}

func (c *countingLock) Refresh(_ context.Context, ttl time.Duration, _ *redislock.Options) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.ttl = ttl
	return c.err
}

func (c *countingLock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestKeepAlive(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		stopsSelf bool
	}{
		{"refreshes until cancelled", nil, false},
		{"keeps trying after a transient failure", stderrors.New("i/o timeout"), false},
		{"stops once the lock is taken", redislock.ErrNotObtained, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lock := &countingLock{err: tt.err}
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			done := make(chan struct{})
			go func() {
				defer close(done)
				keepAlive(ctx, lock, 30*time.Minute, 5*time.Millisecond, zaptest.NewLogger(t))
			}()

			if tt.stopsSelf {
				require.Eventually(t, func() bool {
					select {
					case <-done:
						return true
					default:
						return false
					}
				}, 5*time.Second, 5*time.Millisecond)
				assert.Equal(t, 1, lock.count())
				return
			}

			require.Eventually(t, func() bool { return lock.count() >= 3 }, 5*time.Second, 5*time.Millisecond)
			cancel()
			<-done
			assert.Equal(t, 30*time.Minute, lock.ttl)
		})
	}
}

func TestKeepAlive_ZeroInterval(t *testing.T) {
	lock := &countingLock{}
	keepAlive(context.Background(), lock, 0, 0, zaptest.NewLogger(t))
	assert.Zero(t, lock.count())
}
