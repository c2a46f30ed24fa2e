// Package connection implements the connection state machine shared by the
// warehouse and document-store managers:
//
//	Disconnected -> Connecting -> Connected -> Closed
//	                     |
//	                     +------> Failed -> Closed
//
// Connecting runs the dial function under a bounded, fixed-interval retry.
// Only transient failures are retried: untyped errors and errors the errors
// package reports as retryable. A typed permanent failure, such as a config
// error for a malformed DSN, moves to Failed on the first attempt and keeps
// its type. Exhausting the attempts moves to Failed and yields a connection
// error naming the target system. Closed is terminal and always releases the
// underlying handle.
package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/starload/pkg/errors"
	"github.com/ajitpratap0/starload/pkg/metrics"
	"github.com/ajitpratap0/starload/pkg/retry"
)

// State is a connection lifecycle state
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Failed
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Lifecycle tracks the state of one connection to one system
type Lifecycle struct {
	system string
	policy *retry.Policy
	logger *zap.Logger

	mu       sync.Mutex
	state    State
	attempts int
}

// New creates a lifecycle in Disconnected for the named system
func New(system string, policy *retry.Policy, logger *zap.Logger) *Lifecycle {
	if policy == nil {
		policy = retry.Fixed(10, 3*time.Second)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lifecycle{
		system: system,
		policy: policy,
		logger: logger.With(zap.String("system", system)),
		state:  Disconnected,
	}
}

// System returns the name of the target system
func (l *Lifecycle) System() string {
	return l.system
}

// State returns the current state
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Attempts returns how many dial attempts the last Connect made
func (l *Lifecycle) Attempts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attempts
}

// Connect moves Disconnected -> Connecting and runs dial until it succeeds
// (Connected) or the retry budget is spent (Failed).
func (l *Lifecycle) Connect(ctx context.Context, dial func(ctx context.Context) error) error {
	if err := l.transition(Disconnected, Connecting); err != nil {
		return err
	}

	policy := *l.policy
	maxAttempts := policy.MaxAttempts
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		l.logger.Warn("connection attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Duration("retry_in", wait),
			zap.Error(err))
	}

	err := policy.ExecuteWithCondition(ctx, func(attempt int) error {
		l.mu.Lock()
		l.attempts = attempt
		l.mu.Unlock()

		if err := dial(ctx); err != nil {
			metrics.ConnectionAttempts.WithLabelValues(l.system, "failure").Inc()
			return err
		}
		metrics.ConnectionAttempts.WithLabelValues(l.system, "success").Inc()
		return nil
	}, Transient)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.state = Failed
		kind := errors.ErrorTypeConnection
		if !Transient(err) {
			kind = errors.TypeOf(err)
			l.logger.Error("connection failed permanently", zap.Error(err))
		} else {
			l.logger.Error("connection attempts exhausted",
				zap.Int("attempts", l.attempts),
				zap.Error(err))
		}
		return errors.Wrapf(err, kind, "connection with %s failed", l.system).
			WithDetail("system", l.system).
			WithDetail("attempts", l.attempts)
	}
	l.state = Connected
	l.logger.Info("connection established", zap.Int("attempts", l.attempts))
	return nil
}

// Transient reports whether a dial error is worth another attempt
func Transient(err error) bool {
	var typed *errors.Error
	if !errors.As(err, &typed) {
		return true
	}
	return errors.IsRetryable(err)
}

// Require returns an error unless the lifecycle is in want
func (l *Lifecycle) Require(want State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != want {
		return errors.Newf(errors.ErrorTypeConnection, "%s is %s, not %s", l.system, l.state, want).
			WithDetail("system", l.system)
	}
	return nil
}

// Close moves any state to Closed and calls release exactly once. Closing a
// closed lifecycle is a no-op.
func (l *Lifecycle) Close(release func() error) error {
	l.mu.Lock()
	if l.state == Closed {
		l.mu.Unlock()
		return nil
	}
	prev := l.state
	l.state = Closed
	l.mu.Unlock()

	var err error
	if release != nil {
		err = release()
	}
	l.logger.Info("connection closed", zap.String("from_state", prev.String()))
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeConnection, "close %s", l.system).
			WithDetail("system", l.system)
	}
	return nil
}

func (l *Lifecycle) transition(from, to State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != from {
		return errors.Newf(errors.ErrorTypeInternal, "%s: cannot move to %s from %s", l.system, to, l.state)
	}
	l.state = to
	return nil
}
