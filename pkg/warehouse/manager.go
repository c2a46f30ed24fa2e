// Package warehouse manages the connection to the relational warehouse and
// exposes scoped transactional execution over it.
//
// One Manager serves one run. It moves through the connection lifecycle
// (see package connection): Connect dials with bounded retry, WithinTx is
// only available while connected, and Close releases the pool on every
// path, including failed connects.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/ajitpratap0/starload/pkg/config"
	"github.com/ajitpratap0/starload/pkg/connection"
	"github.com/ajitpratap0/starload/pkg/errors"
	"github.com/ajitpratap0/starload/pkg/retry"
)

// Manager owns the warehouse handle of one run
type Manager struct {
	cfg       config.WarehouseConfig
	dialect   *Dialect
	lifecycle *connection.Lifecycle
	logger    *zap.Logger
	txTimeout time.Duration

	db   *sql.DB
	pool *pgxpool.Pool
}

// New creates a disconnected manager for cfg
func New(cfg config.WarehouseConfig, policy *retry.Policy, txTimeout time.Duration, logger *zap.Logger) (*Manager, error) {
	dialect, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "warehouse dialect")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	system := "warehouse " + cfg.WarehouseIdentity()
	return &Manager{
		cfg:       cfg,
		dialect:   dialect,
		lifecycle: connection.New(system, policy, logger),
		logger:    logger.With(zap.String("component", "warehouse"), zap.String("driver", cfg.Driver)),
		txTimeout: txTimeout,
	}, nil
}

// Dialect returns the SQL dialect of the warehouse
func (m *Manager) Dialect() *Dialect {
	return m.dialect
}

// System names the warehouse in errors and logs
func (m *Manager) System() string {
	return m.lifecycle.System()
}

// State returns the connection state
func (m *Manager) State() connection.State {
	return m.lifecycle.State()
}

// Attempts returns how many dial attempts Connect made
func (m *Manager) Attempts() int {
	return m.lifecycle.Attempts()
}

// Connect opens and pings the warehouse under the retry policy. On
// exhaustion it returns a connection error and the manager is Failed.
func (m *Manager) Connect(ctx context.Context) error {
	return m.lifecycle.Connect(ctx, m.dial)
}

func (m *Manager) dial(ctx context.Context) error {
	db, pool, err := m.open(ctx)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		if pool != nil {
			pool.Close()
		}
		return errors.Wrap(err, errors.ErrorTypeConnection, "ping")
	}
	m.db, m.pool = db, pool
	return nil
}

func (m *Manager) open(ctx context.Context) (*sql.DB, *pgxpool.Pool, error) {
	switch m.cfg.Driver {
	case config.DriverPostgres:
		poolCfg, err := pgxpool.ParseConfig(m.cfg.DSN)
		if err != nil {
			return nil, nil, errors.Wrap(err, errors.ErrorTypeConfig, "parse postgres dsn")
		}
		if m.cfg.MaxConns > 0 {
			poolCfg.MaxConns = int32(m.cfg.MaxConns)
		}
		if m.cfg.MinConns > 0 {
			poolCfg.MinConns = int32(m.cfg.MinConns)
		}
		if m.cfg.MaxConnLifetime > 0 {
			poolCfg.MaxConnLifetime = m.cfg.MaxConnLifetime
		}
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("create pool: %w", err)
		}
		return stdlib.OpenDBFromPool(pool), pool, nil

	case config.DriverMySQL:
		mcfg, err := mysql.ParseDSN(m.cfg.DSN)
		if err != nil {
			return nil, nil, errors.Wrap(err, errors.ErrorTypeConfig, "parse mysql dsn")
		}
		mcfg.ParseTime = true
		connector, err := mysql.NewConnector(mcfg)
		if err != nil {
			return nil, nil, errors.Wrap(err, errors.ErrorTypeConfig, "mysql connector")
		}
		db := sql.OpenDB(connector)
		m.sizePool(db)
		return db, nil, nil

	case config.DriverSQLite:
		db, err := sql.Open("sqlite", m.cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		// temp tables and in-memory databases live on a single connection
		db.SetMaxOpenConns(1)
		return db, nil, nil
	}
	return nil, nil, errors.Newf(errors.ErrorTypeConfig, "unsupported warehouse driver %q", m.cfg.Driver)
}

func (m *Manager) sizePool(db *sql.DB) {
	if m.cfg.MaxConns > 0 {
		db.SetMaxOpenConns(m.cfg.MaxConns)
	}
	if m.cfg.MinConns > 0 {
		db.SetMaxIdleConns(m.cfg.MinConns)
	}
	if m.cfg.MaxConnLifetime > 0 {
		db.SetConnMaxLifetime(m.cfg.MaxConnLifetime)
	}
}

// DB returns the handle for read-only queries. Writes go through WithinTx.
func (m *Manager) DB() (*sql.DB, error) {
	if err := m.lifecycle.Require(connection.Connected); err != nil {
		return nil, err
	}
	return m.db, nil
}

// WithinTx runs fn in a transaction. The transaction commits only when fn
// returns nil; any error or panic rolls it back.
func (m *Manager) WithinTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) (err error) {
	if err := m.lifecycle.Require(connection.Connected); err != nil {
		return err
	}

	if m.txTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.txTimeout)
		defer cancel()
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "begin transaction").
			WithDetail("system", m.System())
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				m.logger.Warn("rollback failed", zap.Error(rbErr))
			}
		}
	}()

	if err = fn(ctx, tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "commit transaction").
			WithDetail("system", m.System())
	}
	return nil
}

// Close releases the handle. Safe to call in any state and more than once.
func (m *Manager) Close() error {
	return m.lifecycle.Close(func() error {
		var err error
		if m.db != nil {
			err = m.db.Close()
		}
		if m.pool != nil {
			m.pool.Close()
		}
		return err
	})
}

// Count returns the number of rows in table
func (m *Manager) Count(ctx context.Context, table string) (int, error) {
	db, err := m.DB()
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}
