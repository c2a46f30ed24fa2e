// Package testutil provides testing utilities for starload
package testutil

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/starload/pkg/config"
	"github.com/ajitpratap0/starload/pkg/retry"
	"github.com/ajitpratap0/starload/pkg/warehouse"
)

// TestLogger creates a test logger that writes to the test output.
// The logger is automatically cleaned up when the test completes.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// TestContext creates a test context with a 30-second timeout.
// The caller must call the returned cancel function to avoid leaks.
func TestContext(_ *testing.T) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// NoWaitPolicy is a fixed retry policy of attempts that never sleeps
func NoWaitPolicy(attempts int) *retry.Policy {
	return retry.Fixed(attempts, 3*time.Second).WithSleep(func(ctx context.Context, _ time.Duration) error {
		return ctx.Err()
	})
}

// SQLiteWarehouse returns the config of an empty file-backed SQLite
// warehouse that lives as long as the test.
func SQLiteWarehouse(t *testing.T) config.WarehouseConfig {
	t.Helper()
	return config.WarehouseConfig{
		Driver:  config.DriverSQLite,
		DSN:     "file:" + filepath.Join(t.TempDir(), "warehouse.db"),
		Migrate: true,
	}
}

// OpenWarehouse connects to cfg and creates the star schema. The manager
// is closed when the test completes.
func OpenWarehouse(t *testing.T, cfg config.WarehouseConfig) *warehouse.Manager {
	t.Helper()
	m, err := warehouse.New(cfg, NoWaitPolicy(1), time.Minute, TestLogger(t))
	require.NoError(t, err)
	require.NoError(t, m.Connect(context.Background()))
	t.Cleanup(func() { _ = m.Close() })
	require.NoError(t, warehouse.Migrate(context.Background(), m))
	return m
}

// CountRows returns the row count of each star schema table
func CountRows(t *testing.T, m *warehouse.Manager) map[string]int {
	t.Helper()
	counts := make(map[string]int, len(warehouse.Tables))
	for _, table := range warehouse.Tables {
		n, err := m.Count(context.Background(), table)
		require.NoError(t, err, table)
		counts[table] = n
	}
	return counts
}

// DB returns the handle of a connected manager
func DB(t *testing.T, m *warehouse.Manager) *sql.DB {
	t.Helper()
	db, err := m.DB()
	require.NoError(t, err)
	return db
}
