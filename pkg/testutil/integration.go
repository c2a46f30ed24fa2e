package testutil

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/ajitpratap0/starload/pkg/config"
	"github.com/ajitpratap0/starload/pkg/warehouse"
)

// Environment variables naming external warehouses for integration tests
const (
	EnvPostgresDSN = "STARLOAD_TEST_POSTGRES_DSN"
	EnvMySQLDSN    = "STARLOAD_TEST_MYSQL_DSN"
)

// IntegrationTest marks a test as an integration test
func IntegrationTest(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// ExternalWarehouse returns the config of the warehouse named by env, or
// skips the test when the variable is unset.
func ExternalWarehouse(t *testing.T, driver, env string) config.WarehouseConfig {
	t.Helper()
	IntegrationTest(t)
	dsn := os.Getenv(env)
	if dsn == "" {
		t.Skipf("%s not set", env)
	}
	return config.WarehouseConfig{
		Driver:   driver,
		DSN:      dsn,
		MaxConns: 2,
		Migrate:  true,
	}
}

// Warehouses returns every warehouse available to integration tests:
// embedded SQLite always, Postgres and MySQL when their DSN is exported.
func Warehouses() map[string]func(t *testing.T) config.WarehouseConfig {
	return map[string]func(t *testing.T) config.WarehouseConfig{
		config.DriverSQLite: SQLiteWarehouse,
		config.DriverPostgres: func(t *testing.T) config.WarehouseConfig {
			return ExternalWarehouse(t, config.DriverPostgres, EnvPostgresDSN)
		},
		config.DriverMySQL: func(t *testing.T) config.WarehouseConfig {
			return ExternalWarehouse(t, config.DriverMySQL, EnvMySQLDSN)
		},
	}
}

// DropSchema drops the star schema tables, fact table first
func DropSchema(t *testing.T, m *warehouse.Manager) {
	t.Helper()
	for i := len(warehouse.Tables) - 1; i >= 0; i-- {
		_, err := DB(t, m).ExecContext(context.Background(), fmt.Sprintf("DROP TABLE IF EXISTS %s", warehouse.Tables[i]))
		require.NoError(t, err, warehouse.Tables[i])
	}
}

// WarehouseSuite is a testify suite that hands every test an empty star
// schema in the warehouse returned by Config.
type WarehouseSuite struct {
	suite.Suite

	// Config returns the warehouse under test; SQLiteWarehouse when nil
	Config func(t *testing.T) config.WarehouseConfig

	ctx       context.Context
	cancel    context.CancelFunc
	cfg       config.WarehouseConfig
	wh        *warehouse.Manager
	startTime time.Time
}

// SetupSuite runs before all tests in the suite
func (s *WarehouseSuite) SetupSuite() {
	s.startTime = time.Now()
	if s.Config == nil {
		s.Config = SQLiteWarehouse
	}
}

// SetupTest gives each test a fresh context and empty tables
func (s *WarehouseSuite) SetupTest() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 5*time.Minute)
	s.cfg = s.Config(s.T())
	s.wh = OpenWarehouse(s.T(), s.cfg)
	DropSchema(s.T(), s.wh)
	require.NoError(s.T(), warehouse.Migrate(s.ctx, s.wh))
}

// TearDownTest cancels the test context
func (s *WarehouseSuite) TearDownTest() {
	s.cancel()
}

// TearDownSuite runs after all tests in the suite
func (s *WarehouseSuite) TearDownSuite() {
	s.T().Logf("warehouse suite completed in %v", time.Since(s.startTime))
}

// Context returns the test context
func (s *WarehouseSuite) Context() context.Context {
	return s.ctx
}

// WarehouseConfig returns the config of the warehouse under test
func (s *WarehouseSuite) WarehouseConfig() config.WarehouseConfig {
	return s.cfg
}

// Warehouse returns a connected manager on the warehouse under test
func (s *WarehouseSuite) Warehouse() *warehouse.Manager {
	return s.wh
}

// Counts returns the current row count of every star schema table
func (s *WarehouseSuite) Counts() map[string]int {
	return CountRows(s.T(), s.wh)
}
