// Package config provides the configuration system for starload.
// A single Config structure describes one pipeline deployment: where the
// source files and review documents live, which warehouse to load, how hard
// to retry connections, and how to observe the run.
//
// The configuration is organized into logical sections:
//   - Sources: locations of the five CSV record sets
//   - Reviews: the document store holding order reviews
//   - Warehouse: dialect, DSN and pool sizing of the target warehouse
//   - Reliability: bounded connection retry and statement timeouts
//   - Lock: the external run mutex serializing concurrent runs
//   - Observability: logging, metrics and tracing
//
// Example usage:
//
//	cfg := config.Default()
//	cfg.Warehouse.DSN = "postgres://etl@localhost/pd_dw"
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/ajitpratap0/starload/pkg/logger"
)

// Supported warehouse drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
)

// Default olist file names, resolved against SourcesConfig.Dir
const (
	DefaultOrderItemsFile = "olist_order_items_dataset.csv"
	DefaultPaymentsFile   = "olist_order_payments_dataset.csv"
	DefaultOrdersFile     = "olist_orders_dataset.csv"
	DefaultProductsFile   = "olist_products_dataset.csv"
	DefaultCustomersFile  = "olist_customers_dataset.csv"
)

// Config is the root configuration of a pipeline deployment
type Config struct {
	// Name identifies the deployment in logs and metrics
	Name string `yaml:"name" json:"name"`

	Sources       SourcesConfig       `yaml:"sources" json:"sources"`
	Reviews       ReviewsConfig       `yaml:"reviews" json:"reviews"`
	Warehouse     WarehouseConfig     `yaml:"warehouse" json:"warehouse"`
	Reliability   ReliabilityConfig   `yaml:"reliability" json:"reliability"`
	Lock          LockConfig          `yaml:"lock" json:"lock"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// SourcesConfig locates the tabular inputs. Each file may be a local path,
// an s3:// or gs:// URL, and may carry a .gz or .zst suffix. Relative file
// names are resolved against Dir.
type SourcesConfig struct {
	Dir        string `yaml:"dir" json:"dir"`
	OrderItems string `yaml:"order_items" json:"order_items"`
	Payments   string `yaml:"payments" json:"payments"`
	Orders     string `yaml:"orders" json:"orders"`
	Products   string `yaml:"products" json:"products"`
	Customers  string `yaml:"customers" json:"customers"`

	S3 S3Config `yaml:"s3" json:"s3"`
}

// S3Config tunes the S3 client used for s3:// locations
type S3Config struct {
	Region    string `yaml:"region" json:"region"`
	Endpoint  string `yaml:"endpoint" json:"endpoint"` // optional, e.g. MinIO
	PathStyle bool   `yaml:"path_style" json:"path_style"`
}

// ReviewsConfig points at the review collection in the document store
type ReviewsConfig struct {
	// URI is the MongoDB connection string. Empty disables the review lookup,
	// in which case every score takes the missing-score sentinel.
	URI        string `yaml:"uri" json:"uri"`
	Database   string `yaml:"database" json:"database"`
	Collection string `yaml:"collection" json:"collection"`
}

// WarehouseConfig selects and sizes the target warehouse
type WarehouseConfig struct {
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"dsn"`
	// MaxConns caps the pool; the pipeline itself only needs one
	MaxConns        int           `yaml:"max_conns" json:"max_conns"`
	MinConns        int           `yaml:"min_conns" json:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime" json:"max_conn_lifetime"`
	// Migrate creates missing tables before loading
	Migrate bool `yaml:"migrate" json:"migrate"`
}

// ReliabilityConfig contains connection retry settings.
type ReliabilityConfig struct {
	// ConnectAttempts is the maximum number of connection attempts per system
	ConnectAttempts int `yaml:"connect_attempts" json:"connect_attempts"`
	// ConnectInterval is the fixed wait between attempts
	ConnectInterval time.Duration `yaml:"connect_interval" json:"connect_interval"`
	// StatementTimeout bounds each warehouse transaction (0 = none)
	StatementTimeout time.Duration `yaml:"statement_timeout" json:"statement_timeout"`
}

// LockConfig configures the run mutex. An empty RedisAddr disables locking.
type LockConfig struct {
	RedisAddr     string        `yaml:"redis_addr" json:"redis_addr"`
	RedisPassword string        `yaml:"redis_password" json:"redis_password"`
	RedisDB       int           `yaml:"redis_db" json:"redis_db"`
	TTL           time.Duration `yaml:"ttl" json:"ttl"`
	// WaitTimeout is how long to keep retrying a held lock (0 = fail immediately)
	WaitTimeout time.Duration `yaml:"wait_timeout" json:"wait_timeout"`
}

// ObservabilityConfig contains logging, metrics and tracing settings
type ObservabilityConfig struct {
	Logging logger.Config `yaml:"logging" json:"logging"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
}

// MetricsConfig controls Prometheus metrics
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// PushGateway, when set, receives the run's metrics once the run ends
	PushGateway string `yaml:"push_gateway" json:"push_gateway"`
	Job         string `yaml:"job" json:"job"`
}

// TracingConfig controls OpenTelemetry tracing
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled" json:"enabled"`
	ServiceName string  `yaml:"service_name" json:"service_name"`
	Exporter    string  `yaml:"exporter" json:"exporter"` // stdout or none
	SampleRate  float64 `yaml:"sample_rate" json:"sample_rate"`
}

// Default returns a Config with the defaults of the original deployment:
// local ./input files, a Postgres warehouse and 10 connection attempts
// three seconds apart.
func Default() *Config {
	return &Config{
		Name: "starload",
		Sources: SourcesConfig{
			Dir:        "./input",
			OrderItems: DefaultOrderItemsFile,
			Payments:   DefaultPaymentsFile,
			Orders:     DefaultOrdersFile,
			Products:   DefaultProductsFile,
			Customers:  DefaultCustomersFile,
			S3: S3Config{
				Region: "us-east-1",
			},
		},
		Reviews: ReviewsConfig{
			Database:   "ecommerce",
			Collection: "order_reviews",
		},
		Warehouse: WarehouseConfig{
			Driver:          DriverPostgres,
			MaxConns:        4,
			MinConns:        1,
			MaxConnLifetime: time.Hour,
			Migrate:         true,
		},
		Reliability: ReliabilityConfig{
			ConnectAttempts:  10,
			ConnectInterval:  3 * time.Second,
			StatementTimeout: 10 * time.Minute,
		},
		Lock: LockConfig{
			TTL: 30 * time.Minute,
		},
		Observability: ObservabilityConfig{
			Logging: logger.Config{
				Level:    "info",
				Encoding: "json",
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Job:     "starload",
			},
			Tracing: TracingConfig{
				ServiceName: "starload",
				Exporter:    "stdout",
				SampleRate:  1.0,
			},
		},
	}
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	switch c.Warehouse.Driver {
	case DriverPostgres, DriverSQLite, DriverMySQL:
	default:
		return fmt.Errorf("warehouse.driver %q is not supported", c.Warehouse.Driver)
	}
	if c.Warehouse.DSN == "" {
		return fmt.Errorf("warehouse.dsn is required")
	}
	if c.Warehouse.MaxConns < 0 || c.Warehouse.MinConns < 0 {
		return fmt.Errorf("warehouse pool sizes cannot be negative")
	}
	if c.Warehouse.MaxConns > 0 && c.Warehouse.MinConns > c.Warehouse.MaxConns {
		return fmt.Errorf("warehouse.min_conns cannot exceed max_conns")
	}
	if c.Reliability.ConnectAttempts <= 0 {
		return fmt.Errorf("reliability.connect_attempts must be positive")
	}
	if c.Reliability.ConnectInterval < 0 {
		return fmt.Errorf("reliability.connect_interval cannot be negative")
	}
	for name, loc := range c.Sources.Locations() {
		if loc == "" {
			return fmt.Errorf("sources.%s is required", name)
		}
	}
	if c.Reviews.URI != "" && (c.Reviews.Database == "" || c.Reviews.Collection == "") {
		return fmt.Errorf("reviews.database and reviews.collection are required with reviews.uri")
	}
	if c.Lock.RedisAddr != "" && c.Lock.TTL <= 0 {
		return fmt.Errorf("lock.ttl must be positive when locking is enabled")
	}
	if c.Observability.Tracing.SampleRate < 0 || c.Observability.Tracing.SampleRate > 1 {
		return fmt.Errorf("observability.tracing.sample_rate must be within [0,1]")
	}
	return nil
}

// Locations returns each source location resolved against Dir, keyed by
// the source name used in logs and metrics.
func (s SourcesConfig) Locations() map[string]string {
	return map[string]string{
		"order_items": s.resolve(s.OrderItems),
		"payments":    s.resolve(s.Payments),
		"orders":      s.resolve(s.Orders),
		"products":    s.resolve(s.Products),
		"customers":   s.resolve(s.Customers),
	}
}

func (s SourcesConfig) resolve(loc string) string {
	if loc == "" {
		return ""
	}
	if strings.Contains(loc, "://") || path.IsAbs(loc) || s.Dir == "" {
		return loc
	}
	if strings.Contains(s.Dir, "://") {
		return strings.TrimSuffix(s.Dir, "/") + "/" + loc
	}
	return path.Join(s.Dir, loc)
}

// WarehouseIdentity names the target warehouse for locking and metrics
// without exposing credentials.
func (w WarehouseConfig) WarehouseIdentity() string {
	dsn := w.DSN
	if i := strings.Index(dsn, "@"); i >= 0 {
		dsn = dsn[i+1:]
	}
	if i := strings.Index(dsn, "?"); i >= 0 {
		dsn = dsn[:i]
	}
	return w.Driver + ":" + dsn
}
