// Package starload loads the Brazilian e-commerce (olist) order data into a
// star schema: five dimension tables (order status, purchase time, customer,
// product, payment method) around one fact table with a row per order.
//
// # Architecture
//
// A run is a single batch pass through fixed stages:
//
//	lock -> extract -> conform -> connect -> migrate -> dimension -> load
//
// Extraction reads five CSV record sets (local, s3:// or gs://, optionally
// gzip or zstd compressed) and the review documents from MongoDB, all
// concurrently. Conforming merges them into one record per order and applies
// the null-handling policy. Each dimension is then resolved through the same
// stage, insert-if-absent, read-back protocol, and the fact rows are inserted
// if absent. Rerunning over the same snapshot writes nothing.
//
// # Quick Start
//
//	cfg := config.Default()
//	cfg.Warehouse.DSN = "postgres://etl@localhost/pd_dw"
//
//	p, err := pipeline.New(cfg)
//	if err != nil {
//	    return err
//	}
//	report, err := p.Run(context.Background())
//
// # Key Packages
//
//	pkg/source      - CSV and review extraction, s3/gcs/local openers
//	pkg/conform     - Pure merge of the record sets, one record per order
//	pkg/dimension   - Surrogate key resolution driven by a Spec per dimension
//	pkg/fact        - Fact join and insert-if-absent load
//	pkg/warehouse   - Postgres, MySQL and SQLite dialects, scoped transactions
//	pkg/docstore    - MongoDB connection for the review collection
//	pkg/connection  - Connection state machine with bounded retry
//	pkg/runlock     - Redis run lock per warehouse
//	pkg/config      - YAML configuration with environment overrides
//	pkg/errors      - Typed errors naming stage inputs and systems
//	pkg/logger      - Structured logging
//	pkg/metrics     - Prometheus metrics, pushed at the end of a run
//	pkg/tracing     - OpenTelemetry spans per stage
//
// # Configuration
//
// Configuration is YAML on top of config.Default(). Environment variables
// are substituted with ${VAR_NAME} syntax, and STARLOAD_* variables or CLI
// flags override individual keys:
//
//	STARLOAD_WAREHOUSE_DSN=postgres://etl@db/pd_dw starload run -c starload.yaml
//
// # Development
//
// Tests run against embedded SQLite. Export STARLOAD_TEST_POSTGRES_DSN or
// STARLOAD_TEST_MYSQL_DSN to also run the dialect suite against a real
// server:
//
//	go test ./...
package starload
