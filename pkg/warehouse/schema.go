package warehouse

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/ajitpratap0/starload/pkg/config"
	"github.com/ajitpratap0/starload/pkg/errors"
)

// Star schema tables
const (
	TableStatus        = "dim_order_status"
	TableTime          = "dim_time"
	TableCustomer      = "dim_customer"
	TableProduct       = "dim_product"
	TablePaymentMethod = "dim_payment_method"
	TableFact          = "fact_order"
)

// Tables lists the star schema in creation order
var Tables = []string{TableStatus, TableTime, TableCustomer, TableProduct, TablePaymentMethod, TableFact}

// SchemaStatements returns the CREATE TABLE IF NOT EXISTS statements of the
// star schema, dimensions first.
func (d *Dialect) SchemaStatements() []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	status_id %s PRIMARY KEY,
	order_status VARCHAR(40) NOT NULL UNIQUE
)`, TableStatus, d.UUIDType),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	order_time_id %s PRIMARY KEY,
	order_datetime %s NOT NULL UNIQUE,
	order_day VARCHAR(10) NOT NULL,
	order_month VARCHAR(10) NOT NULL,
	order_quarter %s NOT NULL,
	order_year %s NOT NULL,
	order_date %s NOT NULL,
	order_hour %s NOT NULL
)`, TableTime, d.UUIDType, d.TimestampType, d.SmallIntType, d.SmallIntType, d.DateType, d.TimeType),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	customer_id %s PRIMARY KEY,
	customer_city VARCHAR(80) NOT NULL,
	customer_state VARCHAR(20) NOT NULL
)`, TableCustomer, d.UUIDType),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	product_id %s PRIMARY KEY,
	product_category VARCHAR(80) NOT NULL
)`, TableProduct, d.UUIDType),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	payment_method_id %s PRIMARY KEY,
	payment_method VARCHAR(80) NOT NULL UNIQUE
)`, TablePaymentMethod, d.UUIDType),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
	order_id %[2]s PRIMARY KEY,
	score %[3]s NOT NULL,
	payment_value %[4]s,
	product_price %[4]s,
	freight_value %[4]s,
	installments %[3]s NOT NULL,
	number_of_items %[3]s NOT NULL,
	order_time_id %[2]s NOT NULL REFERENCES %[5]s (order_time_id),
	order_customer_id %[2]s NOT NULL REFERENCES %[6]s (customer_id),
	order_product_id %[2]s NOT NULL REFERENCES %[7]s (product_id),
	order_payment_method_id %[2]s NOT NULL REFERENCES %[8]s (payment_method_id),
	order_status_id %[2]s NOT NULL REFERENCES %[9]s (status_id)
)`, TableFact, d.UUIDType, d.SmallIntType, d.MoneyType,
			TableTime, TableCustomer, TableProduct, TablePaymentMethod, TableStatus),
	}
}

// Migrate creates any missing star schema table. Dialects with
// transactional DDL run every statement in one transaction; MySQL commits
// each statement implicitly, so they run one by one.
func Migrate(ctx context.Context, m *Manager) error {
	stmts := m.Dialect().SchemaStatements()
	apply := func(ctx context.Context, exec execer) error {
		for i, stmt := range stmts {
			if _, err := exec.ExecContext(ctx, stmt); err != nil {
				return errors.Wrapf(err, errors.ErrorTypeSchema, "create %s", Tables[i]).
					WithDetail("table", Tables[i]).
					WithDetail("system", m.System())
			}
		}
		return nil
	}

	var err error
	if m.Dialect().Name == config.DriverMySQL {
		var db *sql.DB
		if db, err = m.DB(); err == nil {
			err = apply(ctx, db)
		}
	} else {
		err = m.WithinTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
			return apply(ctx, tx)
		})
	}
	if err != nil {
		return err
	}
	m.logger.Info("schema migrated", zap.Int("tables", len(stmts)))
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
