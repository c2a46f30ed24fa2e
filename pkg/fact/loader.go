// Package fact joins conformed records to their dimension surrogate keys
// and loads fact_order, one row per order id.
//
// A record whose lookup fails on any dimension is held back and counted;
// it is never written with a missing key. Loading is insert-if-absent on
// order_id, so rerunning over the same snapshot writes nothing new.
package fact

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ajitpratap0/starload/pkg/dimension"
	"github.com/ajitpratap0/starload/pkg/errors"
	"github.com/ajitpratap0/starload/pkg/metrics"
	"github.com/ajitpratap0/starload/pkg/models"
	"github.com/ajitpratap0/starload/pkg/warehouse"
)

// Columns of fact_order in insert order
var Columns = []string{
	"order_id", "score", "payment_value", "product_price", "freight_value",
	"installments", "number_of_items",
	"order_time_id", "order_customer_id", "order_product_id", "order_payment_method_id", "order_status_id",
}

// Result reports one fact load
type Result struct {
	Candidates int `json:"candidates"`
	Inserted   int `json:"inserted"`
	Existing   int `json:"existing"`
	Unresolved int `json:"unresolved"`
	// UnresolvedByDimension counts failed lookups; a record failing on two
	// dimensions is counted under both.
	UnresolvedByDimension map[string]int `json:"unresolved_by_dimension,omitempty"`
	// InvalidOrderID counts records whose order id is not a 128-bit id
	InvalidOrderID int `json:"invalid_order_id,omitempty"`
}

// Loader writes fact rows through a warehouse
type Loader struct {
	wh        *warehouse.Manager
	logger    *zap.Logger
	batchSize int
}

// NewLoader creates a loader writing through wh
func NewLoader(wh *warehouse.Manager, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		wh:        wh,
		logger:    logger.With(zap.String("component", "fact")),
		batchSize: warehouse.DefaultBatchSize,
	}
}

// Join builds one fact row per record whose order id and five dimension
// keys all resolve. The rest are counted in the returned result.
func Join(records []models.ConformedRecord, mappings dimension.Mappings) ([]models.FactRow, *Result) {
	result := &Result{
		Candidates:            len(records),
		UnresolvedByDimension: make(map[string]int),
	}
	rows := make([]models.FactRow, 0, len(records))

	for _, rec := range records {
		orderID, err := uuid.Parse(rec.OrderID)
		if err != nil {
			result.InvalidOrderID++
			result.Unresolved++
			continue
		}

		keys := make(map[string]uuid.UUID, len(dimension.All))
		resolved := true
		for _, spec := range dimension.All {
			id, ok := mappings.Lookup(spec, rec)
			if !ok {
				result.UnresolvedByDimension[spec.Name]++
				resolved = false
				continue
			}
			keys[spec.Name] = id
		}
		if !resolved {
			result.Unresolved++
			continue
		}

		rows = append(rows, models.FactRow{
			OrderID:         orderID,
			Score:           rec.Score,
			PaymentValue:    rec.PaymentValue,
			ProductPrice:    rec.Price,
			FreightValue:    rec.Freight,
			Installments:    rec.Installments,
			ItemCount:       rec.ItemCount,
			TimeID:          keys[dimension.Time.Name],
			CustomerID:      keys[dimension.Customer.Name],
			ProductID:       keys[dimension.Product.Name],
			PaymentMethodID: keys[dimension.PaymentMethod.Name],
			StatusID:        keys[dimension.Status.Name],
		})
	}
	return rows, result
}

// systemicFailure returns the dimension every candidate with a valid order
// id failed on, if any. That pattern points at a broken dimension
// resolution, not at bad rows.
func (r *Result) systemicFailure() (string, bool) {
	valid := r.Candidates - r.InvalidOrderID
	if valid == 0 {
		return "", false
	}
	for _, spec := range dimension.All {
		if r.UnresolvedByDimension[spec.Name] == valid {
			return spec.Name, true
		}
	}
	return "", false
}

// Load joins records to mappings and inserts the resolved rows in one
// transaction. Unresolved rows are counted, not fatal, unless every
// candidate failed on the same dimension. A write failure rolls the whole
// batch back and returns a load error.
func (l *Loader) Load(ctx context.Context, records []models.ConformedRecord, mappings dimension.Mappings) (*Result, error) {
	start := time.Now()
	rows, result := Join(records, mappings)

	if dim, ok := result.systemicFailure(); ok {
		err := errors.Newf(errors.ErrorTypeFactUnresolved,
			"all %d fact candidates failed to resolve the %s dimension", result.Candidates, dim).
			WithDetail("dimension", dim).
			WithDetail("candidates", result.Candidates)
		return result, err
	}

	if len(rows) > 0 {
		d := l.wh.Dialect()
		values := make([][]any, len(rows))
		for i, row := range rows {
			values[i] = factValues(row)
		}

		err := l.wh.WithinTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
			inserted, err := warehouse.InsertBatches(ctx, tx, d, values, l.batchSize, func(n int) string {
				return d.InsertValuesIfAbsent(warehouse.TableFact, Columns, n, "order_id")
			})
			if err != nil {
				return err
			}
			result.Inserted = int(inserted)
			return nil
		})
		if err != nil {
			result.Inserted = 0
			return result, errors.Wrapf(err, errors.ErrorTypeLoad, "load %s", warehouse.TableFact).
				WithDetail("rows", len(rows)).
				WithDetail("system", l.wh.System())
		}
		result.Existing = len(rows) - result.Inserted
	}

	metrics.FactRows.WithLabelValues("inserted").Add(float64(result.Inserted))
	metrics.FactRows.WithLabelValues("existing").Add(float64(result.Existing))
	metrics.FactRows.WithLabelValues("unresolved").Add(float64(result.Unresolved))

	fields := []zap.Field{
		zap.Int("candidates", result.Candidates),
		zap.Int("inserted", result.Inserted),
		zap.Int("existing", result.Existing),
		zap.Int("unresolved", result.Unresolved),
		zap.Duration("duration", time.Since(start)),
	}
	if result.Unresolved > 0 {
		l.logger.Warn("facts loaded with unresolved rows held back",
			append(fields, zap.Any("unresolved_by_dimension", result.UnresolvedByDimension))...)
	} else {
		l.logger.Info("facts loaded", fields...)
	}
	return result, nil
}

func factValues(row models.FactRow) []any {
	return []any{
		row.OrderID, row.Score, row.PaymentValue, row.ProductPrice, row.FreightValue,
		row.Installments, row.ItemCount,
		row.TimeID, row.CustomerID, row.ProductID, row.PaymentMethodID, row.StatusID,
	}
}

// String summarizes the result for logs and CLI output
func (r *Result) String() string {
	return fmt.Sprintf("candidates=%d inserted=%d existing=%d unresolved=%d",
		r.Candidates, r.Inserted, r.Existing, r.Unresolved)
}
