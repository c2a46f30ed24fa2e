// Package dimension resolves the surrogate keys of the star schema's
// dimensions. Every dimension goes through the same protocol, driven by a
// Spec:
//
//  1. extract the distinct natural keys present in the conformed records
//  2. stage them in a temporary table
//  3. insert the staged keys that are not yet present (existing rows are
//     never updated)
//  4. read back the surrogate key of every staged natural key
//
// Steps 2-4 run in one transaction. An existing natural key always resolves
// to the surrogate key stored when it was first seen.
package dimension

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ajitpratap0/starload/pkg/errors"
	"github.com/ajitpratap0/starload/pkg/metrics"
	"github.com/ajitpratap0/starload/pkg/models"
	"github.com/ajitpratap0/starload/pkg/warehouse"
)

// Mapping maps canonical natural keys to surrogate keys
type Mapping map[string]uuid.UUID

// Mappings holds the mapping of every resolved dimension, keyed by Spec.Name
type Mappings map[string]Mapping

// Lookup returns the surrogate key spec assigns to rec
func (m Mappings) Lookup(spec *Spec, rec models.ConformedRecord) (uuid.UUID, bool) {
	key, ok := spec.KeyOf(rec)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := m[spec.Name][key]
	return id, ok
}

// Result reports the resolution of one dimension
type Result struct {
	Dimension string `json:"dimension"`
	Staged    int    `json:"staged"`
	Inserted  int    `json:"inserted"`
	// Skipped counts records without a usable natural key
	Skipped int     `json:"skipped"`
	Mapping Mapping `json:"-"`
}

// Resolver runs the resolution protocol against a warehouse
type Resolver struct {
	wh        *warehouse.Manager
	logger    *zap.Logger
	batchSize int
}

// NewResolver creates a resolver writing through wh
func NewResolver(wh *warehouse.Manager, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		wh:        wh,
		logger:    logger.With(zap.String("component", "dimension")),
		batchSize: warehouse.DefaultBatchSize,
	}
}

type stagedRow struct {
	key    string
	values []any
}

// rows extracts the distinct natural keys of records. The first record
// carrying a key supplies its attribute values.
func (s *Spec) rows(records []models.ConformedRecord) ([]stagedRow, int) {
	seen := make(map[string]struct{}, len(records))
	var (
		out     []stagedRow
		skipped int
	)
	for _, rec := range records {
		key, ok := s.KeyOf(rec)
		if !ok {
			skipped++
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		keyValue, attrs := s.Values(rec)
		values := make([]any, 0, len(attrs)+2)
		if s.PassThrough {
			values = append(values, uuid.MustParse(key))
		} else {
			values = append(values, uuid.New(), keyValue)
		}
		out = append(out, stagedRow{key: key, values: append(values, attrs...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out, skipped
}

// Resolve stages, inserts and reads back the keys of spec present in
// records. Any failure rolls the dimension's transaction back and returns
// a dimension_write error naming the dimension.
func (r *Resolver) Resolve(ctx context.Context, spec *Spec, records []models.ConformedRecord) (*Result, error) {
	start := time.Now()
	rows, skipped := spec.rows(records)
	result := &Result{
		Dimension: spec.Name,
		Staged:    len(rows),
		Skipped:   skipped,
		Mapping:   make(Mapping, len(rows)),
	}
	if len(rows) == 0 {
		r.logger.Warn("no natural keys to resolve", zap.String("dimension", spec.Name), zap.Int("skipped", skipped))
		return result, nil
	}

	d := r.wh.Dialect()
	stage := spec.stageTable()
	cols := spec.Columns()

	err := r.wh.WithinTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, d.DropStage(stage)); err != nil {
			return fmt.Errorf("clear stage: %w", err)
		}
		if _, err := tx.ExecContext(ctx, d.CreateStage(stage, spec.Table)); err != nil {
			return fmt.Errorf("create stage: %w", err)
		}

		values := make([][]any, len(rows))
		for i, row := range rows {
			values[i] = row.values
		}
		if _, err := warehouse.InsertBatches(ctx, tx, d, values, r.batchSize, func(n int) string {
			return d.InsertValues(stage, cols, n)
		}); err != nil {
			return fmt.Errorf("stage rows: %w", err)
		}

		upsert := d.InsertIfAbsent(spec.Table, cols,
			fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), stage), spec.KeyColumn)
		res, err := tx.ExecContext(ctx, upsert)
		if err != nil {
			return fmt.Errorf("upsert: %w", err)
		}
		inserted, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("upsert rows affected: %w", err)
		}
		result.Inserted = int(inserted)

		if err := r.readBack(ctx, tx, spec, result.Mapping); err != nil {
			return fmt.Errorf("read back: %w", err)
		}

		if _, err := tx.ExecContext(ctx, d.DropStage(stage)); err != nil {
			return fmt.Errorf("drop stage: %w", err)
		}
		return nil
	})
	if err != nil {
		metrics.ObserveStage("dimension_"+spec.Name, start, err)
		return nil, errors.Wrapf(err, errors.ErrorTypeDimensionWrite, "resolve %s dimension", spec.Name).
			WithDetail("dimension", spec.Name).
			WithDetail("table", spec.Table).
			WithDetail("system", r.wh.System())
	}

	if len(result.Mapping) != len(rows) {
		err := errors.Newf(errors.ErrorTypeDimensionWrite, "%s dimension read back %d of %d staged keys",
			spec.Name, len(result.Mapping), len(rows)).
			WithDetail("dimension", spec.Name).
			WithDetail("system", r.wh.System())
		metrics.ObserveStage("dimension_"+spec.Name, start, err)
		return nil, err
	}

	metrics.DimensionRows.WithLabelValues(spec.Name, "staged").Add(float64(result.Staged))
	metrics.DimensionRows.WithLabelValues(spec.Name, "inserted").Add(float64(result.Inserted))
	metrics.ObserveStage("dimension_"+spec.Name, start, nil)

	r.logger.Info("dimension resolved",
		zap.String("dimension", spec.Name),
		zap.Int("staged", result.Staged),
		zap.Int("inserted", result.Inserted),
		zap.Int("existing", result.Staged-result.Inserted),
		zap.Int("skipped", result.Skipped),
		zap.Duration("duration", time.Since(start)))
	return result, nil
}

// readBack loads the surrogate key of every staged natural key, new and
// pre-existing alike.
func (r *Resolver) readBack(ctx context.Context, tx *sql.Tx, spec *Spec, into Mapping) error {
	query := fmt.Sprintf("SELECT d.%[1]s, d.%[2]s FROM %[3]s d JOIN %[4]s s ON d.%[2]s = s.%[2]s",
		spec.SurrogateColumn, spec.KeyColumn, spec.Table, spec.stageTable())
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id  uuid.UUID
			raw any
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return err
		}
		key, err := spec.ScanKey(raw)
		if err != nil {
			return err
		}
		into[key] = id
	}
	return rows.Err()
}

// ResolveAll resolves every dimension in All, halting at the first failure
func (r *Resolver) ResolveAll(ctx context.Context, records []models.ConformedRecord) (Mappings, []*Result, error) {
	mappings := make(Mappings, len(All))
	results := make([]*Result, 0, len(All))
	for _, spec := range All {
		res, err := r.Resolve(ctx, spec, records)
		if err != nil {
			return nil, results, err
		}
		mappings[spec.Name] = res.Mapping
		results = append(results, res)
	}
	return mappings, results, nil
}
