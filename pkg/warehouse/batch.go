package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// DefaultBatchSize bounds the rows of one multi-row INSERT
const DefaultBatchSize = 500

// InsertValues builds a plain multi-row INSERT of rows tuples
func (d *Dialect) InsertValues(table string, columns []string, rows int) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", table, strings.Join(columns, ", "), tuples(len(columns), rows))
}

// InsertValuesIfAbsent builds a multi-row INSERT that skips rows whose
// conflictKey already exists. Existing rows are never updated.
func (d *Dialect) InsertValuesIfAbsent(table string, columns []string, rows int, conflictKey string) string {
	values := tuples(len(columns), rows)
	cols := strings.Join(columns, ", ")
	if d.insertIgnore {
		return fmt.Sprintf("INSERT IGNORE INTO %s (%s) VALUES %s", table, cols, values)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s ON CONFLICT (%s) DO NOTHING", table, cols, values, conflictKey)
}

func tuples(columns, rows int) string {
	one := "(" + strings.TrimSuffix(strings.Repeat("?, ", columns), ", ") + ")"
	return strings.TrimSuffix(strings.Repeat(one+", ", rows), ", ")
}

// InsertBatches inserts rows in chunks of size, building each statement
// with build(n) for a chunk of n rows. It returns the total rows affected.
func InsertBatches(ctx context.Context, tx *sql.Tx, d *Dialect, rows [][]any, size int, build func(n int) string) (int64, error) {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var affected int64
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		args := make([]any, 0, len(chunk)*len(chunk[0]))
		for _, row := range chunk {
			args = append(args, row...)
		}
		res, err := tx.ExecContext(ctx, d.Rebind(build(len(chunk))), args...)
		if err != nil {
			return affected, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return affected, fmt.Errorf("rows affected: %w", err)
		}
		affected += n
	}
	return affected, nil
}
