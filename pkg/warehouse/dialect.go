package warehouse

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ajitpratap0/starload/pkg/config"
)

// Dialect captures the SQL differences between supported warehouses.
// Statements are written with ? placeholders and passed through Rebind.
type Dialect struct {
	Name string

	// Column types used by the schema
	UUIDType      string
	TimestampType string
	DateType      string
	TimeType      string
	MoneyType     string
	SmallIntType  string

	numbered     bool // $1, $2 ... placeholders
	insertIgnore bool // INSERT IGNORE rather than ON CONFLICT DO NOTHING
	dropTemp     string
}

var dialects = map[string]*Dialect{
	config.DriverPostgres: {
		Name:          config.DriverPostgres,
		UUIDType:      "UUID",
		TimestampType: "TIMESTAMP",
		DateType:      "DATE",
		TimeType:      "TIME",
		MoneyType:     "DECIMAL(10,2)",
		SmallIntType:  "SMALLINT",
		numbered:      true,
		dropTemp:      "DROP TABLE IF EXISTS pg_temp.%s",
	},
	config.DriverSQLite: {
		Name:          config.DriverSQLite,
		UUIDType:      "TEXT",
		TimestampType: "TIMESTAMP",
		DateType:      "TEXT",
		TimeType:      "TEXT",
		MoneyType:     "DECIMAL(10,2)",
		SmallIntType:  "INTEGER",
		dropTemp:      "DROP TABLE IF EXISTS temp.%s",
	},
	config.DriverMySQL: {
		Name:          config.DriverMySQL,
		UUIDType:      "CHAR(36)",
		TimestampType: "DATETIME",
		DateType:      "DATE",
		TimeType:      "TIME",
		MoneyType:     "DECIMAL(10,2)",
		SmallIntType:  "SMALLINT",
		insertIgnore:  true,
		dropTemp:      "DROP TEMPORARY TABLE IF EXISTS %s",
	},
}

// DialectFor returns the dialect of a configured driver
func DialectFor(driver string) (*Dialect, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported warehouse driver %q", driver)
	}
	return d, nil
}

// Rebind rewrites ? placeholders into the dialect's form
func (d *Dialect) Rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// InsertIfAbsent builds an INSERT of columns from a SELECT that skips rows
// whose conflictKey already exists. Existing rows are never updated.
func (d *Dialect) InsertIfAbsent(table string, columns []string, selectSQL, conflictKey string) string {
	cols := strings.Join(columns, ", ")
	if d.insertIgnore {
		return fmt.Sprintf("INSERT IGNORE INTO %s (%s) %s", table, cols, selectSQL)
	}
	// SQLite requires a WHERE clause before ON CONFLICT in INSERT ... SELECT
	if !strings.Contains(strings.ToUpper(selectSQL), " WHERE ") {
		selectSQL += " WHERE true"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) %s ON CONFLICT (%s) DO NOTHING", table, cols, selectSQL, conflictKey)
}

// CreateStage creates an empty temporary table shaped like table
func (d *Dialect) CreateStage(stage, table string) string {
	return fmt.Sprintf("CREATE TEMPORARY TABLE %s AS SELECT * FROM %s WHERE 1 = 0", stage, table)
}

// DropStage drops a temporary table created by CreateStage
func (d *Dialect) DropStage(stage string) string {
	return fmt.Sprintf(d.dropTemp, stage)
}
