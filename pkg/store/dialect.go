package store

import (
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql" // mysql driver
	_ "github.com/jackc/pgx/v5/stdlib" // postgres driver
	_ "modernc.org/sqlite"             // sqlite driver

	"github.com/ajitpratap0/gaiadb/pkg/errors"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// dialect holds the SQL differences between the supported databases.
type dialect struct {
	name       string
	driverName string

	// column types
	keyType   string
	urlType   string
	shortText string
	textType  string
	realType  string
	intType   string

	// numbered placeholders ($1, $2, ...) instead of ?
	numbered bool
	// identifier quote character
	quoteChar byte
	// CREATE INDEX IF NOT EXISTS is supported
	indexIfNotExists bool
}

var dialects = map[string]*dialect{
	DriverSQLite: {
		name:             DriverSQLite,
		driverName:       "sqlite",
		keyType:          "TEXT",
		urlType:          "TEXT",
		shortText:        "TEXT",
		textType:         "TEXT",
		realType:         "REAL",
		intType:          "INTEGER",
		quoteChar:        '"',
		indexIfNotExists: true,
	},
	DriverPostgres: {
		name:             DriverPostgres,
		driverName:       "pgx",
		keyType:          "TEXT",
		urlType:          "TEXT",
		shortText:        "TEXT",
		textType:         "TEXT",
		realType:         "DOUBLE PRECISION",
		intType:          "INTEGER",
		numbered:         true,
		quoteChar:        '"',
		indexIfNotExists: true,
	},
	DriverMySQL: {
		name:       DriverMySQL,
		driverName: "mysql",
		keyType:    "VARCHAR(64)",
		urlType:    "VARCHAR(700)",
		shortText:  "VARCHAR(64)",
		textType:   "TEXT",
		realType:   "DOUBLE",
		intType:    "INT",
		quoteChar:  '`',
	},
}

func dialectFor(driver string) (*dialect, error) {
	if driver == "" {
		driver = DriverSQLite
	}
	d, ok := dialects[driver]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported store driver %q", driver)
	}
	return d, nil
}

// quote quotes an identifier. Identifiers are validated by config, so no
// escaping is needed; quoting keeps names such as dec usable on mysql.
func (d *dialect) quote(name string) string {
	q := string(d.quoteChar)
	return q + name + q
}

func (d *dialect) quoteAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = d.quote(n)
	}
	return out
}

// placeholder returns the i-th (1-based) bind parameter.
func (d *dialect) placeholder(i int) string {
	if d.numbered {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

// placeholders returns n comma separated parameters starting at start.
func (d *dialect) placeholders(start, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.placeholder(start + i))
	}
	return b.String()
}

// insertIgnore builds an insert that silently skips rows whose key exists.
func (d *dialect) insertIgnore(table, key string, columns []string) string {
	cols := strings.Join(d.quoteAll(columns), ", ")
	values := d.placeholders(1, len(columns))
	switch d.name {
	case DriverMySQL:
		return fmt.Sprintf("INSERT IGNORE INTO %s (%s) VALUES (%s)", d.quote(table), cols, values)
	default:
		return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING",
			d.quote(table), cols, values, d.quote(key))
	}
}

// upsertTracking builds the status upsert of a tracking table. Bind order
// is url, status, last_error, updated_at; attempts is incremented.
func (d *dialect) upsertTracking(table string) string {
	t := d.quote(table)
	switch d.name {
	case DriverMySQL:
		return fmt.Sprintf("INSERT INTO %s (url, status, attempts, last_error, updated_at) VALUES (?, ?, 1, ?, ?) "+
			"ON DUPLICATE KEY UPDATE status = VALUES(status), attempts = attempts + 1, "+
			"last_error = VALUES(last_error), updated_at = VALUES(updated_at)", t)
	default:
		return fmt.Sprintf("INSERT INTO %s (url, status, attempts, last_error, updated_at) VALUES (%s, %s, 1, %s, %s) "+
			"ON CONFLICT (url) DO UPDATE SET status = excluded.status, attempts = %s.attempts + 1, "+
			"last_error = excluded.last_error, updated_at = excluded.updated_at",
			t, d.placeholder(1), d.placeholder(2), d.placeholder(3), d.placeholder(4), t)
	}
}

// createIndex builds an index statement.
func (d *dialect) createIndex(name, table string, columns ...string) string {
	ifNotExists := ""
	if d.indexIfNotExists {
		ifNotExists = "IF NOT EXISTS "
	}
	return fmt.Sprintf("CREATE INDEX %s%s ON %s (%s)",
		ifNotExists, d.quote(name), d.quote(table), strings.Join(d.quoteAll(columns), ", "))
}

// maintenance returns the statements refreshing planner statistics and
// reclaiming space.
func (d *dialect) maintenance(tables []string) []string {
	switch d.name {
	case DriverPostgres:
		stmts := make([]string, len(tables))
		for i, t := range tables {
			stmts[i] = "VACUUM ANALYZE " + d.quote(t)
		}
		return stmts
	case DriverMySQL:
		return []string{"OPTIMIZE TABLE " + strings.Join(d.quoteAll(tables), ", ")}
	default:
		return []string{"ANALYZE", "VACUUM"}
	}
}
