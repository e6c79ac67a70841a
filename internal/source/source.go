// Package source provides access to relational source tables: a forward-only
// cursor over one as-of date, distinct as-of date discovery, and batched
// deletion of exported rows. All identifier interpolation goes through
// dialect-aware quoting; values always travel as placeholders.
package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/coldstore-io/coldstore/internal/metadata"
)

// Dialect selects identifier quoting and the batched-delete statement shape
// for a driver.
type Dialect string

const (
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// DialectFromDriver maps a database/sql driver name to its dialect.
// Unknown drivers get SQLite's conservative ANSI quoting.
func DialectFromDriver(driver string) Dialect {
	switch driver {
	case "mysql":
		return DialectMySQL
	case "pgx", "postgres":
		return DialectPostgres
	default:
		return DialectSQLite
	}
}

// QuoteIdentifier quotes a dynamic schema/table/column name for the dialect,
// doubling embedded quote characters.
func (d Dialect) QuoteIdentifier(name string) string {
	if d == DialectMySQL {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// placeholder returns the dialect's bind marker for the 1-based parameter
// position. PostgreSQL wants numbered parameters; everything else takes ?.
func (d Dialect) placeholder(n int) string {
	if d == DialectPostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// batchDeleteStmt builds one bounded-batch DELETE for the dialect.
// MySQL supports DELETE ... LIMIT directly; the others bound the batch
// through a row-identifier subquery.
func (d Dialect) batchDeleteStmt(qualified, column string, batchSize int) string {
	qcol := d.QuoteIdentifier(column)
	ph := d.placeholder(1)
	switch d {
	case DialectMySQL:
		return fmt.Sprintf("DELETE FROM %s WHERE %s = %s LIMIT %d", qualified, qcol, ph, batchSize)
	case DialectPostgres:
		return fmt.Sprintf(
			"DELETE FROM %s WHERE ctid IN (SELECT ctid FROM %s WHERE %s = %s LIMIT %d)",
			qualified, qualified, qcol, ph, batchSize)
	default:
		return fmt.Sprintf(
			"DELETE FROM %s WHERE rowid IN (SELECT rowid FROM %s WHERE %s = %s LIMIT %d)",
			qualified, qualified, qcol, ph, batchSize)
	}
}

// Source wraps one relational database connection.
type Source struct {
	db      *sql.DB
	dialect Dialect
}

// New creates a Source over an open handle. The caller owns the handle.
func New(db *sql.DB, dialect Dialect) *Source {
	return &Source{db: db, dialect: dialect}
}

// Open opens a source database by driver name and DSN and verifies
// connectivity.
func Open(ctx context.Context, driver, dsn string) (*Source, *sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("source: open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("source: ping %s: %w", driver, err)
	}
	return New(db, DialectFromDriver(driver)), db, nil
}

// Dialect returns the source's dialect.
func (s *Source) Dialect() Dialect { return s.dialect }

func (s *Source) qualified(schema, table string) string {
	if schema == "" {
		return s.dialect.QuoteIdentifier(table)
	}
	return s.dialect.QuoteIdentifier(schema) + "." + s.dialect.QuoteIdentifier(table)
}

// DistinctAsOfDates returns the distinct as-of dates present in the table,
// ascending.
func (s *Source) DistinctAsOfDates(ctx context.Context, schema, table, column string) ([]time.Time, error) {
	query := fmt.Sprintf("SELECT DISTINCT %s FROM %s",
		s.dialect.QuoteIdentifier(column), s.qualified(schema, table))

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("source: distinct as-of dates for %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	seen := make(map[time.Time]bool)
	var dates []time.Time
	for rows.Next() {
		var raw any
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("source: scan as-of date: %w", err)
		}
		d, err := toDate(raw)
		if err != nil {
			return nil, fmt.Errorf("source: as-of date column %s: %w", column, err)
		}
		if !seen[d] {
			seen[d] = true
			dates = append(dates, d)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, nil
}

// toDate normalizes a scanned as-of value to a UTC calendar date.
func toDate(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		return metadata.DateOf(v), nil
	case []byte:
		return parseDateString(string(v))
	case string:
		return parseDateString(v)
	case nil:
		return time.Time{}, errors.New("null as-of value")
	default:
		return time.Time{}, fmt.Errorf("unsupported as-of value type %T", raw)
	}
}

func parseDateString(s string) (time.Time, error) {
	if len(s) > 10 {
		s = s[:10]
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

// DeleteByAsOfInBatches deletes rows matching the as-of date in repeated
// short transactions of at most batchSize rows, returning the total deleted.
// Small batches keep lock footprints and transaction logs bounded. The loop
// stops when a batch deletes fewer rows than batchSize.
func (s *Source) DeleteByAsOfInBatches(ctx context.Context, schema, table, column string, asOf time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		return 0, fmt.Errorf("source: batch size must be positive, got %d", batchSize)
	}

	stmt := s.dialect.batchDeleteStmt(s.qualified(schema, table), column, batchSize)
	date := metadata.DateOf(asOf)

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
		if err != nil {
			return total, fmt.Errorf("source: begin delete batch: %w", err)
		}

		res, err := tx.ExecContext(ctx, stmt, date)
		if err != nil {
			tx.Rollback()
			return total, fmt.Errorf("source: delete batch: %w", err)
		}
		deleted, err := res.RowsAffected()
		if err != nil {
			tx.Rollback()
			return total, fmt.Errorf("source: delete batch rows affected: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return total, fmt.Errorf("source: commit delete batch: %w", err)
		}

		total += deleted
		if deleted < int64(batchSize) {
			return total, nil
		}
	}
}
