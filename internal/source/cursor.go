package source

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/coldstore-io/coldstore/internal/metadata"
)

// Column describes one source column as reported by the driver.
type Column struct {
	// Name is the column name.
	Name string

	// DatabaseType is the driver's upper-case type name (e.g. "BIGINT",
	// "VARCHAR", "DATETIME"). Used for columnar schema inference.
	DatabaseType string

	// Nullable reports whether the column admits NULL, when the driver
	// knows.
	Nullable bool
}

// Cursor is a forward-only, sequential result set over one table snapshot:
// SELECT * FROM schema.table WHERE asOfColumn = date.
type Cursor struct {
	rows    *sql.Rows
	columns []Column
	dest    []any
	values  []any
}

// Cursor opens a snapshot cursor for the given as-of date. The caller must
// Close it.
func (s *Source) Cursor(ctx context.Context, schema, table, column string, asOf time.Time) (*Cursor, error) {
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = %s",
		s.qualified(schema, table), s.dialect.QuoteIdentifier(column), s.dialect.placeholder(1))

	rows, err := s.db.QueryContext(ctx, query, metadata.DateOf(asOf))
	if err != nil {
		return nil, fmt.Errorf("source: open cursor on %s.%s: %w", schema, table, err)
	}

	types, err := rows.ColumnTypes()
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("source: column types for %s.%s: %w", schema, table, err)
	}

	columns := make([]Column, len(types))
	for i, t := range types {
		nullable, _ := t.Nullable()
		columns[i] = Column{
			Name:         t.Name(),
			DatabaseType: t.DatabaseTypeName(),
			Nullable:     nullable,
		}
	}

	values := make([]any, len(columns))
	dest := make([]any, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}

	return &Cursor{
		rows:    rows,
		columns: columns,
		dest:    dest,
		values:  values,
	}, nil
}

// Columns returns the cursor's column metadata.
func (c *Cursor) Columns() []Column { return c.columns }

// Next advances to the next row, reporting false at the end or on error.
func (c *Cursor) Next() bool { return c.rows.Next() }

// Scan returns the current row's raw driver values. The slice is reused
// between calls; callers must consume or copy values before the next Next.
func (c *Cursor) Scan() ([]any, error) {
	if err := c.rows.Scan(c.dest...); err != nil {
		return nil, fmt.Errorf("source: scan row: %w", err)
	}
	return c.values, nil
}

// Err returns the error, if any, encountered during iteration.
func (c *Cursor) Err() error { return c.rows.Err() }

// Close releases the underlying result set.
func (c *Cursor) Close() error { return c.rows.Close() }
