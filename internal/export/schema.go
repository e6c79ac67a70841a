// Package export implements the columnar export pipeline: schema inference
// from source column metadata, row-group-bounded Parquet part writing, a
// bounded-concurrency export engine, and the export service that wires
// parts into object storage and metadata.
package export

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/coldstore-io/coldstore/internal/source"
)

// ColumnKind is the closed set of semantic column types the exporter can
// represent. Everything a source reports maps onto exactly one kind;
// unrepresentable types fall back to KindString.
type ColumnKind int

const (
	KindInt32 ColumnKind = iota
	KindInt64
	KindDecimal
	KindFloat64
	KindFloat32
	KindBool
	KindTimestamp
	KindString
)

func (k ColumnKind) String() string {
	switch k {
	case KindInt32:
		return "int32"
	case KindInt64:
		return "int64"
	case KindDecimal:
		return "decimal"
	case KindFloat64:
		return "float64"
	case KindFloat32:
		return "float32"
	case KindBool:
		return "bool"
	case KindTimestamp:
		return "timestamp"
	default:
		return "string"
	}
}

// KindOf maps a driver-reported database type name onto a ColumnKind.
func KindOf(databaseType string) ColumnKind {
	switch strings.ToUpper(databaseType) {
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "INTEGER", "INT2", "INT4", "SERIAL", "YEAR":
		return KindInt32
	case "BIGINT", "INT8", "BIGSERIAL":
		return KindInt64
	case "DECIMAL", "NUMERIC", "MONEY", "SMALLMONEY":
		return KindDecimal
	case "DOUBLE", "DOUBLE PRECISION", "FLOAT8":
		return KindFloat64
	case "FLOAT", "REAL", "FLOAT4":
		return KindFloat32
	case "BOOL", "BOOLEAN", "BIT":
		return KindBool
	case "DATE", "DATETIME", "DATETIME2", "SMALLDATETIME", "TIMESTAMP", "TIMESTAMPTZ":
		return KindTimestamp
	default:
		// VARCHAR/TEXT/CHAR, GUID-like identifiers, JSON, binary and every
		// unrecognized type travel as strings.
		return KindString
	}
}

// Schema describes the columnar layout of one export.
type Schema struct {
	Columns []SchemaColumn
	Parquet *parquet.Schema
}

// SchemaColumn pairs a source column with its inferred kind.
type SchemaColumn struct {
	Name string
	Kind ColumnKind
}

// node returns the parquet leaf for the kind. Every leaf is optional:
// relational NULLs are representable in any column.
func (k ColumnKind) node() parquet.Node {
	var leaf parquet.Node
	switch k {
	case KindInt32:
		leaf = parquet.Int(32)
	case KindInt64:
		leaf = parquet.Int(64)
	case KindFloat64:
		leaf = parquet.Leaf(parquet.DoubleType)
	case KindFloat32:
		leaf = parquet.Leaf(parquet.FloatType)
	case KindBool:
		leaf = parquet.Leaf(parquet.BooleanType)
	case KindTimestamp:
		leaf = parquet.Timestamp(parquet.Millisecond)
	default:
		// KindDecimal serializes as a string to preserve exactness without
		// per-column precision/scale plumbing.
		leaf = parquet.String()
	}
	return parquet.Optional(leaf)
}

// InferSchema builds the columnar schema for a set of source columns.
// The export is named after the table for the file footer.
func InferSchema(table string, columns []source.Column) (*Schema, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("export: table %s reported no columns", table)
	}

	group := parquet.Group{}
	out := make([]SchemaColumn, len(columns))
	for i, col := range columns {
		kind := KindOf(col.DatabaseType)
		out[i] = SchemaColumn{Name: col.Name, Kind: kind}
		group[col.Name] = kind.node()
	}

	return &Schema{
		Columns: out,
		Parquet: parquet.NewSchema(table, group),
	}, nil
}

// convert normalizes a raw driver value into the Go value the parquet
// writer expects for the kind. nil stays nil (NULL).
func (k ColumnKind) convert(raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}

	switch k {
	case KindInt32:
		switch v := raw.(type) {
		case int64:
			return int32(v), nil
		case int32:
			return v, nil
		case int:
			return int32(v), nil
		case []byte:
			n, err := strconv.ParseInt(string(v), 10, 32)
			return int32(n), err
		}
	case KindInt64:
		switch v := raw.(type) {
		case int64:
			return v, nil
		case int32:
			return int64(v), nil
		case int:
			return int64(v), nil
		case []byte:
			return strconv.ParseInt(string(v), 10, 64)
		}
	case KindFloat64:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case float32:
			return float64(v), nil
		case []byte:
			return strconv.ParseFloat(string(v), 64)
		}
	case KindFloat32:
		switch v := raw.(type) {
		case float64:
			return float32(v), nil
		case float32:
			return v, nil
		case []byte:
			f, err := strconv.ParseFloat(string(v), 32)
			return float32(f), err
		}
	case KindBool:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case int64:
			return v != 0, nil
		case []byte:
			return len(v) > 0 && v[0] != 0 && v[0] != '0', nil
		}
	case KindTimestamp:
		switch v := raw.(type) {
		case time.Time:
			return v.UnixMilli(), nil
		case int64:
			return v, nil
		case []byte:
			t, err := parseTimestamp(string(v))
			if err != nil {
				return nil, err
			}
			return t.UnixMilli(), nil
		case string:
			t, err := parseTimestamp(v)
			if err != nil {
				return nil, err
			}
			return t.UnixMilli(), nil
		}
	case KindDecimal, KindString:
		switch v := raw.(type) {
		case string:
			return v, nil
		case []byte:
			return string(v), nil
		case time.Time:
			return v.UTC().Format(time.RFC3339Nano), nil
		default:
			return fmt.Sprintf("%v", v), nil
		}
	}
	return nil, fmt.Errorf("export: cannot represent %T as %s", raw, k)
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02",
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("export: unparseable timestamp %q", s)
}

// estimateSize returns a cheap per-value byte estimate used only to bound
// in-memory row groups; exactness does not matter, monotonic correlation
// with memory pressure does.
func estimateSize(raw any) int64 {
	switch v := raw.(type) {
	case nil:
		return 8
	case string:
		return int64(len(v)) + 8
	case []byte:
		return int64(len(v)) + 8
	case int32, int64, int, float32, float64, bool, time.Time:
		return 8
	default:
		return 16
	}
}
