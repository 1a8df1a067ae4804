package dialect

import (
	"fmt"

	"github.com/roach88/sqlsink/internal/bind"
	"github.com/roach88/sqlsink/internal/model"
)

// Dialect is the per-backend capability set used by the query builder and
// the execution engine.
type Dialect interface {
	// Name returns the dialect name ("postgres", "sqlite", "duckdb").
	Name() string

	// DriverName returns the database/sql driver name.
	DriverName() string

	// Placeholder returns the parameter marker for the 1-based index.
	Placeholder(index int) string

	// ExcludedColumn returns the expression referencing the value proposed
	// for insertion in an upsert's conflict clause.
	ExcludedColumn(column string) string

	// AssignsConflictColumns reports whether DO UPDATE SET may assign the
	// columns named in the conflict key.
	AssignsConflictColumns() bool

	// Bind converts v into a driver-native parameter.
	// Failures are *bind.ConversionError.
	Bind(v model.Value) (any, error)
}

// binderFunc parses a raw value into a driver-native parameter.
type binderFunc func(raw string) (any, error)

// binders maps every TypeTag to its binder for one dialect.
type binders map[model.TypeTag]binderFunc

// bindWith looks up v.Type in table and wraps failures with column context.
func bindWith(table binders, v model.Value) (any, error) {
	fn, ok := table[v.Type]
	if !ok {
		return nil, &bind.ConversionError{
			Column:   v.Column,
			Type:     v.Type,
			RawValue: v.RawValue,
			Err:      fmt.Errorf("no binder for type %s", v.Type),
		}
	}
	param, err := fn(v.RawValue)
	if err != nil {
		return nil, &bind.ConversionError{
			Column:   v.Column,
			Type:     v.Type,
			RawValue: v.RawValue,
			Err:      err,
		}
	}
	return param, nil
}

// BindAll binds values in order. The first failure abandons the row.
func BindAll(d Dialect, values []model.Value) ([]any, error) {
	params := make([]any, 0, len(values))
	for _, v := range values {
		p, err := d.Bind(v)
		if err != nil {
			return nil, err
		}
		params = append(params, p)
	}
	return params, nil
}

// Lookup returns the dialect registered under name.
func Lookup(name string) (Dialect, error) {
	switch name {
	case "postgres":
		return Postgres{}, nil
	case "sqlite":
		return SQLite{}, nil
	case "duckdb":
		return DuckDB{}, nil
	default:
		return nil, fmt.Errorf("unsupported dialect %q", name)
	}
}

// commonBinders returns the binders whose native representation is the same
// for every supported driver. Dialects copy and override entries.
func commonBinders() binders {
	return binders{
		model.Bool:            func(s string) (any, error) { return bind.ParseBool(s) },
		model.Char:            func(s string) (any, error) { return bind.ParseChar(s) },
		model.SmallInt:        func(s string) (any, error) { return bind.ParseSmallInt(s) },
		model.Int:             func(s string) (any, error) { return bind.ParseInt(s) },
		model.BigInt:          func(s string) (any, error) { return bind.ParseBigInt(s) },
		model.Float:           func(s string) (any, error) { return bind.ParseFloat(s) },
		model.DoublePrecision: func(s string) (any, error) { return bind.ParseDoublePrecision(s) },
		model.Text:            func(s string) (any, error) { return s, nil },
		model.Bytes:           func(s string) (any, error) { return bind.ParseBytes(s), nil },
		model.Numeric:         func(s string) (any, error) { return bind.ParseNumeric(s) },
		model.Timestamp:       func(s string) (any, error) { return bind.ParseTimestamp(s) },
		model.Date:            func(s string) (any, error) { return bind.ParseDate(s) },
		model.Time:            timeAsText,
		model.UUID:            func(s string) (any, error) { return bind.ParseUUID(s) },
		model.JSON:            jsonAsText,
	}
}

func timeAsText(s string) (any, error) {
	t, err := bind.ParseTime(s)
	if err != nil {
		return nil, err
	}
	return t.Format(bind.TimeLayout), nil
}

func jsonAsText(s string) (any, error) {
	raw, err := bind.ParseJSON(s)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}
