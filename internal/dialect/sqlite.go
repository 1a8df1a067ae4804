package dialect

import (
	"github.com/roach88/sqlsink/internal/bind"
	"github.com/roach88/sqlsink/internal/model"
)

// SQLite is the SQLite dialect, driven by mattn/go-sqlite3.
//
// SQLite has no decimal type, so Numeric binds as float64 and loses precision
// beyond 15-17 significant digits. Temporal values bind as text in the same
// layouts they were parsed from; UUIDs bind as their 16 raw bytes.
type SQLite struct{}

var sqliteBinders = func() binders {
	b := commonBinders()
	b[model.Numeric] = func(s string) (any, error) { return bind.ParseNumericApprox(s) }
	b[model.Timestamp] = func(s string) (any, error) {
		t, err := bind.ParseTimestamp(s)
		if err != nil {
			return nil, err
		}
		return t.Format(bind.TimestampTextLayout), nil
	}
	b[model.Date] = func(s string) (any, error) {
		t, err := bind.ParseDate(s)
		if err != nil {
			return nil, err
		}
		return t.Format(bind.DateLayout), nil
	}
	b[model.UUID] = func(s string) (any, error) {
		u, err := bind.ParseUUID(s)
		if err != nil {
			return nil, err
		}
		return u[:], nil
	}
	return b
}()

func (SQLite) Name() string       { return "sqlite" }
func (SQLite) DriverName() string { return "sqlite3" }

func (SQLite) Placeholder(int) string { return "?" }

func (SQLite) ExcludedColumn(column string) string {
	return "excluded." + column
}

func (SQLite) AssignsConflictColumns() bool { return true }

func (SQLite) Bind(v model.Value) (any, error) {
	return bindWith(sqliteBinders, v)
}
