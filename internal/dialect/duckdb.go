package dialect

import (
	"strconv"

	"github.com/roach88/sqlsink/internal/bind"
	"github.com/roach88/sqlsink/internal/model"
)

// DuckDB is the DuckDB dialect, driven by duckdb-go.
//
// DuckDB rejects DO UPDATE SET assignments to columns covered by the conflict
// target, so the builder leaves those columns out of the SET clause.
type DuckDB struct{}

var duckdbBinders = func() binders {
	b := commonBinders()
	b[model.UUID] = func(s string) (any, error) {
		u, err := bind.ParseUUID(s)
		if err != nil {
			return nil, err
		}
		return u.String(), nil
	}
	return b
}()

func (DuckDB) Name() string       { return "duckdb" }
func (DuckDB) DriverName() string { return "duckdb" }

func (DuckDB) Placeholder(index int) string {
	return "$" + strconv.Itoa(index)
}

func (DuckDB) ExcludedColumn(column string) string {
	return "excluded." + column
}

func (DuckDB) AssignsConflictColumns() bool { return false }

func (DuckDB) Bind(v model.Value) (any, error) {
	return bindWith(duckdbBinders, v)
}
