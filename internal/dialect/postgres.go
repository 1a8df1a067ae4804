package dialect

import (
	"strconv"

	"github.com/roach88/sqlsink/internal/bind"
	"github.com/roach88/sqlsink/internal/model"
)

// Postgres is the PostgreSQL dialect, driven by pgx through database/sql.
// Placeholders are numbered ($1..$n) and Numeric binds as an exact decimal.
type Postgres struct{}

var postgresBinders = func() binders {
	b := commonBinders()
	b[model.JSON] = func(s string) (any, error) { return bind.ParseJSON(s) }
	return b
}()

func (Postgres) Name() string       { return "postgres" }
func (Postgres) DriverName() string { return "pgx" }

func (Postgres) Placeholder(index int) string {
	return "$" + strconv.Itoa(index)
}

func (Postgres) ExcludedColumn(column string) string {
	return "EXCLUDED." + column
}

func (Postgres) AssignsConflictColumns() bool { return true }

func (Postgres) Bind(v model.Value) (any, error) {
	return bindWith(postgresBinders, v)
}
