package model

// Operation is a write operation against a single table.
//
// This is a sealed interface - only types in this package implement it.
// The marker method lets the execution engine switch exhaustively over the
// five variants.
type Operation interface {
	operationNode() // Marker method - seals interface to this package

	// Len returns 0 for Empty, 1 for a single-row operation and the row
	// count for batch variants.
	Len() int
}

// Empty is the rest state of an Accumulator.
type Empty struct{}

// Insert writes one row.
type Insert struct {
	Table  string
	Values []Value
}

// Upsert writes one row, updating the existing row on conflict.
// ConflictKey is a raw comma-joined list of columns forming the uniqueness
// constraint. It is interpolated into SQL unescaped, so it must come from
// configuration, never from record content.
type Upsert struct {
	Table       string
	Values      []Value
	ConflictKey string
}

// BatchInsert writes many rows sharing one column order.
type BatchInsert struct {
	Table   string
	Columns []string
	Rows    [][]Value
}

// BatchUpsert writes many rows sharing one column order and conflict key.
type BatchUpsert struct {
	Table       string
	Columns     []string
	Rows        [][]Value
	ConflictKey string
}

func (Empty) operationNode()       {}
func (Insert) operationNode()      {}
func (Upsert) operationNode()      {}
func (BatchInsert) operationNode() {}
func (BatchUpsert) operationNode() {}

func (Empty) Len() int         { return 0 }
func (Insert) Len() int        { return 1 }
func (Upsert) Len() int        { return 1 }
func (b BatchInsert) Len() int { return len(b.Rows) }
func (b BatchUpsert) Len() int { return len(b.Rows) }

// Kind returns a short lowercase name of the operation variant, used in logs.
func Kind(op Operation) string {
	switch op.(type) {
	case Empty, nil:
		return "empty"
	case Insert:
		return "insert"
	case Upsert:
		return "upsert"
	case BatchInsert:
		return "batch_insert"
	case BatchUpsert:
		return "batch_upsert"
	default:
		return "unknown"
	}
}

// Table returns the target table of op, or "" for Empty.
func Table(op Operation) string {
	switch o := op.(type) {
	case Insert:
		return o.Table
	case Upsert:
		return o.Table
	case BatchInsert:
		return o.Table
	case BatchUpsert:
		return o.Table
	default:
		return ""
	}
}
