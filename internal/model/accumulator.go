package model

import "slices"

// Accumulator folds single Insert/Upsert operations into a batch.
//
// Transition table:
//
//	Empty       + Insert -> Insert
//	Insert      + Insert -> BatchInsert (columns from the first row)
//	BatchInsert + Insert -> BatchInsert
//	Empty       + Upsert -> Upsert
//	Upsert      + Upsert -> BatchUpsert
//	BatchUpsert + Upsert -> BatchUpsert
//
// Every other transition is a ContractViolationError. The flush policy
// (size, time window) belongs to the caller; Accumulator only holds state.
//
// Accumulator is not safe for concurrent use. It is owned by the engine loop.
type Accumulator struct {
	op Operation
}

// NewAccumulator returns an Accumulator in the Empty state.
func NewAccumulator() *Accumulator {
	return &Accumulator{op: Empty{}}
}

// Operation returns the accumulated operation.
func (a *Accumulator) Operation() Operation {
	if a.op == nil {
		return Empty{}
	}
	return a.op
}

// Len returns the number of accumulated rows.
func (a *Accumulator) Len() int {
	return a.Operation().Len()
}

// IsEmpty reports whether nothing is accumulated.
func (a *Accumulator) IsEmpty() bool {
	return a.Len() == 0
}

// Clear resets the accumulator to Empty, discarding accumulated rows.
// Callers clear only after a successful flush.
func (a *Accumulator) Clear() {
	a.op = Empty{}
}

// Accepts reports whether Push(op) would succeed without a contract violation.
// The engine uses it to flush before pushing an incompatible operation.
func (a *Accumulator) Accepts(op Operation) bool {
	_, err := a.next(op)
	return err == nil
}

// Push folds op into the accumulated state.
// On error the state is left unchanged.
func (a *Accumulator) Push(op Operation) error {
	next, err := a.next(op)
	if err != nil {
		return err
	}
	a.op = next
	return nil
}

func (a *Accumulator) next(incoming Operation) (Operation, error) {
	state := a.Operation()
	violation := func(reason string) error {
		return &ContractViolationError{
			State:    Kind(state),
			Incoming: Kind(incoming),
			Reason:   reason,
		}
	}

	switch in := incoming.(type) {
	case Insert:
		switch cur := state.(type) {
		case Empty:
			return in, nil
		case Insert:
			if cur.Table != in.Table {
				return nil, violation("table mismatch")
			}
			cols := Columns(cur.Values)
			if !slices.Equal(cols, Columns(in.Values)) {
				return nil, violation("column order mismatch")
			}
			return BatchInsert{
				Table:   cur.Table,
				Columns: cols,
				Rows:    [][]Value{cur.Values, in.Values},
			}, nil
		case BatchInsert:
			if cur.Table != in.Table {
				return nil, violation("table mismatch")
			}
			if !slices.Equal(cur.Columns, Columns(in.Values)) {
				return nil, violation("column order mismatch")
			}
			cur.Rows = append(cur.Rows, in.Values)
			return cur, nil
		default:
			return nil, violation("mixed operation kinds")
		}

	case Upsert:
		switch cur := state.(type) {
		case Empty:
			return in, nil
		case Upsert:
			if cur.Table != in.Table {
				return nil, violation("table mismatch")
			}
			if cur.ConflictKey != in.ConflictKey {
				return nil, violation("conflict key mismatch")
			}
			cols := Columns(cur.Values)
			if !slices.Equal(cols, Columns(in.Values)) {
				return nil, violation("column order mismatch")
			}
			return BatchUpsert{
				Table:       cur.Table,
				Columns:     cols,
				Rows:        [][]Value{cur.Values, in.Values},
				ConflictKey: cur.ConflictKey,
			}, nil
		case BatchUpsert:
			if cur.Table != in.Table {
				return nil, violation("table mismatch")
			}
			if cur.ConflictKey != in.ConflictKey {
				return nil, violation("conflict key mismatch")
			}
			if !slices.Equal(cur.Columns, Columns(in.Values)) {
				return nil, violation("column order mismatch")
			}
			cur.Rows = append(cur.Rows, in.Values)
			return cur, nil
		default:
			return nil, violation("mixed operation kinds")
		}

	default:
		return nil, violation("only single insert or upsert operations can be pushed")
	}
}
