// Package dialect describes the SQL backends the sink can write to.
//
// A Dialect is a small capability set rather than a base class:
//   - Placeholder(i): "$i" for numbered dialects, "?" for positional ones
//   - ExcludedColumn(c): how an upsert's SET clause refers to the incoming row
//   - AssignsConflictColumns: whether SET may assign the conflict key columns
//   - Bind: the per-TypeTag binder map producing driver-native parameters
//
// New backends are added by implementing the interface and registering the
// dialect in Lookup; the query builder and execution engine need no change.
package dialect
