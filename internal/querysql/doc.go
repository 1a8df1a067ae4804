// Package querysql builds dialect-specific INSERT and upsert statements from
// model operations.
//
// The builder returns the SQL text together with the values in the exact
// positional order the text expects; binding them is left to the dialect.
//
// Table names, column names and conflict keys are interpolated as-is. They
// are a trust boundary: callers must source them from configuration, never
// from record content.
package querysql
