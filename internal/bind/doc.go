// Package bind holds the parse rules that turn a string-encoded, tagged
// model.Value into a Go value.
//
// Every dialect shares the same rule per TypeTag; a dialect only decides the
// native representation handed to its driver (see package dialect). Parsing
// is strict: no trimming, no default substitution, no base64 for Bytes.
package bind
