// Package model defines the write operations consumed by the sink.
//
// This package contains the data model only. Every other internal package
// imports model; model imports nothing internal.
//
// An Operation is one of five variants:
//   - Empty: the rest state of an Accumulator
//   - Insert, Upsert: a single row, created by producers
//   - BatchInsert, BatchUpsert: many rows sharing one column order, created
//     only by the Accumulator
//
// Values always carry their payload as a string (RawValue) together with a
// declared TypeTag. Parsing the payload into a backend-native parameter is the
// job of the bind and dialect packages, never of model.
package model
