// Package harness runs conformance scenarios against the delivery engine.
//
// A scenario prepares a real database, streams messages through engine.Run
// exactly as the run command does, and then checks the statements sent and
// the rows left behind.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	url: "sqlite::memory:"
//	batch_size: 2
//	fail_executes: 1
//	setup:
//	  - CREATE TABLE items (id INTEGER PRIMARY KEY, qty INTEGER)
//	flow:
//	  - insert:
//	      table: items
//	      values:
//	        - { column: id, raw_value: "1", type: Int }
//	  - upsert:
//	      table: items
//	      conflict_key: id
//	      values:
//	        - { column: id, raw_value: "1", type: Int }
//	  - raw: "not json"
//	assertions:
//	  - type: row_count
//	    table: items
//	    count: 1
//	  - type: final_state
//	    table: items
//	    where: { id: 1 }
//	    expect: { qty: 5 }
//
// # Assertion Types
//
//   - row_count: a table holds exactly N rows
//   - final_state: the single row matching where holds the expected values
//   - statement_count: N statements were sent, retries included
//   - dropped_count: N operations were dropped as data errors
//
// # Deterministic Testing
//
// The batch interval is pushed out of reach so batches flush by size or at
// end of stream only. Together with a pre-filled, closed queue this makes the
// trace reproducible for golden snapshot comparison.
package harness
