package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/sqlsink/internal/model"
)

// DefaultURL is the database a scenario runs against when it names none.
const DefaultURL = "sqlite::memory:"

// Scenario defines a conformance test scenario.
// A scenario prepares a database, streams a list of messages through the
// delivery engine and asserts on the statements sent and the final tables.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// URL selects the backend. Defaults to DefaultURL.
	URL string `yaml:"url,omitempty"`

	// BatchSize enables batching when > 0.
	BatchSize int `yaml:"batch_size,omitempty"`

	// FailExecutes makes the first n executes fail as a lost connection
	// would, exercising reconnect and retry.
	FailExecutes int `yaml:"fail_executes,omitempty"`

	// Setup holds SQL statements run before the flow, usually DDL.
	Setup []string `yaml:"setup,omitempty"`

	// Flow is the inbound message stream, in order.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the trace and the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// FlowStep is one inbound message. Exactly one field is set.
type FlowStep struct {
	Insert *OperationSpec `yaml:"insert,omitempty"`
	Upsert *OperationSpec `yaml:"upsert,omitempty"`

	// Raw is sent verbatim, which is how malformed input is expressed.
	Raw string `yaml:"raw,omitempty"`
}

// OperationSpec describes a single-row write.
type OperationSpec struct {
	Table       string      `yaml:"table"`
	ConflictKey string      `yaml:"conflict_key,omitempty"`
	Values      []ValueSpec `yaml:"values"`
}

// ValueSpec is the YAML form of model.Value. Type is a type tag name such
// as "Int" or "Timestamp".
type ValueSpec struct {
	Column   string `yaml:"column"`
	RawValue string `yaml:"raw_value"`
	Type     string `yaml:"type"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "row_count": table holds exactly Count rows
	// - "final_state": the single row matching Where has the Expect values
	// - "statement_count": Count statements were sent, whatever their outcome
	// - "dropped_count": Count operations were dropped as data errors
	Type string `yaml:"type"`

	// Table is the table name (used by row_count and final_state).
	Table string `yaml:"table,omitempty"`

	// Where specifies query filters (used by final_state).
	Where map[string]any `yaml:"where,omitempty"`

	// Expect contains expected column values (used by final_state).
	// Subset match - only specified columns are validated.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number (used by the count assertions).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertRowCount       = "row_count"
	AssertFinalState     = "final_state"
	AssertStatementCount = "statement_count"
	AssertDroppedCount   = "dropped_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML with strict field validation.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// Messages renders the flow as wire messages.
func (s *Scenario) Messages() ([][]byte, error) {
	msgs := make([][]byte, 0, len(s.Flow))
	for i, step := range s.Flow {
		msg, err := step.message()
		if err != nil {
			return nil, fmt.Errorf("flow[%d]: %w", i, err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Tables returns the distinct tables written by the flow, sorted.
func (s *Scenario) Tables() []string {
	var tables []string
	for _, step := range s.Flow {
		var t string
		switch {
		case step.Insert != nil:
			t = step.Insert.Table
		case step.Upsert != nil:
			t = step.Upsert.Table
		}
		if t != "" && !slices.Contains(tables, t) {
			tables = append(tables, t)
		}
	}
	slices.Sort(tables)
	return tables
}

func (f FlowStep) message() ([]byte, error) {
	switch {
	case f.Insert != nil:
		values, err := f.Insert.values()
		if err != nil {
			return nil, err
		}
		return model.EncodeOperation(model.Insert{Table: f.Insert.Table, Values: values})
	case f.Upsert != nil:
		values, err := f.Upsert.values()
		if err != nil {
			return nil, err
		}
		return model.EncodeOperation(model.Upsert{
			Table:       f.Upsert.Table,
			Values:      values,
			ConflictKey: f.Upsert.ConflictKey,
		})
	default:
		return []byte(f.Raw), nil
	}
}

func (o *OperationSpec) values() ([]model.Value, error) {
	values := make([]model.Value, len(o.Values))
	for i, v := range o.Values {
		tag, err := model.ParseTypeTag(v.Type)
		if err != nil {
			return nil, fmt.Errorf("values[%d]: %w", i, err)
		}
		values[i] = model.Value{Column: v.Column, RawValue: v.RawValue, Type: tag}
	}
	return values, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if s.BatchSize < 0 {
		return fmt.Errorf("batch_size must be non-negative")
	}

	for i, step := range s.Flow {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(index int, step FlowStep) error {
	set := 0
	if step.Insert != nil {
		set++
	}
	if step.Upsert != nil {
		set++
	}
	if step.Raw != "" {
		set++
	}
	if set != 1 {
		return fmt.Errorf("flow[%d]: exactly one of insert, upsert or raw is required", index)
	}

	op := step.Insert
	if op == nil {
		op = step.Upsert
	}
	if op == nil {
		return nil
	}
	if op.Table == "" {
		return fmt.Errorf("flow[%d]: table is required", index)
	}
	if step.Upsert != nil && op.ConflictKey == "" {
		return fmt.Errorf("flow[%d]: conflict_key is required for upsert", index)
	}
	for j, v := range op.Values {
		if _, err := model.ParseTypeTag(v.Type); err != nil {
			return fmt.Errorf("flow[%d].values[%d]: %w", index, j, err)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertRowCount:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for row_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for row_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertStatementCount, AssertDroppedCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
