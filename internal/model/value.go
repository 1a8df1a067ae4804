package model

import (
	"encoding/json"
	"fmt"
)

// TypeTag is the declared SQL type of a Value.
// The set is closed: there is no "unknown" tag.
type TypeTag int

const (
	Bool TypeTag = iota + 1
	Char
	SmallInt
	Int
	BigInt
	Float
	DoublePrecision
	Text
	Bytes
	Numeric
	Timestamp
	Date
	Time
	UUID
	JSON
)

var typeNames = map[TypeTag]string{
	Bool:            "Bool",
	Char:            "Char",
	SmallInt:        "SmallInt",
	Int:             "Int",
	BigInt:          "BigInt",
	Float:           "Float",
	DoublePrecision: "DoublePrecision",
	Text:            "Text",
	Bytes:           "Bytes",
	Numeric:         "Numeric",
	Timestamp:       "Timestamp",
	Date:            "Date",
	Time:            "Time",
	UUID:            "Uuid",
	JSON:            "Json",
}

var typesByName = func() map[string]TypeTag {
	m := make(map[string]TypeTag, len(typeNames))
	for t, name := range typeNames {
		m[name] = t
	}
	return m
}()

// AllTypes lists every recognized tag in declaration order.
func AllTypes() []TypeTag {
	return []TypeTag{
		Bool, Char, SmallInt, Int, BigInt, Float, DoublePrecision,
		Text, Bytes, Numeric, Timestamp, Date, Time, UUID, JSON,
	}
}

// String returns the wire name of the tag.
func (t TypeTag) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TypeTag(%d)", int(t))
}

// Valid reports whether t is one of the recognized tags.
func (t TypeTag) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

// ParseTypeTag resolves a wire name such as "BigInt".
func ParseTypeTag(name string) (TypeTag, error) {
	t, ok := typesByName[name]
	if !ok {
		return 0, fmt.Errorf("unknown type tag %q", name)
	}
	return t, nil
}

// MarshalJSON encodes the tag as its wire name.
func (t TypeTag) MarshalJSON() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid type tag %d", int(t))
	}
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes a wire name. Unknown names are rejected.
func (t *TypeTag) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("type tag: %w", err)
	}
	parsed, err := ParseTypeTag(name)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Value is a single column assignment.
// RawValue is the string-encoded payload regardless of Type.
type Value struct {
	Column   string  `json:"column"`
	RawValue string  `json:"raw_value"`
	Type     TypeTag `json:"type"`
}

// Columns returns the column names of values in order.
func Columns(values []Value) []string {
	cols := make([]string, len(values))
	for i, v := range values {
		cols[i] = v.Column
	}
	return cols
}
