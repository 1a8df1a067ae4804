package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedMessage is returned when an inbound message does not describe
// exactly one Insert or Upsert.
var ErrMalformedMessage = errors.New("malformed operation message")

type wireInsert struct {
	Table  string  `json:"table"`
	Values []Value `json:"values"`
}

type wireUpsert struct {
	Table     string   `json:"table"`
	Values    []Value  `json:"values"`
	UniqIdx   string   `json:"uniq_idx,omitempty"`
	IDColumns []string `json:"id_columns,omitempty"`
}

// wireOperation is the externally tagged wire form:
//
//	{"Insert": {"table": "t", "values": [...]}}
//	{"Upsert": {"table": "t", "values": [...], "uniq_idx": "id"}}
type wireOperation struct {
	Insert *wireInsert `json:"Insert,omitempty"`
	Upsert *wireUpsert `json:"Upsert,omitempty"`
}

// DecodeOperation parses one inbound message into an Insert or Upsert.
// Batch variants are never accepted on the wire.
func DecodeOperation(data []byte) (Operation, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if len(raw) != 1 {
		return nil, fmt.Errorf("%w: expected exactly one variant, got %d", ErrMalformedMessage, len(raw))
	}

	var w wireOperation
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch {
	case w.Insert != nil:
		if w.Insert.Table == "" {
			return nil, fmt.Errorf("%w: insert without table", ErrMalformedMessage)
		}
		return Insert{Table: w.Insert.Table, Values: w.Insert.Values}, nil
	case w.Upsert != nil:
		if w.Upsert.Table == "" {
			return nil, fmt.Errorf("%w: upsert without table", ErrMalformedMessage)
		}
		key := w.Upsert.UniqIdx
		if key == "" {
			key = strings.Join(w.Upsert.IDColumns, ",")
		}
		if key == "" {
			return nil, fmt.Errorf("%w: upsert without conflict key", ErrMalformedMessage)
		}
		return Upsert{Table: w.Upsert.Table, Values: w.Upsert.Values, ConflictKey: key}, nil
	default:
		for name := range raw {
			return nil, fmt.Errorf("%w: unknown variant %q", ErrMalformedMessage, name)
		}
		return nil, ErrMalformedMessage
	}
}

// EncodeOperation renders a single Insert or Upsert in the wire form.
func EncodeOperation(op Operation) ([]byte, error) {
	switch o := op.(type) {
	case Insert:
		return json.Marshal(wireOperation{Insert: &wireInsert{Table: o.Table, Values: o.Values}})
	case Upsert:
		return json.Marshal(wireOperation{Upsert: &wireUpsert{Table: o.Table, Values: o.Values, UniqIdx: o.ConflictKey}})
	default:
		return nil, fmt.Errorf("cannot encode %s operation", Kind(op))
	}
}
