package bind

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Layouts used by the temporal parse rules. Go accepts an optional fractional
// second after "05" when parsing, so TimestampLayout matches both
// "2024-01-02 03:04:05" and "2024-01-02 03:04:05.123456". It also accepts a
// comma before the fraction, which ParseTimestamp rejects.
const (
	TimestampLayout = "2006-01-02 15:04:05"
	DateLayout      = "2006-01-02"
	TimeLayout      = "15:04:05"

	// TimestampTextLayout renders a parsed timestamp back to text, keeping
	// the fraction only when present.
	TimestampTextLayout = "2006-01-02 15:04:05.999999999"
)

var (
	errInvalidBool = errors.New(`expected "true" or "false"`)
	errInvalidUUID = errors.New("expected hyphenated 8-4-4-4-12 form")
	errInvalidJSON = errors.New("invalid JSON text")
	errTimeForm    = errors.New("expected HH:MM:SS without fractional seconds")
	errFractionSep = errors.New(`fractional seconds must follow "."`)
)

// ParseBool accepts exactly "true" or "false".
func ParseBool(s string) (bool, error) {
	switch s {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, errInvalidBool
	}
}

// ParseChar parses a small signed integer. Char is not a character literal.
func ParseChar(s string) (int8, error) {
	n, err := strconv.ParseInt(s, 10, 8)
	return int8(n), err
}

func ParseSmallInt(s string) (int16, error) {
	n, err := strconv.ParseInt(s, 10, 16)
	return int16(n), err
}

func ParseInt(s string) (int32, error) {
	n, err := strconv.ParseInt(s, 10, 32)
	return int32(n), err
}

func ParseBigInt(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

func ParseFloat(s string) (float32, error) {
	f, err := strconv.ParseFloat(s, 32)
	return float32(f), err
}

func ParseDoublePrecision(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

// ParseBytes returns the UTF-8 bytes of s. It never decodes base64 or hex,
// so payloads that are not valid text cannot be carried.
func ParseBytes(s string) []byte {
	return []byte(s)
}

// ParseNumeric parses an arbitrary precision decimal.
func ParseNumeric(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

// ParseNumericApprox parses a decimal as a 64-bit float, for backends without
// a native decimal type. Precision beyond float64 is lost.
func ParseNumericApprox(s string) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	f, _ := d.Float64()
	return f, nil
}

// ParseTimestamp parses "YYYY-MM-DD HH:MM:SS[.fraction]" as a UTC wall time.
// ISO-8601 variants ("T" separator, zone offsets) are rejected.
func ParseTimestamp(s string) (time.Time, error) {
	if strings.IndexByte(s, ',') >= 0 {
		return time.Time{}, errFractionSep
	}
	return time.ParseInLocation(TimestampLayout, s, time.UTC)
}

// ParseDate parses "YYYY-MM-DD".
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

// ParseTime parses "HH:MM:SS" and returns it as a time on 0000-01-01 UTC.
func ParseTime(s string) (time.Time, error) {
	if len(s) != len(TimeLayout) {
		return time.Time{}, errTimeForm
	}
	return time.ParseInLocation(TimeLayout, s, time.UTC)
}

// ParseUUID parses the canonical 36 character hyphenated form only.
func ParseUUID(s string) (uuid.UUID, error) {
	if len(s) != 36 {
		return uuid.Nil, errInvalidUUID
	}
	return uuid.Parse(s)
}

// ParseJSON validates s as JSON text and returns it compacted.
// Key order and number literals are preserved.
func ParseJSON(s string) (json.RawMessage, error) {
	if !json.Valid([]byte(s)) {
		return nil, errInvalidJSON
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(s)); err != nil {
		return nil, err
	}
	return json.RawMessage(buf.Bytes()), nil
}
