package row

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Value is a sealed interface over the column kinds a row can hold.
// Only Null, Text, Int, Bool, Decimal, Date and Time implement it.
type Value interface {
	rowValue() // Sealed - only these types implement it
}

// Null is an explicit SQL NULL.
type Null struct{}

func (Null) rowValue() {}

// Text holds text and uuid columns.
type Text string

func (Text) rowValue() {}

// Int holds integer columns.
type Int int64

func (Int) rowValue() {}

// Bool holds boolean columns.
type Bool bool

func (Bool) rowValue() {}

// Decimal holds money and other exact numeric columns.
type Decimal struct {
	decimal.Decimal
}

func (Decimal) rowValue() {}

// Time holds timestamp columns, normalized to UTC.
type Time struct {
	time.Time
}

func (Time) rowValue() {}

// Money builds a Decimal from a literal like "12.50".
// Panics on malformed input; use for constants and tests only.
func Money(s string) Decimal {
	return Decimal{decimal.RequireFromString(s)}
}

// Dec wraps a decimal.Decimal.
func Dec(d decimal.Decimal) Decimal {
	return Decimal{d}
}

// At wraps a time.Time, converting it to UTC.
func At(t time.Time) Time {
	return Time{t.UTC()}
}

// Type identifies the declared kind of a column.
type Type int

const (
	TypeText Type = iota + 1
	TypeUUID
	TypeInt
	TypeBool
	TypeDecimal
	TypeDate
	TypeTime
)

func (t Type) String() string {
	switch t {
	case TypeText:
		return "text"
	case TypeUUID:
		return "uuid"
	case TypeInt:
		return "int"
	case TypeBool:
		return "bool"
	case TypeDecimal:
		return "decimal"
	case TypeDate:
		return "date"
	case TypeTime:
		return "timestamp"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// timeLayouts are the timestamp renderings accepted from drivers and
// REST payloads. Postgres prints timestamptz::text as "2006-01-02 15:04:05+00".
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// Coerce converts a loosely typed Go value into the Value kind declared
// for a column. It accepts what database/sql drivers scan into `any`
// (string, []byte, int64, bool, time.Time) and what encoding/json decodes
// with UseNumber (json.Number, string, bool, nil).
//
// Floats reach decimal columns only from YAML scenario literals and are
// converted through their shortest decimal representation.
func Coerce(t Type, v any) (Value, error) {
	if v == nil {
		return Null{}, nil
	}
	if _, ok := v.(Null); ok {
		return Null{}, nil
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if s, ok := v.(Text); ok && t != TypeText && t != TypeUUID {
		v = string(s)
	}

	switch t {
	case TypeText, TypeUUID:
		switch val := v.(type) {
		case Text:
			return val, nil
		case string:
			return Text(val), nil
		}
	case TypeInt:
		switch val := v.(type) {
		case Int:
			return val, nil
		case int64:
			return Int(val), nil
		case int:
			return Int(val), nil
		case json.Number:
			n, err := val.Int64()
			if err != nil {
				return nil, fmt.Errorf("int column: %w", err)
			}
			return Int(n), nil
		case string:
			n, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("int column: %w", err)
			}
			return Int(n), nil
		}
	case TypeBool:
		switch val := v.(type) {
		case Bool:
			return val, nil
		case bool:
			return Bool(val), nil
		case int64:
			return Bool(val != 0), nil
		case string:
			b, err := strconv.ParseBool(val)
			if err != nil {
				return nil, fmt.Errorf("bool column: %w", err)
			}
			return Bool(b), nil
		}
	case TypeDecimal:
		switch val := v.(type) {
		case Decimal:
			return val, nil
		case decimal.Decimal:
			return Decimal{val}, nil
		case Int:
			return Decimal{decimal.NewFromInt(int64(val))}, nil
		case int64:
			return Decimal{decimal.NewFromInt(val)}, nil
		case int:
			return Decimal{decimal.NewFromInt(int64(val))}, nil
		case json.Number:
			return parseDecimal(val.String())
		case Text:
			return parseDecimal(string(val))
		case string:
			return parseDecimal(val)
		case float64:
			if math.IsNaN(val) || math.IsInf(val, 0) {
				return nil, fmt.Errorf("decimal column: non-finite value")
			}
			return parseDecimal(strconv.FormatFloat(val, 'f', -1, 64))
		}
	case TypeDate:
		switch val := v.(type) {
		case Date:
			return val, nil
		case Text:
			return ParseDate(string(val))
		case string:
			return ParseDate(val)
		case time.Time:
			return DateOf(val), nil
		}
	case TypeTime:
		switch val := v.(type) {
		case Time:
			return val, nil
		case time.Time:
			return At(val), nil
		case Text:
			return parseTime(string(val))
		case string:
			return parseTime(val)
		}
	}
	return nil, fmt.Errorf("cannot use %T as %s", v, t)
}

func parseDecimal(s string) (Value, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("decimal column: %w", err)
	}
	return Decimal{d}, nil
}

func parseTime(s string) (Value, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return At(t), nil
		}
	}
	return nil, fmt.Errorf("timestamp column: unrecognized format %q", s)
}

// Plain returns the JSON-ready Go value for v: strings for text, dates,
// timestamps and decimals; int64 and bool as is; nil for Null.
func Plain(v Value) any {
	switch val := v.(type) {
	case nil, Null:
		return nil
	case Text:
		return string(val)
	case Int:
		return int64(val)
	case Bool:
		return bool(val)
	case Decimal:
		return val.String()
	case Date:
		return val.String()
	case Time:
		return val.UTC().Format(time.RFC3339Nano)
	default:
		return nil
	}
}

// Equal reports whether two values hold the same datum. Decimals compare
// numerically, so "10" equals "10.00".
func Equal(a, b Value) bool {
	switch av := a.(type) {
	case nil, Null:
		return IsNull(b)
	case Decimal:
		bv, ok := b.(Decimal)
		return ok && av.Equal(bv.Decimal)
	case Time:
		bv, ok := b.(Time)
		return ok && av.Equal(bv.Time)
	default:
		return a == b
	}
}

// IsNull reports whether v is absent or an explicit Null.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}
