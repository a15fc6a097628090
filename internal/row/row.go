package row

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Row maps physical column names to values.
type Row map[string]Value

// ID returns the "id" column as a string.
func (r Row) ID() string {
	return r.Text("id")
}

// Text returns a text or uuid column, or "" when absent or null.
func (r Row) Text(col string) string {
	if v, ok := r[col].(Text); ok {
		return string(v)
	}
	return ""
}

// Int returns an integer column, or 0.
func (r Row) Int(col string) int64 {
	if v, ok := r[col].(Int); ok {
		return int64(v)
	}
	return 0
}

// Bool returns a boolean column, or false.
func (r Row) Bool(col string) bool {
	if v, ok := r[col].(Bool); ok {
		return bool(v)
	}
	return false
}

// Decimal returns a decimal column, or zero.
func (r Row) Decimal(col string) decimal.Decimal {
	if v, ok := r[col].(Decimal); ok {
		return v.Decimal
	}
	return decimal.Zero
}

// Date returns a date column, or the zero Date.
func (r Row) Date(col string) Date {
	if v, ok := r[col].(Date); ok {
		return v
	}
	return Date{}
}

// Time returns a timestamp column, or the zero time.
func (r Row) Time(col string) time.Time {
	if v, ok := r[col].(Time); ok {
		return v.Time
	}
	return time.Time{}
}

// IsNull reports whether the column is absent or null.
func (r Row) IsNull(col string) bool {
	return IsNull(r[col])
}

// Has reports whether the column is present (null counts as present).
func (r Row) Has(col string) bool {
	_, ok := r[col]
	return ok
}

// Clone returns a shallow copy. Values are immutable so this is enough.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Merge returns a copy of r with every column of patch applied on top.
func (r Row) Merge(patch Row) Row {
	out := r.Clone()
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// Columns returns the column names in sorted order.
func (r Row) Columns() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Plain returns the row as a JSON-ready map.
func (r Row) Plain() map[string]any {
	out := make(map[string]any, len(r))
	for k, v := range r {
		out[k] = Plain(v)
	}
	return out
}

// MarshalJSON encodes the row with decimals as strings and dates as YYYY-MM-DD.
func (r Row) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Plain())
}

// TypeOf reports the declared type of a column.
type TypeOf func(col string) (Type, bool)

// FromMap converts a decoded JSON object or scanned record into a Row.
// Columns unknown to typeOf are skipped.
func FromMap(m map[string]any, typeOf TypeOf) (Row, error) {
	out := make(Row, len(m))
	for col, raw := range m {
		t, ok := typeOf(col)
		if !ok {
			continue
		}
		v, err := Coerce(t, raw)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col, err)
		}
		out[col] = v
	}
	return out, nil
}
