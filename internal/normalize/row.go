package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Row is one record of a table: a positional array, a keyed object, or a
// bare scalar when the payload had no recognisable row shape.
type Row struct {
	raw gjson.Result
}

// NewRow wraps a raw JSON value as a row
func NewRow(raw string) Row {
	return Row{raw: gjson.Parse(raw)}
}

// Raw returns the underlying JSON value
func (r Row) Raw() gjson.Result { return r.raw }

// Get returns the cell for a column. Arrays are read by index, objects by
// key then label, and anything else is its own value.
func (r Row) Get(c Column) gjson.Result {
	switch {
	case r.raw.IsArray():
		arr := r.raw.Array()
		if c.Index < 0 || c.Index >= len(arr) {
			return gjson.Result{}
		}
		return arr[c.Index]
	case r.raw.IsObject():
		if v := r.Field(c.Key); v.Exists() {
			return v
		}
		return r.Field(c.Label)
	default:
		return r.raw
	}
}

// Field reads an object member by exact name. Names are not interpreted as
// gjson paths, so dotted or colon-prefixed field names are safe.
func (r Row) Field(name string) gjson.Result {
	if !r.raw.IsObject() {
		return gjson.Result{}
	}
	var out gjson.Result
	r.raw.ForEach(func(k, v gjson.Result) bool {
		if k.String() == name {
			out = v
			return false
		}
		return true
	})
	return out
}

// MarshalJSON writes the row back out unchanged, preserving key order
func (r Row) MarshalJSON() ([]byte, error) {
	if !r.raw.Exists() || r.raw.Raw == "" {
		return []byte("null"), nil
	}
	return []byte(r.raw.Raw), nil
}

// UnmarshalJSON keeps the raw value
func (r *Row) UnmarshalJSON(data []byte) error {
	r.raw = gjson.ParseBytes(append([]byte(nil), data...))
	return nil
}

var camelBoundary = regexp.MustCompile(`([a-z])([A-Z])`)

// FormatLabel humanises a field key: underscores become spaces, camel case
// is split, and each word is capitalised.
func FormatLabel(key string) string {
	s := strings.ReplaceAll(key, "_", " ")
	s = camelBoundary.ReplaceAllString(s, "$1 $2")
	// Casers keep state between calls and must not be shared across goroutines.
	return cases.Title(language.Und, cases.NoLower).String(s)
}

// FormatCell renders a cell for display. Missing and null values are empty
// and nested values are compact JSON.
func FormatCell(v gjson.Result) string {
	if !v.Exists() {
		return ""
	}
	switch v.Type {
	case gjson.Null:
		return ""
	case gjson.String:
		return v.Str
	case gjson.Number:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case gjson.True:
		return "true"
	case gjson.False:
		return "false"
	}
	return gjson.Get(v.Raw, "@ugly").Raw
}

// MaxCellLength is the display width past which cells are truncated
const MaxCellLength = 160

// Truncate shortens s to max runes, ending in "..." when cut
func Truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	keep := max - 3
	if keep < 0 {
		keep = 0
	}
	return string(runes[:keep]) + "..."
}
