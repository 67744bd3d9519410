// Package normalize turns arbitrary JSON query responses into a uniform
// column/row table.
package normalize

import (
	"strconv"

	"github.com/tidwall/gjson"
)

// Column identifies one field of a table. Keys are unique within a table.
type Column struct {
	Label string `json:"label"`
	Key   string `json:"key"`
	Index int    `json:"index"`
}

// Table is a normalized response
type Table struct {
	Columns []Column `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// Empty reports whether the table has no rows
func (t *Table) Empty() bool {
	return t == nil || len(t.Rows) == 0
}

// Column returns the column with the given key, falling back to a label match
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Key == name {
			return c, true
		}
	}
	for _, c := range t.Columns {
		if c.Label == name {
			return c, true
		}
	}
	return Column{}, false
}

// HasField reports whether name is one of the table's column keys or labels
func (t *Table) HasField(name string) bool {
	_, ok := t.Column(name)
	return ok
}

// Lookup reads a named value from a row of this table. Positional rows are
// resolved through the column set; keyed rows are read directly. A nil
// table reads keyed rows only.
func (t *Table) Lookup(r Row, name string) gjson.Result {
	if t == nil {
		return r.Field(name)
	}
	if c, ok := t.Column(name); ok {
		if v := r.Get(c); v.Exists() {
			return v
		}
	}
	return r.Field(name)
}

var metaPaths = []string{"data.columns", "meta.view.columns", "columns"}

var rowPaths = []string{"data.rows", "rows", "data", "results"}

// Normalize maps a JSON payload into a Table. It never fails: a falsy or
// unparseable payload yields an empty table and an unrecognised value
// becomes a single row.
func Normalize(payload []byte) *Table {
	if !gjson.ValidBytes(payload) {
		return &Table{Columns: []Column{}, Rows: []Row{}}
	}
	return FromResult(gjson.ParseBytes(payload))
}

// FromResult is Normalize for an already parsed value
func FromResult(root gjson.Result) *Table {
	if falsy(root) {
		return &Table{Columns: []Column{}, Rows: []Row{}}
	}

	meta := gjson.Result{}
	if root.IsObject() {
		for _, p := range metaPaths {
			if v := root.Get(p); !falsy(v) {
				meta = v
				break
			}
		}
	}

	var rows []gjson.Result
	found := false
	if root.IsObject() {
		for _, p := range rowPaths {
			if v := root.Get(p); v.IsArray() {
				rows = v.Array()
				found = true
				break
			}
		}
	}
	if !found {
		if root.IsArray() {
			rows = root.Array()
		} else {
			rows = []gjson.Result{root}
		}
	}

	var sample gjson.Result
	if len(rows) > 0 {
		sample = rows[0]
	}

	out := &Table{
		Columns: buildColumns(meta, sample),
		Rows:    make([]Row, len(rows)),
	}
	for i, r := range rows {
		out.Rows[i] = Row{raw: r}
	}
	return out
}

func buildColumns(meta, sample gjson.Result) []Column {
	seen := map[string]int{}
	var cols []Column
	add := func(label, key string) {
		key = uniqueKey(seen, key)
		cols = append(cols, Column{Label: label, Key: key, Index: len(cols)})
	}

	if meta.IsArray() && len(meta.Array()) > 0 {
		for i, m := range meta.Array() {
			label := firstTruthy(m, "name", "fieldName", "id")
			if label == "" {
				label = "Column " + strconv.Itoa(i+1)
			}
			key := firstTruthy(m, "fieldName", "name", "id")
			if key == "" {
				key = strconv.Itoa(i)
			}
			add(label, key)
		}
		return cols
	}

	switch {
	case sample.IsArray():
		for i := range sample.Array() {
			add("Column "+strconv.Itoa(i+1), strconv.Itoa(i))
		}
	case sample.IsObject():
		sample.ForEach(func(k, _ gjson.Result) bool {
			add(FormatLabel(k.String()), k.String())
			return true
		})
	}
	if cols == nil {
		if sample.IsArray() || sample.IsObject() {
			return []Column{}
		}
		return []Column{{Label: "Value", Key: "value", Index: 0}}
	}
	return cols
}

func uniqueKey(seen map[string]int, key string) string {
	n := seen[key]
	seen[key] = n + 1
	if n == 0 {
		return key
	}
	for {
		n++
		candidate := key + "_" + strconv.Itoa(n)
		if _, taken := seen[candidate]; !taken {
			seen[candidate] = 1
			return candidate
		}
	}
}

func firstTruthy(obj gjson.Result, keys ...string) string {
	if !obj.IsObject() {
		return ""
	}
	for _, k := range keys {
		if v := obj.Get(k); !falsy(v) {
			return v.String()
		}
	}
	return ""
}

// falsy mirrors loose JSON truthiness: missing, null, false, 0 and "" are falsy
func falsy(v gjson.Result) bool {
	if !v.Exists() {
		return true
	}
	switch v.Type {
	case gjson.Null, gjson.False:
		return true
	case gjson.Number:
		return v.Num == 0
	case gjson.String:
		return v.Str == ""
	}
	return false
}
