package stats

import (
	"sort"
	"strings"

	"github.com/lox/crimedash/internal/normalize"
)

// TopLimit caps every top-N list
const TopLimit = 8

// TopItem is one entry of a top-N list
type TopItem struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// FieldChoice is the live field picked for a grouping. Suspect is set when
// none of the candidates exist in the live schema and the first candidate
// was used anyway.
type FieldChoice struct {
	Name    string `json:"name"`
	Suspect bool   `json:"suspect,omitempty"`
}

// ResolveField picks the first candidate present in the probe table. When
// none match, the first candidate is returned flagged as suspect.
func ResolveField(probe *normalize.Table, candidates []string) (FieldChoice, bool) {
	if len(candidates) == 0 {
		return FieldChoice{}, false
	}
	if probe != nil {
		for _, c := range candidates {
			if probe.HasField(c) {
				return FieldChoice{Name: c}, true
			}
		}
	}
	return FieldChoice{Name: candidates[0], Suspect: true}, true
}

// ParseGroupCounts reads label/count rows. Blank labels are dropped.
func ParseGroupCounts(t *normalize.Table) []TopItem {
	if t == nil {
		return nil
	}
	var out []TopItem
	for _, r := range t.Rows {
		label := strings.TrimSpace(normalize.FormatCell(t.Lookup(r, "label")))
		if label == "" {
			continue
		}
		out = append(out, TopItem{Label: label, Count: toCount(t.Lookup(r, "count"))})
	}
	return out
}

// TopN sorts items by count, largest first, and truncates to limit. Lists
// shorter than limit are returned as is.
func TopN(items []TopItem, limit int) []TopItem {
	out := make([]TopItem, 0, len(items))
	for _, it := range items {
		if strings.TrimSpace(it.Label) == "" {
			continue
		}
		out = append(out, it)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// CountsByLabel folds grouped counts into a map, summing duplicate labels
func CountsByLabel(items []TopItem) map[string]int {
	out := make(map[string]int, len(items))
	for _, it := range items {
		out[it.Label] += it.Count
	}
	return out
}
