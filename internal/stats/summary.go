package stats

import "fmt"

// MaxSummarySentences caps the digest
const MaxSummarySentences = 4

// periodSentence describes one period against its predecessor. It is empty
// when both periods are zero.
func periodSentence(subject string, current, previous int, against string) string {
	if current == 0 && previous == 0 {
		return ""
	}
	change := FormatChange(float64(current), float64(previous))
	if change == "n/a" {
		return fmt.Sprintf("%s: %s incidents reported.", subject, FormatNumber(current))
	}
	return fmt.Sprintf("%s: %s incidents reported, %s %s.", subject, FormatNumber(current), change, against)
}

// BuildSummary assembles up to four sentences: month to date, last 30
// days, year to date, then one sentence for the first available of the top
// category, location, district and address.
func BuildSummary(s *Stats) []string {
	out := []string{}
	add := func(sentence string) {
		if sentence != "" && len(out) < MaxSummarySentences {
			out = append(out, sentence)
		}
	}

	add(periodSentence("Month to date", s.counts.mtd, s.counts.priorMTD, "vs the same point last month"))
	add(periodSentence("Last 30 days", s.counts.last30, s.counts.prior30, "vs the prior 30 days"))
	add(periodSentence("Year to date", s.counts.ytd, s.counts.priorYTD, "vs the same point last year"))
	add(topSentence(s))
	return out
}

func topSentence(s *Stats) string {
	if top, ok := first(s.TopCategories); ok {
		return fmt.Sprintf("Most common category in the last 30 days: %s (%s).", top.Label, FormatNumber(top.Count))
	}
	if top, ok := first(s.TopLocations); ok {
		return fmt.Sprintf("Most common location type: %s (%s).", top.Label, FormatNumber(top.Count))
	}
	if top, ok := first(s.TopDistricts); ok {
		return fmt.Sprintf("Busiest district in the last 30 days: %s (%s).", top.Label, FormatNumber(top.Count))
	}
	if top, ok := first(s.TopAddresses); ok {
		return fmt.Sprintf("Most reported address: %s (%s).", top.Label, FormatNumber(top.Count))
	}
	return ""
}

func first(items []TopItem) (TopItem, bool) {
	if len(items) == 0 {
		return TopItem{}, false
	}
	return items[0], true
}
