package stats

import (
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// FormatNumber renders n with thousands separators
func FormatNumber(n int) string {
	return printer.Sprintf("%d", n)
}

// PercentChange returns the relative change from previous to current in
// percent. It is not defined when previous is zero or not finite.
func PercentChange(current, previous float64) (float64, bool) {
	if previous == 0 || math.IsNaN(previous) || math.IsInf(previous, 0) {
		return 0, false
	}
	return (current - previous) / previous * 100, true
}

// FormatChange describes the move from previous to current as an absolute
// delta and a percentage, e.g. "+120 (+12.5%)". It is "n/a" when there is
// no usable baseline.
func FormatChange(current, previous float64) string {
	pct, ok := PercentChange(current, previous)
	if !ok {
		return "n/a"
	}
	delta := current - previous
	return signed(delta, "%.0f") + " (" + signed(pct, "%.1f") + "%)"
}

func signed(v float64, verb string) string {
	switch {
	case v > 0:
		return "+" + printer.Sprintf(verb, v)
	case v < 0:
		return "-" + printer.Sprintf(verb, -v)
	default:
		return printer.Sprintf(verb, 0.0)
	}
}
