// Package geo resolves map data: row coordinates for point datasets and
// shaded boundary polygons for choropleth datasets.
package geo

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/lox/crimedash/internal/datasets"
	"github.com/lox/crimedash/internal/normalize"
)

// Point is a WGS84 location
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

var (
	latFallbacks = []string{"lat", "latitude"}
	lonFallbacks = []string{"lon", "longitude"}

	coordPair = regexp.MustCompile(`(-?\d+\.\d+)\s*[,\s]\s*(-?\d+\.\d+)`)
)

// Fields returns the columns a points query needs to select
func Fields(g datasets.PointGeo) []string {
	var out []string
	if g.LatField != "" && g.LonField != "" {
		out = append(out, g.LatField, g.LonField)
	}
	if g.GeoField != "" {
		out = append(out, g.GeoField)
	}
	return out
}

// ExtractPoint reduces a row of t to a point. Fields are resolved through
// the table's columns, so positional and keyed rows behave the same.
// Explicit lat/lon fields win when both parse; otherwise the combined geo
// field is tried as free text, then as a JSON object. Rows with neither
// yield false.
func ExtractPoint(t *normalize.Table, row normalize.Row, g datasets.PointGeo) (Point, bool) {
	lookup := func(name string) gjson.Result { return t.Lookup(row, name) }
	lat, latOK := firstNumber(lookup, prepend(g.LatField, latFallbacks))
	lon, lonOK := firstNumber(lookup, prepend(g.LonField, lonFallbacks))
	if latOK && lonOK {
		return Point{Lat: lat, Lon: lon}, true
	}
	if g.GeoField == "" {
		return Point{}, false
	}
	return ParseCombined(lookup(g.GeoField))
}

// ParseCombined parses a combined geo value: "lat,lon" text, WKT-style
// "POINT (lon lat)", a {latitude, longitude} object, or a GeoJSON-like
// {coordinates: [lon, lat]} object.
func ParseCombined(v gjson.Result) (Point, bool) {
	switch {
	case v.Type == gjson.String:
		trimmed := strings.TrimSpace(v.Str)
		if strings.HasPrefix(trimmed, "{") && gjson.Valid(trimmed) {
			return parseObject(gjson.Parse(trimmed))
		}
		return parseText(v.Str)
	case v.IsObject():
		return parseObject(v)
	}
	return Point{}, false
}

func parseText(s string) (Point, bool) {
	m := coordPair.FindStringSubmatch(s)
	if m == nil {
		return Point{}, false
	}
	a, errA := strconv.ParseFloat(m[1], 64)
	b, errB := strconv.ParseFloat(m[2], 64)
	if errA != nil || errB != nil || !finite(a) || !finite(b) {
		return Point{}, false
	}
	if math.Abs(a) > 90 || strings.Contains(strings.ToUpper(s), "POINT") {
		return Point{Lat: b, Lon: a}, true
	}
	return Point{Lat: a, Lon: b}, true
}

func parseObject(v gjson.Result) (Point, bool) {
	obj := normalize.NewRow(v.Raw)
	lat, latOK := firstNumber(obj.Field, []string{"latitude", "lat", "y"})
	lon, lonOK := firstNumber(obj.Field, []string{"longitude", "lon", "lng", "x"})
	if latOK && lonOK {
		return Point{Lat: lat, Lon: lon}, true
	}
	coords := v.Get("coordinates")
	if coords.IsArray() {
		arr := coords.Array()
		if len(arr) >= 2 {
			lon, lonOK := number(arr[0])
			lat, latOK := number(arr[1])
			if latOK && lonOK {
				return Point{Lat: lat, Lon: lon}, true
			}
		}
	}
	return Point{}, false
}

// firstNumber returns the first of names holding a finite number
func firstNumber(lookup func(string) gjson.Result, names []string) (float64, bool) {
	for _, name := range names {
		if name == "" {
			continue
		}
		if f, ok := number(lookup(name)); ok {
			return f, true
		}
	}
	return 0, false
}

func number(v gjson.Result) (float64, bool) {
	switch v.Type {
	case gjson.Number:
		return v.Num, finite(v.Num)
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil || !finite(f) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func prepend(first string, rest []string) []string {
	if first == "" {
		return rest
	}
	return append([]string{first}, rest...)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
