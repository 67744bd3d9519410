package geo

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/lox/crimedash/internal/datasets"
)

// Ramp is the fill scale from no activity to the busiest boundary
var Ramp = [5]string{"#fee5d9", "#fcae91", "#fb6a4a", "#de2d26", "#a50f15"}

// Fill picks the ramp colour for count relative to max
func Fill(count, max int) string {
	return Ramp[step(ratio(count, max))]
}

func ratio(count, max int) float64 {
	if max <= 0 {
		return 0
	}
	return float64(count) / float64(max)
}

func step(r float64) int {
	switch {
	case r >= 0.8:
		return 4
	case r >= 0.6:
		return 3
	case r >= 0.4:
		return 2
	case r >= 0.2:
		return 1
	default:
		return 0
	}
}

// Region is one shaded boundary polygon
type Region struct {
	Key      string     `json:"key"`
	Label    string     `json:"label"`
	Count    int        `json:"count"`
	Ratio    float64    `json:"ratio"`
	Fill     string     `json:"fill"`
	Centroid [2]float64 `json:"centroid"` // lon, lat
}

// Choropleth is the resolved map model for a boundary dataset
type Choropleth struct {
	MaxCount    int             `json:"maxCount"`
	CountsByKey map[string]int  `json:"countsByKey"`
	Regions     []Region        `json:"regions"`
	Bound       *[4]float64     `json:"bound,omitempty"` // min lon, min lat, max lon, max lat
	GeoJSON     json.RawMessage `json:"geojson"`
}

// ResolveChoropleth joins grouped counts onto boundary polygons. Labels and
// the key property are matched after trimming; unmatched polygons get 0 and
// are kept.
func ResolveChoropleth(fc *geojson.FeatureCollection, g datasets.ChoroplethGeo, counts map[string]int) (*Choropleth, error) {
	byKey := make(map[string]int, len(counts))
	max := 0
	for label, n := range counts {
		byKey[strings.TrimSpace(label)] += n
		if n > max {
			max = n
		}
	}

	out := &Choropleth{
		MaxCount:    max,
		CountsByKey: byKey,
	}

	shaded := geojson.NewFeatureCollection()
	if fc != nil {
		for _, f := range fc.Features {
			key := strings.TrimSpace(propString(f.Properties, g.Key))
			label := strings.TrimSpace(propString(f.Properties, g.Label))
			if label == "" {
				label = key
			}
			n := byKey[key]
			r := ratio(n, max)

			region := Region{
				Key:   key,
				Label: label,
				Count: n,
				Ratio: r,
				Fill:  Ramp[step(r)],
			}
			if f.Geometry != nil {
				c, _ := planar.CentroidArea(f.Geometry)
				region.Centroid = [2]float64{c.Lon(), c.Lat()}
			}
			out.Regions = append(out.Regions, region)

			nf := geojson.NewFeature(f.Geometry)
			nf.ID = f.ID
			nf.Properties = f.Properties.Clone()
			nf.Properties["count"] = n
			nf.Properties["ratio"] = r
			nf.Properties["fill"] = region.Fill
			nf.Properties["label"] = label
			shaded.Append(nf)
		}
	}

	if b, ok := Bound(fc); ok {
		out.Bound = &[4]float64{b.Min.Lon(), b.Min.Lat(), b.Max.Lon(), b.Max.Lat()}
	}

	raw, err := shaded.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode choropleth: %w", err)
	}
	out.GeoJSON = raw
	return out, nil
}

// propString reads a feature property as text. Numeric keys such as
// district numbers are common in boundary files.
func propString(p geojson.Properties, key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// Bound returns the bounding box of the whole collection, for initial map
// framing
func Bound(fc *geojson.FeatureCollection) (orb.Bound, bool) {
	if fc == nil || len(fc.Features) == 0 {
		return orb.Bound{}, false
	}
	var b orb.Bound
	first := true
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		fb := f.Geometry.Bound()
		if first {
			b = fb
			first = false
			continue
		}
		b = b.Union(fb)
	}
	return b, !first
}
