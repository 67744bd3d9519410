package datasets

import (
	"errors"
	"strconv"
	"strings"
)

// ErrUnknownDataset is returned when a dataset id is not in the registry
var ErrUnknownDataset = errors.New("unknown dataset")

// Dataset describes one crime incident source
type Dataset struct {
	ID            string
	Label         string
	City          string
	DatasetID     string
	Name          string
	Endpoint      string
	Description   string
	DateField     string
	DateFieldCast string
	CompareStart  string
	CompareEnd    string

	CategoryFields []string
	LocationFields []string
	AddressFields  []string

	Geo Geo
}

// Geo is the geography descriptor of a dataset. It is one of NoGeo,
// PointGeo or ChoroplethGeo.
type Geo interface {
	geoKind() string
}

// NoGeo marks a dataset without location data
type NoGeo struct{}

// PointGeo locates each row by lat/lon fields, a combined geo field, or both
type PointGeo struct {
	LatField string
	LonField string
	GeoField string
}

// ChoroplethGeo shades boundary polygons by grouped counts
type ChoroplethGeo struct {
	URL   string // GeoJSON FeatureCollection of boundaries
	Key   string // feature property matched against group labels
	Label string // feature property used for display
	Field string // dataset field the counts are grouped by
}

func (NoGeo) geoKind() string         { return "none" }
func (PointGeo) geoKind() string      { return "point" }
func (ChoroplethGeo) geoKind() string { return "choropleth" }

// GeoKind returns "none", "point" or "choropleth"
func (d Dataset) GeoKind() string {
	if d.Geo == nil {
		return NoGeo{}.geoKind()
	}
	return d.Geo.geoKind()
}

// HasGeoSupport reports whether the dataset can produce a map
func (d Dataset) HasGeoSupport() bool {
	switch g := d.Geo.(type) {
	case PointGeo:
		return (g.LatField != "" && g.LonField != "") || g.GeoField != ""
	case ChoroplethGeo:
		return g.URL != "" && g.Field != ""
	default:
		return false
	}
}

// DateExpr is the date field with its cast suffix, for use in projections
// and date arithmetic.
func (d Dataset) DateExpr() string {
	return d.DateField + d.DateFieldCast
}

// CompareYears returns the two calendar years of the monthly comparison
// window. The base year is taken from CompareStart.
func (d Dataset) CompareYears() (int, int) {
	year := 2024
	if len(d.CompareStart) >= 4 {
		if y, err := strconv.Atoi(d.CompareStart[:4]); err == nil {
			year = y
		}
	}
	return year, year + 1
}

// Option is the selector entry for a dataset
type Option struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// TokenEnvKey is the environment variable holding a per-dataset app token
func (d Dataset) TokenEnvKey() string {
	id := strings.ToUpper(d.ID)
	id = strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(id)
	return "CRIMEDASH_TOKEN_" + id
}
