package datasets

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)

	list := r.List()
	require.NotEmpty(t, list)

	opts := r.Options()
	require.Len(t, opts, len(list))
	for i, ds := range list {
		assert.Equal(t, ds.ID, opts[i].ID)
		assert.Equal(t, ds.Label, opts[i].Label)
		assert.NotEmpty(t, ds.Endpoint, "dataset %s", ds.ID)
		assert.NotEmpty(t, ds.DateField, "dataset %s", ds.ID)
	}

	austin, err := r.Get("austin")
	require.NoError(t, err)
	assert.Equal(t, "occ_date", austin.DateExpr())
	assert.Equal(t, PointGeo{LatField: "latitude", LonField: "longitude"}, austin.Geo)
	assert.True(t, austin.HasGeoSupport())

	dallas, err := r.Get("dallas")
	require.NoError(t, err)
	assert.Equal(t, "date1::floating_timestamp", dallas.DateExpr())

	la, err := r.Get("los-angeles")
	require.NoError(t, err)
	assert.Equal(t, "choropleth", la.GeoKind())

	cambridge, err := r.Get("cambridge")
	require.NoError(t, err)
	assert.Equal(t, NoGeo{}, cambridge.Geo)
	assert.False(t, cambridge.HasGeoSupport())
}

func TestGetUnknown(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)

	_, err = r.Get("atlantis")
	if !errors.Is(err, ErrUnknownDataset) {
		t.Fatalf("Get(atlantis) err = %v, want ErrUnknownDataset", err)
	}
}

func TestParseValidation(t *testing.T) {
	base := `
datasets:
  - id: a
    endpoint: https://example.com/q.json
    date_field: d
    compare_start: "2024-01-01"
    compare_end: "2026-01-01"
`
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "valid",
			yaml: base,
		},
		{
			name:    "empty",
			yaml:    "datasets: []\n",
			wantErr: "no datasets",
		},
		{
			name: "missing endpoint",
			yaml: `
datasets:
  - id: a
    date_field: d
    compare_start: "2024-01-01"
    compare_end: "2026-01-01"
`,
			wantErr: "missing endpoint",
		},
		{
			name:    "duplicate id",
			yaml:    base + "  - id: a\n    endpoint: x\n    date_field: d\n    compare_start: a\n    compare_end: b\n",
			wantErr: "duplicate id",
		},
		{
			name: "mixed geography",
			yaml: base + `    geo:
      lat_field: lat
      lon_field: lon
      choropleth:
        url: https://example.com/b.geojson
        key: name
        field: district
`,
			wantErr: "cannot be combined",
		},
		{
			name: "half point",
			yaml: base + `    geo:
      lat_field: lat
`,
			wantErr: "set together",
		},
		{
			name: "unknown key",
			yaml: base + "    colour: blue\n",
			wantErr: "parse datasets",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseGeoVariants(t *testing.T) {
	doc := `
datasets:
  - id: combined
    endpoint: e
    date_field: d
    compare_start: "2023-01-01"
    compare_end: "2025-01-01"
    geo:
      geo_field: point
  - id: districts
    endpoint: e
    date_field: d
    compare_start: "2024-01-01"
    compare_end: "2026-01-01"
    geo:
      choropleth:
        url: https://example.com/b.geojson
        key: DIST
        field: district
`
	r, err := Parse([]byte(doc))
	require.NoError(t, err)

	combined, _ := r.Get("combined")
	assert.Equal(t, PointGeo{GeoField: "point"}, combined.Geo)
	assert.True(t, combined.HasGeoSupport())
	base, next := combined.CompareYears()
	assert.Equal(t, 2023, base)
	assert.Equal(t, 2024, next)

	districts, _ := r.Get("districts")
	assert.Equal(t, ChoroplethGeo{URL: "https://example.com/b.geojson", Key: "DIST", Label: "DIST", Field: "district"}, districts.Geo)
	assert.Equal(t, "districts", districts.Label)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "datasets.yaml")
	require.NoError(t, os.WriteFile(path, defaultConfig, 0o644))

	r, err := LoadFile(path)
	require.NoError(t, err)
	assert.NotEmpty(t, r.List())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestTokenEnvKey(t *testing.T) {
	ds := Dataset{ID: "san-francisco"}
	if got := ds.TokenEnvKey(); got != "CRIMEDASH_TOKEN_SAN_FRANCISCO" {
		t.Errorf("TokenEnvKey() = %q, want CRIMEDASH_TOKEN_SAN_FRANCISCO", got)
	}
}
