package datasets

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

//go:embed datasets.yaml
var defaultConfig []byte

type fileConfig struct {
	Datasets []datasetFile `yaml:"datasets"`
}

type datasetFile struct {
	ID             string   `yaml:"id"`
	Label          string   `yaml:"label"`
	City           string   `yaml:"city"`
	DatasetID      string   `yaml:"dataset_id"`
	Name           string   `yaml:"name"`
	Endpoint       string   `yaml:"endpoint"`
	Description    string   `yaml:"description"`
	DateField      string   `yaml:"date_field"`
	DateFieldCast  string   `yaml:"date_field_cast"`
	CompareStart   string   `yaml:"compare_start"`
	CompareEnd     string   `yaml:"compare_end"`
	CategoryFields []string `yaml:"category_fields"`
	LocationFields []string `yaml:"location_fields"`
	AddressFields  []string `yaml:"address_fields"`
	Geo            *geoFile `yaml:"geo"`
}

type geoFile struct {
	LatField   string          `yaml:"lat_field"`
	LonField   string          `yaml:"lon_field"`
	GeoField   string          `yaml:"geo_field"`
	Choropleth *choroplethFile `yaml:"choropleth"`
}

type choroplethFile struct {
	URL   string `yaml:"url"`
	Key   string `yaml:"key"`
	Label string `yaml:"label"`
	Field string `yaml:"field"`
}

// Registry holds the configured datasets in declaration order
type Registry struct {
	datasets []Dataset
	byID     map[string]int
}

// Default returns the registry compiled into the binary
func Default() (*Registry, error) {
	return Parse(defaultConfig)
}

// LoadFile reads a registry from a YAML file
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read datasets: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML registry document
func Parse(data []byte) (*Registry, error) {
	var cfg fileConfig
	if err := yaml.UnmarshalWithOptions(data, &cfg, yaml.Strict()); err != nil {
		return nil, fmt.Errorf("parse datasets: %w", err)
	}
	if len(cfg.Datasets) == 0 {
		return nil, fmt.Errorf("parse datasets: no datasets defined")
	}

	r := &Registry{byID: make(map[string]int, len(cfg.Datasets))}
	for i, raw := range cfg.Datasets {
		ds, err := raw.toDataset()
		if err != nil {
			return nil, fmt.Errorf("dataset %d (%s): %w", i, raw.ID, err)
		}
		if _, dup := r.byID[ds.ID]; dup {
			return nil, fmt.Errorf("dataset %d: duplicate id %q", i, ds.ID)
		}
		r.byID[ds.ID] = len(r.datasets)
		r.datasets = append(r.datasets, ds)
	}
	return r, nil
}

func (f datasetFile) toDataset() (Dataset, error) {
	if f.ID == "" {
		return Dataset{}, fmt.Errorf("missing id")
	}
	if f.Endpoint == "" {
		return Dataset{}, fmt.Errorf("missing endpoint")
	}
	if f.DateField == "" {
		return Dataset{}, fmt.Errorf("missing date_field")
	}
	if f.CompareStart == "" || f.CompareEnd == "" {
		return Dataset{}, fmt.Errorf("missing compare window")
	}

	geo, err := f.Geo.toGeo()
	if err != nil {
		return Dataset{}, err
	}

	label := f.Label
	if label == "" {
		label = f.City
	}
	if label == "" {
		label = f.ID
	}

	return Dataset{
		ID:             f.ID,
		Label:          label,
		City:           f.City,
		DatasetID:      f.DatasetID,
		Name:           f.Name,
		Endpoint:       f.Endpoint,
		Description:    f.Description,
		DateField:      f.DateField,
		DateFieldCast:  f.DateFieldCast,
		CompareStart:   f.CompareStart,
		CompareEnd:     f.CompareEnd,
		CategoryFields: f.CategoryFields,
		LocationFields: f.LocationFields,
		AddressFields:  f.AddressFields,
		Geo:            geo,
	}, nil
}

func (g *geoFile) toGeo() (Geo, error) {
	if g == nil {
		return NoGeo{}, nil
	}
	hasPoint := g.LatField != "" || g.LonField != "" || g.GeoField != ""
	if g.Choropleth != nil {
		if hasPoint {
			return nil, fmt.Errorf("geo: choropleth cannot be combined with point fields")
		}
		c := g.Choropleth
		if c.URL == "" || c.Key == "" || c.Field == "" {
			return nil, fmt.Errorf("geo: choropleth needs url, key and field")
		}
		label := c.Label
		if label == "" {
			label = c.Key
		}
		return ChoroplethGeo{URL: c.URL, Key: c.Key, Label: label, Field: c.Field}, nil
	}
	if !hasPoint {
		return NoGeo{}, nil
	}
	if (g.LatField == "") != (g.LonField == "") {
		return nil, fmt.Errorf("geo: lat_field and lon_field must be set together")
	}
	return PointGeo{LatField: g.LatField, LonField: g.LonField, GeoField: g.GeoField}, nil
}

// List returns all datasets in declaration order
func (r *Registry) List() []Dataset {
	out := make([]Dataset, len(r.datasets))
	copy(out, r.datasets)
	return out
}

// Get looks up a dataset by id
func (r *Registry) Get(id string) (Dataset, error) {
	i, ok := r.byID[id]
	if !ok {
		return Dataset{}, fmt.Errorf("%w: %s", ErrUnknownDataset, id)
	}
	return r.datasets[i], nil
}

// Options returns the dataset selector entries
func (r *Registry) Options() []Option {
	out := make([]Option, 0, len(r.datasets))
	for _, ds := range r.datasets {
		out = append(out, Option{ID: ds.ID, Label: ds.Label})
	}
	return out
}
