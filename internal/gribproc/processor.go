// Package gribproc implements the shared transform pipeline for GRIB
// sources: decode, normalize names, merge parameters onto a common
// grid, convert units, geo-filter and enforce the canonical schema.
package gribproc

import (
	"fmt"
	"math"
	"sort"

	"github.com/lox/weatherweave/internal/geo"
	"github.com/lox/weatherweave/internal/gribdec"
	"github.com/lox/weatherweave/internal/nwp"
)

// Config fixes a source's canonical naming and schema contract.
type Config struct {
	Source string
	// ParamNames maps GRIB identifiers to canonical parameter names.
	// Fields without a mapping are dropped at pre-processing.
	ParamNames map[gribdec.ParamID]string
	// Conversions post-processes named parameters into canonical units.
	Conversions map[string]func(float64) float64
	// AllowList is the source's coordinate contract.
	AllowList []string
}

type Processor struct {
	cfg Config
	dec gribdec.Decoder
}

func New(cfg Config, dec gribdec.Decoder) *Processor {
	return &Processor{cfg: cfg, dec: dec}
}

// namedField is a decoded field after canonical renaming.
type namedField struct {
	name  string
	field gribdec.Field
}

type gridKey struct {
	ref    int64
	step   int
	number int
	lat    float64
	lon    float64
}

// Transform runs the full pipeline over one raw artifact.
func (p *Processor) Transform(artifact nwp.RawArtifact, req nwp.Request, filter *geo.Filter) (*nwp.Dataset, error) {
	fields, err := p.dec.Decode(artifact.Path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", artifact.Path, err)
	}

	named, coords := p.preProcess(fields)
	records := p.merge(named, filter)
	p.postProcess(records)

	if filter != nil && filter.Tags() {
		coords = append(coords, nwp.CoordCountry)
	}

	ds := &nwp.Dataset{
		Source:  p.cfg.Source,
		Key:     req.Key(),
		Coords:  coords,
		Records: records,
	}
	if err := ds.CheckCoords(p.cfg.AllowList); err != nil {
		return nil, err
	}
	return ds, nil
}

// preProcess renames fields to canonical parameters, drops unmapped
// ones, and collects the coordinate set the artifact carries.
func (p *Processor) preProcess(fields []gribdec.Field) ([]namedField, []string) {
	coordSet := map[string]bool{
		nwp.CoordTime:      true,
		nwp.CoordStep:      true,
		nwp.CoordLatitude:  true,
		nwp.CoordLongitude: true,
	}

	var named []namedField
	for _, f := range fields {
		name, ok := p.cfg.ParamNames[f.Param]
		if !ok {
			continue
		}
		if f.Number > 0 {
			coordSet[nwp.CoordNumber] = true
		}
		for _, c := range f.Coords {
			coordSet[c] = true
		}
		named = append(named, namedField{name: name, field: f})
	}

	coords := make([]string, 0, len(coordSet))
	for c := range coordSet {
		coords = append(coords, c)
	}
	sort.Strings(coords)
	return named, coords
}

// merge combines per-parameter fields into records keyed by the shared
// (time, step, number, latitude, longitude) coordinates, applying the
// geo filter point-wise.
func (p *Processor) merge(fields []namedField, filter *geo.Filter) []nwp.Record {
	var (
		order   []gridKey
		records = make(map[gridKey]*nwp.Record)
	)

	var bounds geo.BoundingBox
	if filter != nil {
		bounds = filter.Bounds()
	}

	for _, nf := range fields {
		f := nf.field
		for li, lat := range f.Lats {
			if filter != nil && (lat < bounds.South || lat > bounds.North) {
				continue
			}
			for gi, lon := range f.Lons {
				if filter != nil && !filter.Contains(lon, lat) {
					continue
				}
				v := f.Values[li*len(f.Lons)+gi]
				if math.IsNaN(v) {
					continue
				}

				key := gridKey{ref: f.RefTime.Unix(), step: f.Step, number: f.Number, lat: lat, lon: lon}
				rec, ok := records[key]
				if !ok {
					rec = &nwp.Record{
						Time:      f.RefTime,
						Step:      f.Step,
						Number:    f.Number,
						Latitude:  lat,
						Longitude: lon,
						Values:    make(map[string]float64),
					}
					if filter != nil && filter.Tags() {
						iso3, _ := filter.Locate(lon, lat)
						rec.CountryISO3 = iso3
					}
					records[key] = rec
					order = append(order, key)
				}
				rec.Values[nf.name] = v
			}
		}
	}

	result := make([]nwp.Record, 0, len(order))
	for _, key := range order {
		result = append(result, *records[key])
	}
	return result
}

// postProcess applies unit conversions in place.
func (p *Processor) postProcess(records []nwp.Record) {
	if len(p.cfg.Conversions) == 0 {
		return
	}
	for i := range records {
		for name, convert := range p.cfg.Conversions {
			if v, ok := records[i].Values[name]; ok {
				records[i].Values[name] = convert(v)
			}
		}
	}
}

// KelvinToCelsius converts temperatures to the canonical unit.
func KelvinToCelsius(v float64) float64 { return v - 273.15 }

// MetresToMillimetres converts precipitation accumulations.
func MetresToMillimetres(v float64) float64 { return v * 1000 }
