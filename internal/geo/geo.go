// Package geo provides the spatial predicates used to subset and tag
// processed records: bounding boxes and country-polygon filters.
package geo

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// BoundingBox is a lon/lat box in the ECMWF N/W/S/E convention.
type BoundingBox struct {
	North float64
	West  float64
	South float64
	East  float64
}

var bboxPattern = regexp.MustCompile(`[NWSE]:\s*(-?[\d.]+)`)

// ParseBoundingBox parses the ECMWF string form, e.g.
// "N: 73.5 W: -27 S: 33 E: 45".
func ParseBoundingBox(s string) (BoundingBox, error) {
	matches := bboxPattern.FindAllStringSubmatch(s, -1)
	if len(matches) != 4 {
		return BoundingBox{}, fmt.Errorf("parse bounding box %q: want 4 bounds, got %d", s, len(matches))
	}
	vals := make([]float64, 4)
	for i, m := range matches {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return BoundingBox{}, fmt.Errorf("parse bounding box %q: %w", s, err)
		}
		vals[i] = v
	}
	return BoundingBox{North: vals[0], West: vals[1], South: vals[2], East: vals[3]}, nil
}

// Contains reports whether the point is inside the box.
func (b BoundingBox) Contains(lon, lat float64) bool {
	return lon >= b.West && lon <= b.East && lat >= b.South && lat <= b.North
}

// Bound converts to an orb bound for clipping.
func (b BoundingBox) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{b.West, b.South}, Max: orb.Point{b.East, b.North}}
}

// Country is one admin-0 polygon with its ISO3 code.
type Country struct {
	Name     string
	ISO3     string
	Geometry orb.Geometry
}

func (c Country) contains(p orb.Point) bool {
	switch g := c.Geometry.(type) {
	case orb.Polygon:
		return planar.PolygonContains(g, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(g, p)
	default:
		return false
	}
}

// Filter is a stateless spatial predicate: either a plain bounding box,
// or a set of country polygons (optionally clipped to a box) that both
// filters and tags points with their ISO3 code.
type Filter struct {
	bbox      BoundingBox
	countries []Country
}

// NewBoundingBoxFilter builds a box-only filter.
func NewBoundingBoxFilter(b BoundingBox) *Filter {
	return &Filter{bbox: b}
}

// NewCountryFilter builds a polygon filter over the given countries.
// The bounding box is derived from the polygons.
func NewCountryFilter(countries []Country) *Filter {
	bound := orb.Bound{}
	for i, c := range countries {
		if i == 0 {
			bound = c.Geometry.Bound()
			continue
		}
		bound = bound.Union(c.Geometry.Bound())
	}
	return &Filter{
		bbox: BoundingBox{
			North: bound.Max[1],
			West:  bound.Min[0],
			South: bound.Min[1],
			East:  bound.Max[0],
		},
		countries: countries,
	}
}

// RestrictISO3 returns a filter limited to the listed country codes.
func (f *Filter) RestrictISO3(iso3s []string) *Filter {
	want := make(map[string]bool, len(iso3s))
	for _, code := range iso3s {
		want[code] = true
	}
	var kept []Country
	for _, c := range f.countries {
		if want[c.ISO3] {
			kept = append(kept, c)
		}
	}
	return NewCountryFilter(kept)
}

// Bounds returns the filter's bounding box.
func (f *Filter) Bounds() BoundingBox {
	return f.bbox
}

// Tags reports whether the filter assigns country codes to points.
func (f *Filter) Tags() bool {
	return len(f.countries) > 0
}

// Contains reports whether the point passes the filter.
func (f *Filter) Contains(lon, lat float64) bool {
	if !f.bbox.Contains(lon, lat) {
		return false
	}
	if len(f.countries) == 0 {
		return true
	}
	_, ok := f.Locate(lon, lat)
	return ok
}

// Locate returns the ISO3 code of the country containing the point.
func (f *Filter) Locate(lon, lat float64) (string, bool) {
	p := orb.Point{lon, lat}
	for _, c := range f.countries {
		if c.contains(p) {
			return c.ISO3, true
		}
	}
	return "", false
}
