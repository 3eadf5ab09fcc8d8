package nwp

import (
	"fmt"
	"sort"
	"time"
)

// Canonical coordinate names. Every processed dataset is keyed by a
// subset of these; anything else is a schema violation.
const (
	CoordTime      = "time"
	CoordStep      = "step"
	CoordNumber    = "number"
	CoordLatitude  = "latitude"
	CoordLongitude = "longitude"
	CoordCountry   = "country_iso3"
)

// Record is one grid point of a processed dataset.
type Record struct {
	Time        time.Time // run reference time
	Step        int       // forecast horizon, hours
	Number      int       // ensemble member, 0 for deterministic data
	Latitude    float64
	Longitude   float64
	CountryISO3 string // set when a region filter tagged the point
	Values      map[string]float64
}

// ValidTime is the timestamp the record's values are valid for.
func (r Record) ValidTime() time.Time {
	return r.Time.Add(time.Duration(r.Step) * time.Hour)
}

// Dataset is the normalized tabular form of one processed artifact.
type Dataset struct {
	Source  string
	Key     string
	Coords  []string
	Records []Record
}

// Parameters returns the sorted union of value names across records.
func (d *Dataset) Parameters() []string {
	seen := make(map[string]bool)
	for _, r := range d.Records {
		for name := range r.Values {
			seen[name] = true
		}
	}
	params := make([]string, 0, len(seen))
	for name := range seen {
		params = append(params, name)
	}
	sort.Strings(params)
	return params
}

// CheckCoords verifies every coordinate name is within the allow-list.
func (d *Dataset) CheckCoords(allowList []string) error {
	allowed := make(map[string]bool, len(allowList))
	for _, name := range allowList {
		allowed[name] = true
	}
	for _, name := range d.Coords {
		if !allowed[name] {
			return fmt.Errorf("%w: coordinate %q not in allow-list %v", ErrSchemaViolation, name, allowList)
		}
	}
	return nil
}
