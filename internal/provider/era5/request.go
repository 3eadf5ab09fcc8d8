// Package era5 implements the Copernicus CDS ERA5 reanalysis source:
// historical best-estimate data requested in monthly batches.
package era5

import (
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lox/weatherweave/internal/geo"
	"github.com/lox/weatherweave/internal/nwp"
)

const (
	SourceName = "era5"

	// DatasetName is the CDS single-levels reanalysis dataset.
	DatasetName = "reanalysis-era5-single-levels"

	// DefaultAvailabilityDelay is how far behind real time the
	// preliminary reanalysis lags. Configurable; the upstream lag
	// drifts.
	DefaultAvailabilityDelay = 6 * 24 * time.Hour
)

// DefaultParameters are the CDS long variable names fetched by default.
var DefaultParameters = []string{
	"2m_temperature",
	"total_precipitation",
	"10m_u_component_of_wind",
	"10m_v_component_of_wind",
}

// Request identifies one calendar month of reanalysis over an area.
type Request struct {
	year   int
	month  time.Month
	params []string
	area   geo.BoundingBox
}

func (r Request) Source() string { return SourceName }

// RunTime is the start of the requested month; reanalysis has no
// forecast runs of its own.
func (r Request) RunTime() time.Time {
	return time.Date(r.year, r.month, 1, 0, 0, 0, 0, time.UTC)
}

// Steps is a single zero horizon: reanalysis is analysis data.
func (r Request) Steps() []int { return []int{0} }

func (r Request) Parameters() []string { return r.params }

// Key hashes the canonical CDS request body, so any change to the
// requested variables, days or area addresses a different record.
func (r Request) Key() string {
	body, _ := json.Marshal(r.CDSRequest())
	return fmt.Sprintf("%s/%x", DatasetName, sha1.Sum(body))
}

func (r Request) daysInMonth() []string {
	n := time.Date(r.year, r.month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	days := make([]string, n)
	for i := range days {
		days[i] = fmt.Sprintf("%02d", i+1)
	}
	return days
}

// CDSRequest is the wire body submitted to the CDS retrieve API.
func (r Request) CDSRequest() map[string]interface{} {
	times := make([]string, 24)
	for i := range times {
		times[i] = fmt.Sprintf("%02d:00", i)
	}
	return map[string]interface{}{
		"product_type": "reanalysis",
		"variable":     r.params,
		"year":         []string{fmt.Sprintf("%d", r.year)},
		"month":        []string{fmt.Sprintf("%02d", int(r.month))},
		"day":          r.daysInMonth(),
		"time":         times,
		"area":         []float64{r.area.North, r.area.West, r.area.South, r.area.East},
		"format":       "grib",
	}
}

// Builder enumerates one request per complete calendar month in the
// window. Months still inside the reanalysis availability lag produce
// nothing; there is no closest-run substitution for historical data.
type Builder struct {
	Area              geo.BoundingBox
	Parameters        []string
	AvailabilityDelay time.Duration
	Now               func() time.Time
}

func NewBuilder(area geo.BoundingBox) *Builder {
	return &Builder{
		Area:              area,
		Parameters:        DefaultParameters,
		AvailabilityDelay: DefaultAvailabilityDelay,
		Now:               time.Now,
	}
}

func (b *Builder) BuildRequests(start, end time.Time) []nwp.Request {
	if !start.Before(end) {
		return nil
	}
	now := b.Now().UTC()

	var requests []nwp.Request
	month := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
	if month.Before(start) {
		month = month.AddDate(0, 1, 0)
	}
	for {
		next := month.AddDate(0, 1, 0)
		if next.After(end) {
			break
		}
		if next.Add(b.AvailabilityDelay).After(now) {
			break
		}
		requests = append(requests, Request{
			year:   month.Year(),
			month:  month.Month(),
			params: b.Parameters,
			area:   b.Area,
		})
		month = next
	}
	return requests
}
