// Package gfs implements the NOAA Global Forecast System source,
// served as per-step GRIB2 files over anonymous FTP.
package gfs

import (
	"fmt"
	"sort"
	"time"

	"github.com/lox/weatherweave/internal/nwp"
)

const (
	SourceName = "gfs"

	// DefaultPublicationDelay is how long after the reference time a
	// GFS run's files are assumed complete on the FTP mirror.
	DefaultPublicationDelay = 5 * time.Hour
)

// DefaultParameters are the canonical names extracted from each file.
var DefaultParameters = []string{
	"temperature_2m", "total_precipitation", "wind_u_10m", "wind_v_10m",
}

// DefaultRunHours are the GFS cycle boundaries (UTC).
var DefaultRunHours = []int{0, 6, 12, 18}

// DefaultSteps covers 120 forecast hours at 3-hourly resolution.
func DefaultSteps() []int {
	steps := make([]int, 41)
	for i := range steps {
		steps[i] = 3 * i
	}
	return steps
}

// Request identifies a single forecast step of a single GFS cycle.
type Request struct {
	runTime time.Time
	step    int
	params  []string
}

func (r Request) Source() string       { return SourceName }
func (r Request) RunTime() time.Time   { return r.runTime }
func (r Request) Steps() []int         { return []int{r.step} }
func (r Request) Parameters() []string { return r.params }

// Key is e.g. "20240101_00z_f003".
func (r Request) Key() string {
	return fmt.Sprintf("%s_%02dz_f%03d", r.runTime.Format("20060102"), r.runTime.Hour(), r.step)
}

// remoteDir is the cycle's directory on the FTP mirror.
func (r Request) remoteDir() string {
	return fmt.Sprintf("/pub/data/nccf/com/gfs/prod/gfs.%s/%02d/atmos", r.runTime.Format("20060102"), r.runTime.Hour())
}

// remoteName is the per-step pressure-grid file name.
func (r Request) remoteName() string {
	return fmt.Sprintf("gfs.t%02dz.pgrb2.0p25.f%03d", r.runTime.Hour(), r.step)
}

// Builder enumerates one request per (cycle, step) in the window,
// substituting the closest published cycle for ones still inside the
// publication lag.
type Builder struct {
	RunHours         []int
	ForecastSteps    []int
	Parameters       []string
	PublicationDelay time.Duration
	Now              func() time.Time
}

func NewBuilder() *Builder {
	return &Builder{
		RunHours:         DefaultRunHours,
		ForecastSteps:    DefaultSteps(),
		Parameters:       DefaultParameters,
		PublicationDelay: DefaultPublicationDelay,
		Now:              time.Now,
	}
}

// BuildRequests orders ascending by run time, ties broken by step.
func (b *Builder) BuildRequests(start, end time.Time) []nwp.Request {
	if !start.Before(end) {
		return nil
	}

	hours := make(map[int]bool, len(b.RunHours))
	for _, h := range b.RunHours {
		hours[h] = true
	}

	var (
		requests []nwp.Request
		seen     = make(map[string]bool)
	)
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	for ; day.Before(end); day = day.AddDate(0, 0, 1) {
		for _, h := range b.RunHours {
			run := day.Add(time.Duration(h) * time.Hour)
			if run.Before(start) || !run.Before(end) {
				continue
			}
			run = b.closestPublished(run, hours)
			for _, step := range b.ForecastSteps {
				req := Request{runTime: run, step: step, params: b.Parameters}
				if seen[req.Key()] {
					continue
				}
				seen[req.Key()] = true
				requests = append(requests, req)
			}
		}
	}

	sort.SliceStable(requests, func(i, j int) bool {
		ri, rj := requests[i].RunTime(), requests[j].RunTime()
		if !ri.Equal(rj) {
			return ri.Before(rj)
		}
		return requests[i].Steps()[0] < requests[j].Steps()[0]
	})
	return requests
}

func (b *Builder) closestPublished(run time.Time, hours map[int]bool) time.Time {
	now := b.Now().UTC()
	for now.Before(run.Add(b.PublicationDelay)) {
		run = run.Add(-time.Hour)
		for !hours[run.Hour()] {
			run = run.Add(-time.Hour)
		}
	}
	return run
}
