// Package ecmwf implements the ECMWF open-data source: real-time IFS
// forecast runs published with a few hours' latency.
package ecmwf

import (
	"fmt"
	"sort"
	"time"

	"github.com/lox/weatherweave/internal/nwp"
)

const (
	SourceName = "ecmwf"

	StreamOper = "oper" // high-res deterministic
	StreamEnfo = "enfo" // ensemble

	TypeForecast  = "fc"
	TypePerturbed = "pf"

	// DefaultPublicationDelay is how long after a run's reference time
	// the open-data feed is assumed published. Upstream publication
	// behaviour drifts, so this is configuration, not a constant fact.
	DefaultPublicationDelay = 9 * time.Hour
)

// DefaultParameters are the open-data catalogue short names fetched by
// default.
var DefaultParameters = []string{"2t", "tp", "10u", "10v"}

// DefaultRunHours are the IFS run boundaries (UTC).
var DefaultRunHours = []int{0, 6, 12, 18}

// DefaultSteps covers 90 forecast hours at 3-hourly resolution.
func DefaultSteps() []int {
	steps := make([]int, 31)
	for i := range steps {
		steps[i] = 3 * i
	}
	return steps
}

// Request identifies one run slice of the open-data feed.
type Request struct {
	runTime time.Time
	stream  string
	reqType string
	params  []string
	steps   []int
}

func (r Request) Source() string       { return SourceName }
func (r Request) RunTime() time.Time   { return r.runTime }
func (r Request) Steps() []int         { return r.steps }
func (r Request) Parameters() []string { return r.params }

// Key is stream-scoped and mirrors the remote path layout, e.g.
// "oper/20240101_00z_0-90_fc".
func (r Request) Key() string {
	return fmt.Sprintf("%s/%s_%02dz_%d-%d_%s",
		r.stream,
		r.runTime.Format("20060102"),
		r.runTime.Hour(),
		r.steps[0],
		r.steps[len(r.steps)-1],
		r.reqType,
	)
}

// Builder enumerates open-data requests over a window, substituting the
// nearest published prior run when the exact run is not yet available.
type Builder struct {
	RunHours         []int
	Parameters       []string
	ForecastSteps    []int
	Ensemble         bool
	PublicationDelay time.Duration
	Now              func() time.Time
}

func NewBuilder() *Builder {
	return &Builder{
		RunHours:         DefaultRunHours,
		Parameters:       DefaultParameters,
		ForecastSteps:    DefaultSteps(),
		PublicationDelay: DefaultPublicationDelay,
		Now:              time.Now,
	}
}

func (b *Builder) streams() [][2]string {
	pairs := [][2]string{{StreamOper, TypeForecast}}
	if b.Ensemble {
		pairs = append(pairs, [2]string{StreamEnfo, TypePerturbed})
	}
	return pairs
}

// BuildRequests returns one request per published run boundary in
// [start, end) per stream, ascending by run time. Boundaries whose data
// is not yet published are substituted with the closest prior run;
// substitutions collapsing onto the same run are deduplicated.
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
			for _, pair := range b.streams() {
				req := Request{
					runTime: run,
					stream:  pair[0],
					reqType: pair[1],
					params:  b.Parameters,
					steps:   b.ForecastSteps,
				}
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

// closestPublished walks back through run boundaries until one old
// enough to be published is found.
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
