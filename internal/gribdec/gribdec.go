// Package gribdec wraps GRIB2 decoding behind a small interface so
// processors can be tested without real meteorological grid files.
package gribdec

import (
	"fmt"
	"os"
	"time"

	"github.com/nilsmagnus/grib/griblib"
)

// ParamID identifies a GRIB2 field by discipline, parameter category,
// parameter number and first-surface type (e.g. 103 = height above
// ground). The surface type disambiguates 2m temperature from the same
// parameter on pressure levels.
type ParamID struct {
	Discipline uint8
	Category   uint8
	Number     uint8
	Surface    uint8
}

// Field is one decoded horizontal grid for a single parameter at a
// single step.
type Field struct {
	Param   ParamID
	RefTime time.Time
	Step    int // hours
	Number  int // ensemble member, 0 for deterministic fields
	// Coords lists extra dimension coordinates the field carries beyond
	// the canonical (time, step, latitude, longitude) grid.
	Coords []string
	Lats   []float64
	Lons   []float64
	// Values is row-major over latitudes then longitudes.
	Values []float64
}

// Decoder turns one raw artifact into decoded fields.
type Decoder interface {
	Decode(path string) ([]Field, error)
}

// GRIB2 decodes GRIB edition 2 files, possibly concatenations of
// multiple messages.
type GRIB2 struct{}

func (GRIB2) Decode(path string) ([]Field, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open grib file: %w", err)
	}
	defer f.Close()

	messages, err := griblib.ReadMessages(f)
	if err != nil {
		return nil, fmt.Errorf("read grib messages from %s: %w", path, err)
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("no grib messages in %s", path)
	}

	fields := make([]Field, 0, len(messages))
	for i, msg := range messages {
		field, err := messageToField(msg)
		if err != nil {
			return nil, fmt.Errorf("grib message %d in %s: %w", i, path, err)
		}
		fields = append(fields, field)
	}
	return fields, nil
}

func messageToField(msg *griblib.Message) (Field, error) {
	grid, ok := msg.Section3.Definition.(*griblib.Grid0)
	if !ok {
		return Field{}, fmt.Errorf("unsupported grid template %d", msg.Section3.TemplateNumber)
	}

	product := msg.Section4.ProductDefinitionTemplate
	refTime := msg.Section1.ReferenceTime
	ref := time.Date(
		int(refTime.Year), time.Month(refTime.Month), int(refTime.Day),
		int(refTime.Hour), int(refTime.Minute), int(refTime.Second),
		0, time.UTC,
	)

	step, err := stepHours(product.TimeUnitIndicator, product.ForecastTime)
	if err != nil {
		return Field{}, err
	}

	ni, nj := int(grid.Ni), int(grid.Nj)
	if ni <= 0 || nj <= 0 {
		return Field{}, fmt.Errorf("degenerate grid %dx%d", ni, nj)
	}
	if len(msg.Section7.Data) != ni*nj {
		return Field{}, fmt.Errorf("data length %d does not match grid %dx%d", len(msg.Section7.Data), ni, nj)
	}

	return Field{
		Param: ParamID{
			Discipline: uint8(msg.Section0.Discipline),
			Category:   uint8(product.ParameterCategory),
			Number:     uint8(product.ParameterNumber),
			Surface:    uint8(product.FirstSurface.Type),
		},
		RefTime: ref,
		Step:    step,
		Lats:    axis(float64(grid.La1)/1e6, float64(grid.La2)/1e6, nj),
		Lons:    lonAxis(float64(grid.Lo1)/1e6, float64(grid.Lo2)/1e6, ni),
		Values:  msg.Section7.Data,
	}, nil
}

func stepHours(unit uint8, forecastTime uint32) (int, error) {
	switch unit {
	case 0: // minutes
		return int(forecastTime) / 60, nil
	case 1: // hours
		return int(forecastTime), nil
	case 10: // 3-hour blocks
		return int(forecastTime) * 3, nil
	case 11: // 6-hour blocks
		return int(forecastTime) * 6, nil
	default:
		return 0, fmt.Errorf("unsupported time range unit %d", unit)
	}
}

func axis(first, last float64, n int) []float64 {
	vals := make([]float64, n)
	if n == 1 {
		vals[0] = first
		return vals
	}
	delta := (last - first) / float64(n-1)
	for i := range vals {
		vals[i] = first + float64(i)*delta
	}
	return vals
}

// lonAxis generates the longitude axis, normalizing the 0..360 GRIB
// convention to -180..180.
func lonAxis(first, last float64, n int) []float64 {
	if last < first {
		last += 360
	}
	vals := axis(first, last, n)
	for i, v := range vals {
		if v > 180 {
			vals[i] = v - 360
		}
	}
	return vals
}
