package era5

import (
	"github.com/lox/weatherweave/internal/gribdec"
	"github.com/lox/weatherweave/internal/gribproc"
	"github.com/lox/weatherweave/internal/nwp"
)

// CoordinateAllowList is the reanalysis coordinate contract. ERA5
// single-levels data is deterministic: an ensemble member coordinate
// showing up means the upstream format changed.
var CoordinateAllowList = []string{
	nwp.CoordTime, nwp.CoordStep,
	nwp.CoordLatitude, nwp.CoordLongitude, nwp.CoordCountry,
}

var paramNames = map[gribdec.ParamID]string{
	{Discipline: 0, Category: 0, Number: 0, Surface: 103}: "temperature_2m",
	{Discipline: 0, Category: 1, Number: 8, Surface: 1}:   "total_precipitation",
	{Discipline: 0, Category: 2, Number: 2, Surface: 103}: "wind_u_10m",
	{Discipline: 0, Category: 2, Number: 3, Surface: 103}: "wind_v_10m",
}

func NewProcessor() *gribproc.Processor {
	return gribproc.New(gribproc.Config{
		Source:     SourceName,
		ParamNames: paramNames,
		Conversions: map[string]func(float64) float64{
			"temperature_2m":      gribproc.KelvinToCelsius,
			"total_precipitation": gribproc.MetresToMillimetres,
		},
		AllowList: CoordinateAllowList,
	}, gribdec.GRIB2{})
}
