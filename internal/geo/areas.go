package geo

import "fmt"

// EuropeBoundingBox is the ECMWF definition of the European area.
const EuropeBoundingBox = "N: 73.5 W: -27 S: 33 E: 45"

// ENTSOEISO3 lists the ISO3 codes of ENTSO-E member countries.
var ENTSOEISO3 = []string{
	"NOR", "FRA", "SWE", "POL", "AUT", "HUN", "ROU", "LTU", "LVA", "EST",
	"DEU", "BGR", "GRC", "ALB", "HRV", "CHE", "LUX", "BEL", "NLD", "PRT",
	"ESP", "IRL", "ITA", "DNK", "GBR", "ISL", "SVN", "FIN", "SVK", "CZE",
	"CYP", "BIH", "MKD", "SRB", "MNE",
}

// LoadArea builds the filter for a named geographic area.
func LoadArea(name, dataDir string) (*Filter, error) {
	switch name {
	case "entsoe":
		countries, err := LoadWorldCountries(dataDir)
		if err != nil {
			return nil, err
		}
		bbox, err := ParseBoundingBox(EuropeBoundingBox)
		if err != nil {
			return nil, err
		}
		var inBox []Country
		for _, c := range countries {
			if c.Geometry.Bound().Intersects(bbox.Bound()) {
				inBox = append(inBox, c)
			}
		}
		return NewCountryFilter(inBox).RestrictISO3(ENTSOEISO3), nil
	default:
		return nil, fmt.Errorf("unknown area %q", name)
	}
}
