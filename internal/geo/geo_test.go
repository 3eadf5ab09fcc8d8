package geo

import (
	"testing"

	"github.com/paulmach/orb"
)

func TestParseBoundingBox(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    BoundingBox
		wantErr bool
	}{
		{
			name:  "europe",
			input: "N: 73.5 W: -27 S: 33 E: 45",
			want:  BoundingBox{North: 73.5, West: -27, South: 33, East: 45},
		},
		{
			name:  "no spaces after colon",
			input: "N:10 W:-5 S:0 E:5",
			want:  BoundingBox{North: 10, West: -5, South: 0, East: 5},
		},
		{
			name:    "missing bound",
			input:   "N: 10 W: -5 S: 0",
			wantErr: true,
		},
		{
			name:    "garbage",
			input:   "not a box",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseBoundingBox(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseBoundingBox(%q) = %+v, want error", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseBoundingBox(%q): %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseBoundingBox(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestBoundingBoxContains(t *testing.T) {
	box := BoundingBox{North: 10, West: -5, South: 0, East: 5}

	tests := []struct {
		name     string
		lon, lat float64
		want     bool
	}{
		{"inside", 0, 5, true},
		{"on west edge", -5, 5, true},
		{"west of box", -6, 5, false},
		{"north of box", 0, 11, false},
		{"south of box", 0, -1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := box.Contains(tt.lon, tt.lat); got != tt.want {
				t.Errorf("Contains(%v, %v) = %v, want %v", tt.lon, tt.lat, got, tt.want)
			}
		})
	}
}

// square returns a unit polygon country covering [x, x+size] in both axes.
func square(iso3 string, x, y, size float64) Country {
	return Country{
		Name: iso3,
		ISO3: iso3,
		Geometry: orb.Polygon{orb.Ring{
			{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}, {x, y},
		}},
	}
}

func TestCountryFilterLocate(t *testing.T) {
	filter := NewCountryFilter([]Country{
		square("AAA", 0, 0, 10),
		square("BBB", 20, 0, 10),
	})

	if !filter.Tags() {
		t.Fatal("Tags() = false, want true")
	}

	iso3, ok := filter.Locate(5, 5)
	if !ok || iso3 != "AAA" {
		t.Errorf("Locate(5, 5) = %q, %v, want AAA, true", iso3, ok)
	}

	iso3, ok = filter.Locate(25, 5)
	if !ok || iso3 != "BBB" {
		t.Errorf("Locate(25, 5) = %q, %v, want BBB, true", iso3, ok)
	}

	if _, ok := filter.Locate(15, 5); ok {
		t.Error("Locate(15, 5) matched, want no match")
	}

	if filter.Contains(15, 5) {
		t.Error("Contains(15, 5) = true, want false")
	}
	if !filter.Contains(5, 5) {
		t.Error("Contains(5, 5) = false, want true")
	}
}

func TestCountryFilterBounds(t *testing.T) {
	filter := NewCountryFilter([]Country{
		square("AAA", 0, 0, 10),
		square("BBB", 20, 0, 10),
	})

	want := BoundingBox{North: 10, West: 0, South: 0, East: 30}
	if got := filter.Bounds(); got != want {
		t.Errorf("Bounds() = %+v, want %+v", got, want)
	}
}

func TestRestrictISO3(t *testing.T) {
	filter := NewCountryFilter([]Country{
		square("AAA", 0, 0, 10),
		square("BBB", 20, 0, 10),
	})

	restricted := filter.RestrictISO3([]string{"BBB"})
	if _, ok := restricted.Locate(5, 5); ok {
		t.Error("restricted filter matched AAA point")
	}
	if iso3, ok := restricted.Locate(25, 5); !ok || iso3 != "BBB" {
		t.Errorf("Locate(25, 5) = %q, %v, want BBB, true", iso3, ok)
	}
}

func TestParseCountries(t *testing.T) {
	data := []byte(`{
		"type": "FeatureCollection",
		"features": [
			{
				"type": "Feature",
				"properties": {"NAME": "Testland", "ADM0_A3": "TST"},
				"geometry": {"type": "Polygon", "coordinates": [[[0,0],[1,0],[1,1],[0,1],[0,0]]]}
			},
			{
				"type": "Feature",
				"properties": {"NAME": "NoCode"},
				"geometry": {"type": "Polygon", "coordinates": [[[2,2],[3,2],[3,3],[2,3],[2,2]]]}
			}
		]
	}`)

	countries, err := ParseCountries(data)
	if err != nil {
		t.Fatalf("ParseCountries: %v", err)
	}
	if len(countries) != 1 {
		t.Fatalf("len(countries) = %d, want 1 (feature without ISO3 dropped)", len(countries))
	}
	if countries[0].ISO3 != "TST" || countries[0].Name != "Testland" {
		t.Errorf("countries[0] = %+v, want TST/Testland", countries[0])
	}
}
