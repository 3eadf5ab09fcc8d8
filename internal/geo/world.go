package geo

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/paulmach/orb/geojson"
)

const (
	worldResolution = "110m"
	worldURLFormat  = "https://raw.githubusercontent.com/nvkelso/natural-earth-vector/master/geojson/ne_%s_admin_0_countries.geojson"
)

// LoadWorldCountries loads the Natural Earth admin-0 boundary dataset,
// downloading it into dataDir on first use.
func LoadWorldCountries(dataDir string) ([]Country, error) {
	path := filepath.Join(dataDir, fmt.Sprintf("ne_%s_admin_0_countries.geojson", worldResolution))
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := downloadWorldCountries(path); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read countries file: %w", err)
	}
	return ParseCountries(data)
}

// ParseCountries decodes an admin-0 GeoJSON feature collection.
func ParseCountries(data []byte) ([]Country, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("unmarshal countries geojson: %w", err)
	}

	var countries []Country
	for _, f := range fc.Features {
		iso3 := f.Properties.MustString("ADM0_A3", "")
		if iso3 == "" {
			iso3 = f.Properties.MustString("ISO_A3", "")
		}
		if iso3 == "" || f.Geometry == nil {
			continue
		}
		countries = append(countries, Country{
			Name:     f.Properties.MustString("NAME", iso3),
			ISO3:     iso3,
			Geometry: f.Geometry,
		})
	}
	return countries, nil
}

func downloadWorldCountries(path string) error {
	url := fmt.Sprintf(worldURLFormat, worldResolution)
	log.Printf("downloading country boundaries from %s", url)

	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("download countries: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download countries: status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	tmp := path + ".partial"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create countries file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write countries file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
