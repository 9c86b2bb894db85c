package geo

import (
	"fmt"
	"os"

	"github.com/vmrc/geoportal/internal/core"
)

// BaseRegionID is the registry id of the project-wide AOI installed at
// startup.
const BaseRegionID = "base-aoi"

// LoadBaseAOI reads the configured base AOI GeoJSON file and returns its
// normalized geometry and bounds, ready for registration as the locked
// base region.
func LoadBaseAOI(path string) ([]byte, core.Bounds, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, core.Bounds{}, fmt.Errorf("reading base AOI %s: %w", path, err)
	}
	geom, bounds, err := Normalize(raw)
	if err != nil {
		return nil, core.Bounds{}, fmt.Errorf("parsing base AOI %s: %w", path, err)
	}
	return geom, bounds, nil
}
