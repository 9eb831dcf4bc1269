package gdal

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/airbusgeo/godal"

	"github.com/abschwenker/wps/internal/vectorize"
)

// epsgNAD83 is the geographic CRS of all stored geometry.
const epsgNAD83 = 4269

// Projector builds coordinate transforms with GDAL's OSR. It accepts every
// definition GDAL does, including the polar-stereographic WKT written by the
// GRIB2 driver.
type Projector struct{}

// NewProjector registers the GDAL drivers and returns a Projector.
func NewProjector() *Projector {
	registerOnce.Do(godal.RegisterAll)
	return &Projector{}
}

// ToNAD83 returns a transform from source (WKT, proj4 or an authority code)
// to NAD83 in longitude/latitude order. The caller must Close it.
func (p *Projector) ToNAD83(source string) (*vectorize.Reprojector, error) {
	if source == "" {
		return nil, errors.New("empty source projection")
	}
	src, err := godal.NewSpatialRef(source)
	if err != nil {
		return nil, fmt.Errorf("parsing source projection: %w", err)
	}
	dst, err := godal.NewSpatialRefFromEPSG(epsgNAD83)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("loading EPSG:%d: %w", epsgNAD83, err)
	}
	trn, err := godal.NewTransform(src, dst)
	if err != nil {
		dst.Close()
		src.Close()
		return nil, fmt.Errorf("building transform: %w", err)
	}

	// OSR transforms are not safe for concurrent use.
	var mu sync.Mutex
	xs, ys := make([]float64, 1), make([]float64, 1)
	point := func(x, y float64) (float64, float64, error) {
		mu.Lock()
		defer mu.Unlock()
		xs[0], ys[0] = x, y
		if err := trn.TransformEx(xs, ys, nil, nil); err != nil {
			return 0, 0, fmt.Errorf("transforming (%g, %g): %w", x, y, err)
		}
		if !finite(xs[0]) || !finite(ys[0]) {
			return 0, 0, fmt.Errorf("transforming (%g, %g): result out of range", x, y)
		}
		return xs[0], ys[0], nil
	}
	release := func() {
		mu.Lock()
		defer mu.Unlock()
		trn.Close()
		dst.Close()
		src.Close()
	}
	return vectorize.FromTransform(point, release), nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
