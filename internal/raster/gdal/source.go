// Package gdal opens GRIB2 files through GDAL for the raster scanner.
package gdal

import (
	"context"
	"fmt"
	"sync"

	"github.com/airbusgeo/godal"

	"github.com/abschwenker/wps/internal/raster"
)

var registerOnce sync.Once

// Source opens single-band rasters with godal.
type Source struct{}

// NewSource registers the GDAL drivers and returns a Source.
func NewSource() *Source {
	registerOnce.Do(godal.RegisterAll)
	return &Source{}
}

// Open opens path and returns its first band. The dataset handle is closed
// again if the file has no bands or no geotransform.
func (s *Source) Open(_ context.Context, path string) (raster.Dataset, error) {
	ds, err := godal.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	bands := ds.Bands()
	if len(bands) == 0 {
		_ = ds.Close()
		return nil, fmt.Errorf("%s has no raster bands", path)
	}
	gt, err := ds.GeoTransform()
	if err != nil {
		_ = ds.Close()
		return nil, fmt.Errorf("reading geotransform of %s: %w", path, err)
	}
	st := ds.Structure()
	return &dataset{
		ds:     ds,
		band:   bands[0],
		width:  st.SizeX,
		height: st.SizeY,
		gt:     raster.GeoTransform(gt),
		proj:   ds.Projection(),
	}, nil
}

type dataset struct {
	ds     *godal.Dataset
	band   godal.Band
	width  int
	height int
	gt     raster.GeoTransform
	proj   string
}

func (d *dataset) Width() int                        { return d.width }
func (d *dataset) Height() int                       { return d.height }
func (d *dataset) Projection() string                { return d.proj }
func (d *dataset) GeoTransform() raster.GeoTransform { return d.gt }

func (d *dataset) ReadRow(y int, dst []float64) error {
	if len(dst) < d.width {
		return fmt.Errorf("row buffer too small: %d < %d", len(dst), d.width)
	}
	return d.band.Read(0, y, dst[:d.width], d.width, 1)
}

func (d *dataset) Close() error {
	if d.ds == nil {
		return nil
	}
	err := d.ds.Close()
	d.ds = nil
	return err
}
