// Package raster scans co-registered forecast grids into a C-Haines index
// grid, restricted to the region of interest.
package raster

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrDimensionMismatch is returned when bands, or a band and a bounds
	// cache, disagree on width or height.
	ErrDimensionMismatch = errors.New("raster dimensions do not match")

	// ErrOutOfExtent is returned for a cell outside the grid.
	ErrOutOfExtent = errors.New("cell outside raster extent")
)

// GeoTransform is a GDAL affine geotransform:
//
//	Xgeo = gt[0] + x*gt[1] + y*gt[2]
//	Ygeo = gt[3] + x*gt[4] + y*gt[5]
type GeoTransform [6]float64

// Apply maps a pixel/line position to source CRS coordinates.
func (gt GeoTransform) Apply(x, y float64) (float64, float64) {
	return gt[0] + x*gt[1] + y*gt[2], gt[3] + x*gt[4] + y*gt[5]
}

// PointTransform converts a coordinate from one CRS to another. It matches
// the signature of github.com/ctessum/geom/proj.Transformer.
type PointTransform func(x, y float64) (float64, float64, error)

// Dataset is one opened single-band raster. Implementations need not be safe
// for concurrent use; Close releases the native handle and must be called on
// every exit path.
type Dataset interface {
	Width() int
	Height() int
	// ReadRow fills dst (len >= Width) with row y.
	ReadRow(y int, dst []float64) error
	// Projection returns the source CRS as WKT or proj4.
	Projection() string
	GeoTransform() GeoTransform
	Close() error
}

// Source opens raster files.
type Source interface {
	Open(ctx context.Context, path string) (Dataset, error)
}

// Bands are the three layers the index needs, opened from one prediction
// hour's files.
type Bands struct {
	T700 Dataset
	T850 Dataset
	DEPR Dataset
}

// Check verifies that all three bands share the same dimensions.
func (b Bands) Check() error {
	w, h := b.T700.Width(), b.T700.Height()
	for _, d := range []Dataset{b.T850, b.DEPR} {
		if d.Width() != w || d.Height() != h {
			return fmt.Errorf("%w: %dx%d vs %dx%d", ErrDimensionMismatch, w, h, d.Width(), d.Height())
		}
	}
	return nil
}

// Close closes every non-nil band and returns the first error.
func (b Bands) Close() error {
	var first error
	for _, d := range []Dataset{b.T700, b.T850, b.DEPR} {
		if d == nil {
			continue
		}
		if err := d.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
