package vectorize

import (
	"fmt"

	"github.com/ctessum/geom/proj"
	"github.com/paulmach/orb"

	"github.com/abschwenker/wps/internal/raster"
)

// NAD83 is the proj4 definition of EPSG:4269, the CRS of all stored
// geometry.
const NAD83 = "+proj=longlat +ellps=GRS80 +towgs84=0,0,0,0,0,0,0 +no_defs"

// Projector builds transforms from a grid's native CRS to NAD83.
type Projector interface {
	ToNAD83(source string) (*Reprojector, error)
}

// ProjProjector is the pure-Go Projector. It covers proj4 definitions and the
// WKT subset understood by github.com/ctessum/geom/proj, which does not
// include polar stereographic grids.
type ProjProjector struct{}

// ToNAD83 implements Projector.
func (ProjProjector) ToNAD83(source string) (*Reprojector, error) {
	return NewReprojector(source, NAD83)
}

// Reprojector transforms coordinates between two CRS definitions. Points are
// always in X/Y order, i.e. longitude before latitude for geographic systems.
type Reprojector struct {
	transform raster.PointTransform
	close     func()
}

// FromTransform wraps fn. close, if not nil, releases whatever fn holds and
// runs once from Close.
func FromTransform(fn raster.PointTransform, close func()) *Reprojector {
	return &Reprojector{transform: fn, close: close}
}

// NewReprojector parses proj4 or WKT definitions for source and target.
func NewReprojector(source, target string) (*Reprojector, error) {
	src, err := proj.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("parsing source projection %q: %w", source, err)
	}
	dst, err := proj.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parsing target projection %q: %w", target, err)
	}
	t, err := src.NewTransform(dst)
	if err != nil {
		return nil, fmt.Errorf("building transform: %w", err)
	}
	if t == nil {
		// proj returns no transform when both systems are equal.
		return FromTransform(identity, nil), nil
	}
	return FromTransform(raster.PointTransform(t), nil), nil
}

func identity(x, y float64) (float64, float64, error) { return x, y, nil }

// Point transforms a single coordinate. Its signature matches
// raster.PointTransform.
func (r *Reprojector) Point(x, y float64) (float64, float64, error) {
	return r.transform(x, y)
}

// Close releases native resources held by the transform.
func (r *Reprojector) Close() {
	if r.close != nil {
		r.close()
		r.close = nil
	}
}

// Reproject transforms every vertex of p. The result's outer ring is
// counter-clockwise and holes are clockwise.
func (r *Reprojector) Reproject(p orb.Polygon) (orb.Polygon, error) {
	out := make(orb.Polygon, len(p))
	for i, ring := range p {
		nr := make(orb.Ring, len(ring))
		for j, pt := range ring {
			x, y, err := r.transform(pt[0], pt[1])
			if err != nil {
				return nil, fmt.Errorf("transforming vertex %v: %w", pt, err)
			}
			nr[j] = orb.Point{x, y}
		}
		out[i] = nr
	}
	return Orient(out), nil
}

// Georeference maps a pixel-space polygon into the raster's source CRS.
func Georeference(p orb.Polygon, gt raster.GeoTransform) orb.Polygon {
	out := make(orb.Polygon, len(p))
	for i, ring := range p {
		nr := make(orb.Ring, len(ring))
		for j, pt := range ring {
			x, y := gt.Apply(pt[0], pt[1])
			nr[j] = orb.Point{x, y}
		}
		out[i] = nr
	}
	return out
}

// Orient rewinds rings in place so the outer ring is counter-clockwise and
// holes are clockwise.
func Orient(p orb.Polygon) orb.Polygon {
	for i, ring := range p {
		want := orb.CW
		if i == 0 {
			want = orb.CCW
		}
		if o := ring.Orientation(); o != 0 && o != want {
			ring.Reverse()
		}
	}
	return p
}
