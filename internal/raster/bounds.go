package raster

import (
	"fmt"

	"github.com/golang/geo/r2"
)

// Region is an axis-aligned lon/lat box. Membership is strict on all four
// edges.
type Region struct {
	rect r2.Rect
}

// NewRegion builds a region from its north-west and south-east corners.
func NewRegion(westLon, northLat, eastLon, southLat float64) Region {
	return Region{rect: r2.RectFromPoints(
		r2.Point{X: westLon, Y: southLat},
		r2.Point{X: eastLon, Y: northLat},
	)}
}

// WesternCanada is the fire weather region of interest.
var WesternCanada = NewRegion(-140, 70, -110, 46)

// Contains reports whether lon0 < lon < lon1 and lat1 < lat < lat0.
func (r Region) Contains(lon, lat float64) bool {
	return r.rect.InteriorContainsPoint(r2.Point{X: lon, Y: lat})
}

// GeoFunc maps a grid cell to longitude and latitude.
type GeoFunc func(x, y int) (lon, lat float64, err error)

// NewGeoFunc combines a geotransform with a transform from the source CRS to
// geographic coordinates. A nil toGeo means the source CRS is already
// geographic.
func NewGeoFunc(gt GeoTransform, toGeo PointTransform) GeoFunc {
	return func(x, y int) (float64, float64, error) {
		sx, sy := gt.Apply(float64(x), float64(y))
		if toGeo == nil {
			return sx, sy, nil
		}
		return toGeo(sx, sy)
	}
}

// Bounds answers whether a cell lies inside the region of interest.
type Bounds interface {
	Inside(x, y int) (bool, error)
	// Extent is the grid size the bounds were built for.
	Extent() (width, height int)
	// Concurrent reports whether Inside may be called from several
	// goroutines at once.
	Concurrent() bool
}

// bitset is a flattened width*height set of cells.
type bitset struct {
	width  int
	height int
	words  []uint64
}

func newBitset(width, height int) bitset {
	return bitset{width: width, height: height, words: make([]uint64, (width*height+63)/64)}
}

func (b *bitset) set(x, y int) {
	i := y*b.width + x
	b.words[i/64] |= 1 << (uint(i) % 64)
}

func (b *bitset) has(x, y int) bool {
	if x < 0 || y < 0 || x >= b.width || y >= b.height {
		return false
	}
	i := y*b.width + x
	return b.words[i/64]&(1<<(uint(i)%64)) != 0
}

// PopulatingBounds evaluates every query with the geographic transform and
// remembers the cells that tested inside. It is used for the first grid of a
// model run and is not safe for concurrent use.
type PopulatingBounds struct {
	region Region
	toGeo  GeoFunc
	known  bitset
	calls  int
}

// NewPopulatingBounds creates a bounds cache for a width x height grid.
func NewPopulatingBounds(width, height int, region Region, toGeo GeoFunc) *PopulatingBounds {
	return &PopulatingBounds{
		region: region,
		toGeo:  toGeo,
		known:  newBitset(width, height),
	}
}

// Inside transforms (x, y) and tests it against the region.
func (p *PopulatingBounds) Inside(x, y int) (bool, error) {
	if x < 0 || y < 0 || x >= p.known.width || y >= p.known.height {
		return false, fmt.Errorf("%w: (%d, %d)", ErrOutOfExtent, x, y)
	}
	lon, lat, err := p.toGeo(x, y)
	p.calls++
	if err != nil {
		return false, fmt.Errorf("transforming cell (%d, %d): %w", x, y, err)
	}
	if !p.region.Contains(lon, lat) {
		return false, nil
	}
	p.known.set(x, y)
	return true, nil
}

func (p *PopulatingBounds) Extent() (int, int) { return p.known.width, p.known.height }

func (p *PopulatingBounds) Concurrent() bool { return false }

// Transforms returns how many geographic transforms have been computed.
func (p *PopulatingBounds) Transforms() int { return p.calls }

// Freeze ends population. The returned bounds answer only from the cells
// recorded so far; p must not be used afterwards.
func (p *PopulatingBounds) Freeze() *ReusingBounds {
	r := &ReusingBounds{known: p.known}
	p.known = bitset{}
	return r
}

// ReusingBounds answers from a frozen set of known-inside cells. A cell that
// was not inside during population is never inside here. Safe for
// concurrent use.
type ReusingBounds struct {
	known bitset
}

func (r *ReusingBounds) Inside(x, y int) (bool, error) {
	return r.known.has(x, y), nil
}

func (r *ReusingBounds) Extent() (int, int) { return r.known.width, r.known.height }

func (r *ReusingBounds) Concurrent() bool { return true }
