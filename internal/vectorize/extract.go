// Package vectorize turns classified grids into severity polygons and moves
// them into geographic coordinates.
package vectorize

import (
	"fmt"
	"sort"

	"github.com/paulmach/orb"

	"github.com/abschwenker/wps/internal/chaines"
	"github.com/abschwenker/wps/internal/types"
)

// Shape is one 4-connected region of equal severity in pixel space: X is the
// column and Y the row of a cell corner.
type Shape struct {
	Severity types.Severity
	Polygon  orb.Polygon
	Cells    int
}

type vertex struct{ x, y int32 }

type edge struct{ from, to vertex }

func (e edge) dir() (int32, int32) { return e.to.x - e.from.x, e.to.y - e.from.y }

// Extract groups masked cells into maximal 4-connected regions of equal
// severity and returns one polygon per region, ordered by severity and then
// by the region's first cell in row-major order.
func Extract(severity, mask *chaines.Grid) ([]Shape, error) {
	if severity.Width != mask.Width || severity.Height != mask.Height {
		return nil, fmt.Errorf("severity grid %dx%d does not match mask %dx%d",
			severity.Width, severity.Height, mask.Width, mask.Height)
	}
	w, h := severity.Width, severity.Height

	labels, regions := label(severity, mask)
	if len(regions) == 0 {
		return nil, nil
	}

	// Boundary edges per region. Each cell side that faces another region
	// or the grid edge becomes an edge, wound so the cell is on the same
	// side for every edge.
	edges := make([][]edge, len(regions))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			l := labels[y*w+x]
			if l == 0 {
				continue
			}
			at := func(nx, ny int) int32 {
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					return 0
				}
				return labels[ny*w+nx]
			}
			x0, y0, x1, y1 := int32(x), int32(y), int32(x+1), int32(y+1)
			e := edges[l-1]
			if at(x, y-1) != l {
				e = append(e, edge{vertex{x0, y0}, vertex{x1, y0}})
			}
			if at(x+1, y) != l {
				e = append(e, edge{vertex{x1, y0}, vertex{x1, y1}})
			}
			if at(x, y+1) != l {
				e = append(e, edge{vertex{x1, y1}, vertex{x0, y1}})
			}
			if at(x-1, y) != l {
				e = append(e, edge{vertex{x0, y1}, vertex{x0, y0}})
			}
			edges[l-1] = e
		}
	}

	shapes := make([]Shape, 0, len(regions))
	for i, r := range regions {
		poly, err := assemble(edges[i])
		if err != nil {
			return nil, fmt.Errorf("region %d (severity %d): %w", i+1, r.severity, err)
		}
		shapes = append(shapes, Shape{Severity: r.severity, Polygon: poly, Cells: r.cells})
	}

	sort.SliceStable(shapes, func(a, b int) bool { return shapes[a].Severity < shapes[b].Severity })
	return shapes, nil
}

type region struct {
	severity types.Severity
	cells    int
}

// label assigns region numbers starting at 1 to masked cells; 0 means
// unmasked.
func label(severity, mask *chaines.Grid) ([]int32, []region) {
	w, h := severity.Width, severity.Height
	labels := make([]int32, w*h)
	var regions []region
	var stack []int

	for start := range labels {
		if mask.Cells[start] == 0 || labels[start] != 0 {
			continue
		}
		id := int32(len(regions) + 1)
		sev := severity.Cells[start]
		count := 0
		labels[start] = id
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			count++
			x, y := i%w, i/w
			for _, n := range [4][2]int{{x, y - 1}, {x + 1, y}, {x, y + 1}, {x - 1, y}} {
				nx, ny := n[0], n[1]
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				j := ny*w + nx
				if labels[j] != 0 || mask.Cells[j] == 0 || severity.Cells[j] != sev {
					continue
				}
				labels[j] = id
				stack = append(stack, j)
			}
		}
		regions = append(regions, region{severity: types.Severity(sev), cells: count})
	}
	return labels, regions
}

// assemble links a region's boundary edges into rings. The outer ring comes
// first; every other ring is a hole.
func assemble(edges []edge) (orb.Polygon, error) {
	out := make(map[vertex][]int, len(edges))
	for i, e := range edges {
		out[e.from] = append(out[e.from], i)
	}

	used := make([]bool, len(edges))
	var outer orb.Ring
	var holes []orb.Ring

	for first := range edges {
		if used[first] {
			continue
		}
		var ring orb.Ring
		cur := first
		for steps := 0; ; steps++ {
			if steps > len(edges) {
				return nil, fmt.Errorf("boundary does not close")
			}
			used[cur] = true
			ring = append(ring, orb.Point{float64(edges[cur].from.x), float64(edges[cur].from.y)})
			next, err := follow(edges, out[edges[cur].to], cur)
			if err != nil {
				return nil, err
			}
			if next == first {
				break
			}
			cur = next
		}
		ring = simplify(ring)

		switch ring.Orientation() {
		case orb.CCW:
			if outer != nil {
				return nil, fmt.Errorf("more than one outer ring")
			}
			outer = ring
		case orb.CW:
			holes = append(holes, ring)
		default:
			return nil, fmt.Errorf("degenerate ring with %d points", len(ring))
		}
	}
	if outer == nil {
		return nil, fmt.Errorf("no outer ring")
	}
	return append(orb.Polygon{outer}, holes...), nil
}

// follow picks the edge that continues the boundary after edge cur. Where two
// cells of the region touch only at a corner there are two candidates; the
// boundary then turns towards the other cell so each ring traces exactly one
// empty area and never touches itself.
func follow(edges []edge, candidates []int, cur int) (int, error) {
	switch len(candidates) {
	case 1:
		return candidates[0], nil
	case 2:
		dx, dy := edges[cur].dir()
		for _, c := range candidates {
			cx, cy := edges[c].dir()
			if dx*cy-dy*cx < 0 {
				return c, nil
			}
		}
		return 0, fmt.Errorf("ambiguous boundary vertex at %v", edges[cur].to)
	default:
		return 0, fmt.Errorf("boundary vertex at %v has %d exits", edges[cur].to, len(candidates))
	}
}

// simplify drops vertices where the boundary does not change direction and
// closes the ring.
func simplify(ring orb.Ring) orb.Ring {
	n := len(ring)
	out := make(orb.Ring, 0, n+1)
	for i := range ring {
		prev, p, next := ring[(i+n-1)%n], ring[i], ring[(i+1)%n]
		ax, ay := p[0]-prev[0], p[1]-prev[1]
		bx, by := next[0]-p[0], next[1]-p[1]
		if ax*by-ay*bx == 0 {
			continue
		}
		out = append(out, p)
	}
	if len(out) > 0 {
		out = append(out, out[0])
	}
	return out
}
