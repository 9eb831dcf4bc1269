package chaines

import (
	"math"

	"github.com/abschwenker/wps/internal/raster"
	"github.com/abschwenker/wps/internal/types"
)

// Class upper bounds (exclusive) for severities 0, 1 and 2. Anything at or
// above the last bound is high.
var thresholds = [...]float64{4, 8, 11}

// Severity maps one index value to its class. NaN maps to SeverityNone.
func Severity(index float64) types.Severity {
	if math.IsNaN(index) {
		return types.SeverityNone
	}
	for i, upper := range thresholds {
		if index < upper {
			return types.Severity(i)
		}
	}
	return types.SeverityHigh
}

// Grid is a row-major width*height raster of small integer values.
type Grid struct {
	Width  int
	Height int
	Cells  []uint8
}

// NewGrid allocates a zeroed grid.
func NewGrid(width, height int) *Grid {
	return &Grid{Width: width, Height: height, Cells: make([]uint8, width*height)}
}

// At returns the value at column x, row y.
func (g *Grid) At(x, y int) uint8 {
	return g.Cells[y*g.Width+x]
}

// Classify converts an index grid into a severity grid and a mask grid. The
// mask is 1 exactly where severity is above none.
func Classify(index *raster.IndexGrid) (severity, mask *Grid) {
	severity = NewGrid(index.Width, index.Height)
	mask = NewGrid(index.Width, index.Height)
	for i, v := range index.Values {
		s := Severity(v)
		severity.Cells[i] = uint8(s)
		if s > types.SeverityNone {
			mask.Cells[i] = 1
		}
	}
	return severity, mask
}
