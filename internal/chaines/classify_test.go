package chaines

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abschwenker/wps/internal/raster"
	"github.com/abschwenker/wps/internal/types"
)

func TestSeverity_Thresholds(t *testing.T) {
	tests := []struct {
		index float64
		want  types.Severity
	}{
		{-5, types.SeverityNone},
		{0, types.SeverityNone},
		{3.999, types.SeverityNone},
		{4, types.SeverityLow},
		{4.67, types.SeverityLow},
		{7.999, types.SeverityLow},
		{8, types.SeverityModerate},
		{10.999, types.SeverityModerate},
		{11, types.SeverityHigh},
		{40, types.SeverityHigh},
		{math.Inf(1), types.SeverityHigh},
		{math.NaN(), types.SeverityNone},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Severity(tt.index), "index %v", tt.index)
	}
}

func TestSeverity_Monotonic(t *testing.T) {
	prev := Severity(-20)
	for v := -20.0; v <= 20; v += 0.05 {
		s := Severity(v)
		if s < prev {
			t.Fatalf("severity decreased at %v: %v -> %v", v, prev, s)
		}
		prev = s
	}
}

func TestClassify_MaskMatchesSeverity(t *testing.T) {
	ig := &raster.IndexGrid{
		Width:  3,
		Height: 2,
		Values: []float64{0, 4.5, 9, 12, 3.9, math.NaN()},
	}

	sev, mask := Classify(ig)
	require.Len(t, sev.Cells, 6)
	assert.Equal(t, []uint8{0, 1, 2, 3, 0, 0}, sev.Cells)

	for i := range sev.Cells {
		assert.Equal(t, sev.Cells[i] > 0, mask.Cells[i] == 1, "cell %d", i)
	}
	assert.Equal(t, uint8(3), sev.At(0, 1))
}

func TestClassify_AllZero(t *testing.T) {
	ig := &raster.IndexGrid{Width: 5, Height: 5, Values: make([]float64, 25)}
	_, mask := Classify(ig)
	for _, m := range mask.Cells {
		assert.Zero(t, m)
	}
}
