package raster

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// IndexFunc computes the index for one cell from its three band values.
type IndexFunc func(t700, t850, depr850 float64) float64

// IndexGrid is a row-major grid of index values. Cells outside the region of
// interest are zero.
type IndexGrid struct {
	Width  int
	Height int
	Values []float64
}

// At returns the value at column x, row y.
func (g *IndexGrid) At(x, y int) float64 {
	return g.Values[y*g.Width+x]
}

// ScannerConfig holds the dependencies for a Scanner.
type ScannerConfig struct {
	Index IndexFunc
	// Workers bounds the number of rows computed at once when the bounds
	// allow concurrent use. Zero means GOMAXPROCS.
	Workers int
	Logger  *slog.Logger
}

// Scanner evaluates an IndexFunc over three aligned bands.
type Scanner struct {
	index   IndexFunc
	workers int
	logger  *slog.Logger
}

// NewScanner creates a Scanner.
func NewScanner(cfg ScannerConfig) *Scanner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Scanner{index: cfg.Index, workers: workers, logger: logger}
}

// Scan produces the index grid for bands. Rows are read top to bottom. If
// bounds is concurrent-safe, rows are computed in parallel; band reads stay
// serialized because native raster handles are not thread safe.
func (s *Scanner) Scan(ctx context.Context, bands Bands, bounds Bounds) (*IndexGrid, error) {
	if err := bands.Check(); err != nil {
		return nil, err
	}
	width, height := bands.T700.Width(), bands.T700.Height()
	if bw, bh := bounds.Extent(); bw != width || bh != height {
		return nil, fmt.Errorf("%w: bands %dx%d, bounds %dx%d", ErrDimensionMismatch, width, height, bw, bh)
	}

	grid := &IndexGrid{Width: width, Height: height, Values: make([]float64, width*height)}

	if !bounds.Concurrent() {
		rows := newRowBuffers(width)
		for y := 0; y < height; y++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := rows.read(bands, y); err != nil {
				return nil, err
			}
			if err := s.scanRow(grid, rows, bounds, y); err != nil {
				return nil, err
			}
		}
		s.logger.DebugContext(ctx, "raster scanned", "width", width, "height", height, "concurrent", false)
		return grid, nil
	}

	var readMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for y := 0; y < height; y++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rows := newRowBuffers(width)
			readMu.Lock()
			err := rows.read(bands, y)
			readMu.Unlock()
			if err != nil {
				return err
			}
			return s.scanRow(grid, rows, bounds, y)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	s.logger.DebugContext(ctx, "raster scanned", "width", width, "height", height, "concurrent", true, "workers", s.workers)
	return grid, nil
}

// scanRow writes row y of grid. Each call touches a disjoint slice of
// grid.Values.
func (s *Scanner) scanRow(grid *IndexGrid, rows *rowBuffers, bounds Bounds, y int) error {
	out := grid.Values[y*grid.Width : (y+1)*grid.Width]
	for x := range out {
		inside, err := bounds.Inside(x, y)
		if err != nil {
			return err
		}
		if !inside {
			out[x] = 0
			continue
		}
		out[x] = s.index(rows.t700[x], rows.t850[x], rows.depr[x])
	}
	return nil
}

type rowBuffers struct {
	t700 []float64
	t850 []float64
	depr []float64
}

func newRowBuffers(width int) *rowBuffers {
	return &rowBuffers{
		t700: make([]float64, width),
		t850: make([]float64, width),
		depr: make([]float64, width),
	}
}

func (r *rowBuffers) read(bands Bands, y int) error {
	if err := bands.T700.ReadRow(y, r.t700); err != nil {
		return fmt.Errorf("reading TMP 700 row %d: %w", y, err)
	}
	if err := bands.T850.ReadRow(y, r.t850); err != nil {
		return fmt.Errorf("reading TMP 850 row %d: %w", y, err)
	}
	if err := bands.DEPR.ReadRow(y, r.depr); err != nil {
		return fmt.Errorf("reading DEPR 850 row %d: %w", y, err)
	}
	return nil
}
