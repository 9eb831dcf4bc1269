// Package scheduler runs the C-Haines severity poller: for every configured
// model, run hour and prediction hour it downloads the three input layers,
// computes severity polygons and stores them, skipping hours already stored.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/abschwenker/wps/internal/chaines"
	"github.com/abschwenker/wps/internal/forecasts"
	"github.com/abschwenker/wps/internal/observability"
	"github.com/abschwenker/wps/internal/raster"
	"github.com/abschwenker/wps/internal/types"
	"github.com/abschwenker/wps/internal/vectorize"
)

// PredictionStore is the persistence the poller needs.
// *db.SeverityRepository implements it.
type PredictionStore interface {
	GetPredictionModel(ctx context.Context, model types.ModelAbbrev, projection types.Projection) (*types.PredictionModel, error)
	GetOrCreateModelRun(ctx context.Context, model *types.PredictionModel, runTimestamp time.Time) (*types.ModelRun, error)
	PredictionExists(ctx context.Context, run *types.ModelRun, predictionTimestamp time.Time) (bool, error)
	StorePrediction(ctx context.Context, run *types.ModelRun, predictionTimestamp time.Time, polygons []types.SeverityPolygon) (bool, error)
}

// Downloader fetches one file into dir and returns its local path.
// *forecasts.Downloader implements it.
type Downloader interface {
	Download(ctx context.Context, model types.ModelAbbrev, url, dir string) (string, error)
}

// PollInput is the payload of one invocation. Empty fields fall back to the
// poller's configuration.
type PollInput struct {
	Models []types.ModelAbbrev `json:"models"`
	// RunHours restricts which runs are polled, e.g. [0, 12].
	RunHours []int `json:"run_hours"`
	// Limit caps the units downloaded in one invocation to stay inside the
	// Lambda timeout. Zero means unlimited.
	Limit int `json:"limit"`
}

// PollSummary counts the terminal states reached during one Poll.
type PollSummary struct {
	RunID    string                                        `json:"run_id"`
	Units    map[types.ModelAbbrev]map[types.UnitState]int `json:"units"`
	Polygons int                                           `json:"polygons"`
	Elapsed  time.Duration                                 `json:"elapsed"`
}

// Count returns the number of units of any model that ended in state.
func (s PollSummary) Count(state types.UnitState) int {
	n := 0
	for _, states := range s.Units {
		n += states[state]
	}
	return n
}

func (s *PollSummary) record(model types.ModelAbbrev, state types.UnitState) {
	if s.Units[model] == nil {
		s.Units[model] = make(map[types.UnitState]int)
	}
	s.Units[model][state]++
}

// SeverityPollerConfig holds the dependencies of a SeverityPoller.
type SeverityPollerConfig struct {
	Store      PredictionStore
	Downloader Downloader
	Source     raster.Source
	// Projector builds the grid-to-NAD83 transform. It defaults to
	// vectorize.ProjProjector, which cannot read polar-stereographic grids;
	// production wires the GDAL projector.
	Projector vectorize.Projector
	Models    []types.ModelAbbrev
	BaseURL   string
	// Region defaults to raster.WesternCanada.
	Region      *raster.Region
	ScanWorkers int
	// TempDir is the parent of the per-unit download directories. Empty
	// means os.TempDir.
	TempDir string
	Clock   clockwork.Clock
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// SeverityPoller drives units through
// pending -> skipped | downloading -> failed_download | processing ->
// failed_processing | failed_store | stored.
type SeverityPoller struct {
	store      PredictionStore
	downloader Downloader
	source     raster.Source
	projector  vectorize.Projector
	scanner    *raster.Scanner
	models     []types.ModelAbbrev
	baseURL    string
	region     raster.Region
	tempDir    string
	clock      clockwork.Clock
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewSeverityPoller creates a SeverityPoller.
func NewSeverityPoller(cfg SeverityPollerConfig) *SeverityPoller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	region := raster.WesternCanada
	if cfg.Region != nil {
		region = *cfg.Region
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = forecasts.DefaultDatamartURL
	}
	models := cfg.Models
	if len(models) == 0 {
		models = types.AllModels
	}
	projector := cfg.Projector
	if projector == nil {
		projector = vectorize.ProjProjector{}
	}
	return &SeverityPoller{
		store:      cfg.Store,
		downloader: cfg.Downloader,
		source:     cfg.Source,
		projector:  projector,
		scanner: raster.NewScanner(raster.ScannerConfig{
			Index:   chaines.Index,
			Workers: cfg.ScanWorkers,
			Logger:  logger,
		}),
		models:  models,
		baseURL: baseURL,
		region:  region,
		tempDir: cfg.TempDir,
		clock:   clock,
		metrics: cfg.Metrics,
		logger:  logger,
	}
}

var errLimitReached = errors.New("unit limit reached")

// Poll processes every unit of the requested models. Per-unit failures are
// logged and counted, never returned. It returns an error only for
// configuration problems (unknown model, missing prediction_models row) and
// cancellation, which stops iteration between units.
func (p *SeverityPoller) Poll(ctx context.Context, input PollInput) (PollSummary, error) {
	start := p.clock.Now()
	runID := types.GetRunID(ctx)
	if runID == "" {
		runID = uuid.NewString()
		ctx = types.WithRunID(ctx, runID)
	}
	summary := PollSummary{RunID: runID, Units: make(map[types.ModelAbbrev]map[types.UnitState]int)}

	models := input.Models
	if len(models) == 0 {
		models = p.models
	}
	specs := make([]forecasts.ModelSpec, 0, len(models))
	for _, m := range models {
		spec, err := forecasts.Lookup(m)
		if err != nil {
			return summary, err
		}
		specs = append(specs, spec)
	}

	p.logger.InfoContext(ctx, "c-haines poll started", "run_id", runID, "models", models, "limit", input.Limit)

	budget := &unitBudget{limit: input.Limit}
	var err error
	for _, spec := range specs {
		if err = p.pollModel(ctx, spec, input.RunHours, budget, &summary); err != nil {
			break
		}
	}
	summary.Elapsed = p.clock.Since(start)

	if errors.Is(err, errLimitReached) {
		p.logger.InfoContext(ctx, "unit limit reached", "run_id", runID, "limit", input.Limit)
		err = nil
	}
	p.logger.InfoContext(ctx, "c-haines poll complete",
		"run_id", runID,
		"stored", summary.Count(types.UnitStored),
		"skipped", summary.Count(types.UnitSkipped),
		"failed_download", summary.Count(types.UnitFailedDownload),
		"failed_processing", summary.Count(types.UnitFailedProcessing),
		"failed_store", summary.Count(types.UnitFailedStore),
		"polygons", summary.Polygons,
		"duration_ms", summary.Elapsed.Milliseconds(),
	)
	return summary, err
}

func (p *SeverityPoller) pollModel(ctx context.Context, spec forecasts.ModelSpec, runHours []int, budget *unitBudget, summary *PollSummary) error {
	pm, err := p.store.GetPredictionModel(ctx, spec.Model, spec.Projection)
	if err != nil {
		return err
	}
	for _, runHour := range spec.RunHours {
		if len(runHours) > 0 && !slices.Contains(runHours, runHour) {
			continue
		}
		if err := p.pollRun(ctx, spec, pm, runHour, budget, summary); err != nil {
			return err
		}
	}
	return nil
}

// pollRun walks the prediction hours of one model run. The model run and the
// bounds cache live for exactly this loop.
func (p *SeverityPoller) pollRun(ctx context.Context, spec forecasts.ModelSpec, pm *types.PredictionModel, runHour int, budget *unitBudget, summary *PollSummary) error {
	now := p.clock.Now()
	cache := &boundsCache{}
	var run *types.ModelRun

	for _, hour := range spec.PredictionHours() {
		if err := ctx.Err(); err != nil {
			return err
		}
		unit := spec.Unit(p.baseURL, now, runHour, hour)
		log := p.logger.With(
			"model", unit.Model,
			"model_run", unit.ModelRunTimestamp.Format(time.RFC3339),
			"prediction", unit.PredictionTimestamp.Format(time.RFC3339),
		)

		if run == nil {
			var err error
			// A failed lookup fails this unit; the next hour retries it.
			if run, err = p.store.GetOrCreateModelRun(ctx, pm, unit.ModelRunTimestamp); err != nil {
				p.finish(ctx, log, summary, unit.Model, types.UnitFailedStore, fmt.Errorf("model run lookup: %w", err))
				continue
			}
		}

		exists, err := p.store.PredictionExists(ctx, run, unit.PredictionTimestamp)
		if err != nil {
			p.finish(ctx, log, summary, unit.Model, types.UnitFailedStore, err)
			continue
		}
		if exists {
			p.finish(ctx, log, summary, unit.Model, types.UnitSkipped, nil)
			continue
		}

		if !budget.take() {
			return errLimitReached
		}

		state, polygons, err := p.processUnit(ctx, unit, run, cache, log)
		summary.Polygons += polygons
		p.finish(ctx, log, summary, unit.Model, state, err)
	}
	return nil
}

// finish records a terminal state. Download failures are expected while the
// Datamart is still publishing a run, so they log at WARN.
func (p *SeverityPoller) finish(ctx context.Context, log *slog.Logger, summary *PollSummary, model types.ModelAbbrev, state types.UnitState, err error) {
	summary.record(model, state)
	p.metrics.RecordUnit(model, state)
	switch state {
	case types.UnitStored:
		log.InfoContext(ctx, "prediction stored", "state", state)
	case types.UnitSkipped:
		log.DebugContext(ctx, "prediction already stored", "state", state)
	case types.UnitFailedDownload:
		log.WarnContext(ctx, "download failed", "state", state, "error", err)
	default:
		log.ErrorContext(ctx, "unit failed", "state", state, "error", err)
	}
}

// processUnit runs one unit from downloading to a terminal state and returns
// the number of polygons stored.
func (p *SeverityPoller) processUnit(ctx context.Context, unit forecasts.Unit, run *types.ModelRun, cache *boundsCache, log *slog.Logger) (types.UnitState, int, error) {
	dir, err := os.MkdirTemp(p.tempDir, "chaines-")
	if err != nil {
		return types.UnitFailedDownload, 0, fmt.Errorf("creating temp dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			log.WarnContext(ctx, "failed to remove temp dir", "dir", dir, "error", err)
		}
	}()

	paths, err := p.download(ctx, unit, dir)
	if err != nil {
		return types.UnitFailedDownload, 0, err
	}

	started := p.clock.Now()
	polygons, err := p.process(ctx, unit, paths, cache)
	if err != nil {
		return types.UnitFailedProcessing, 0, err
	}
	p.metrics.ObserveProcess(unit.Model, p.clock.Since(started))

	stored, err := p.store.StorePrediction(ctx, run, unit.PredictionTimestamp, polygons)
	if err != nil {
		return types.UnitFailedStore, 0, err
	}
	if !stored {
		return types.UnitSkipped, 0, nil
	}
	p.metrics.RecordPolygons(unit.Model, polygons)
	return types.UnitStored, len(polygons), nil
}

// download fetches the three layers concurrently. Any failure fails the unit.
func (p *SeverityPoller) download(ctx context.Context, unit forecasts.Unit, dir string) (forecasts.Levels, error) {
	var paths forecasts.Levels
	g, gctx := errgroup.WithContext(ctx)
	for _, l := range []struct {
		url string
		dst *string
	}{
		{unit.URLs.T700, &paths.T700},
		{unit.URLs.T850, &paths.T850},
		{unit.URLs.DEPR, &paths.DEPR},
	} {
		g.Go(func() error {
			path, err := p.downloader.Download(gctx, unit.Model, l.url, dir)
			if err != nil {
				return err
			}
			*l.dst = path
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return forecasts.Levels{}, err
	}
	return paths, nil
}

// process turns the downloaded layers into NAD83 severity polygons.
func (p *SeverityPoller) process(ctx context.Context, unit forecasts.Unit, paths forecasts.Levels, cache *boundsCache) ([]types.SeverityPolygon, error) {
	var bands raster.Bands
	defer func() { _ = bands.Close() }()

	var err error
	if bands.T700, err = p.source.Open(ctx, paths.T700); err != nil {
		return nil, err
	}
	if bands.T850, err = p.source.Open(ctx, paths.T850); err != nil {
		return nil, err
	}
	if bands.DEPR, err = p.source.Open(ctx, paths.DEPR); err != nil {
		return nil, err
	}
	if err := bands.Check(); err != nil {
		return nil, err
	}

	gt := bands.T700.GeoTransform()
	// Files without an embedded projection fall back to the model's grid.
	crs := bands.T700.Projection()
	if crs == "" {
		crs = unit.CRS
	}
	toNAD83, err := p.projector.ToNAD83(crs)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalProjection, "unusable source projection", err)
	}
	defer toNAD83.Close()

	width, height := bands.T700.Width(), bands.T700.Height()
	var bounds raster.Bounds
	var populating *raster.PopulatingBounds
	if frozen := cache.get(width, height); frozen != nil {
		bounds = frozen
	} else {
		populating = raster.NewPopulatingBounds(width, height, p.region, raster.NewGeoFunc(gt, toNAD83.Point))
		bounds = populating
	}

	grid, err := p.scanner.Scan(ctx, bands, bounds)
	if err != nil {
		return nil, err
	}
	if populating != nil {
		cache.store(populating.Freeze())
		p.metrics.RecordBoundsFill(unit.Model)
	}

	severity, mask := chaines.Classify(grid)
	shapes, err := vectorize.Extract(severity, mask)
	if err != nil {
		return nil, err
	}

	polygons := make([]types.SeverityPolygon, 0, len(shapes))
	for _, s := range shapes {
		geo, err := toNAD83.Reproject(vectorize.Georeference(s.Polygon, gt))
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalProjection, "reprojecting polygon", err)
		}
		polygons = append(polygons, types.SeverityPolygon{Geometry: geo, Severity: s.Severity})
	}
	return polygons, nil
}

// boundsCache holds the frozen bounds of one model run. It is only replaced
// after a scan that visited every cell succeeds, so a partially populated
// cache is never reused.
type boundsCache struct {
	frozen *raster.ReusingBounds
}

// get returns the frozen bounds if they match the grid size, or nil when a
// new population pass is needed.
func (c *boundsCache) get(width, height int) *raster.ReusingBounds {
	if c.frozen == nil {
		return nil
	}
	if w, h := c.frozen.Extent(); w != width || h != height {
		return nil
	}
	return c.frozen
}

func (c *boundsCache) store(b *raster.ReusingBounds) {
	c.frozen = b
}

// unitBudget counts downloads against PollInput.Limit.
type unitBudget struct {
	limit int
	used  int
}

func (b *unitBudget) take() bool {
	if b.limit > 0 && b.used >= b.limit {
		return false
	}
	b.used++
	return true
}
