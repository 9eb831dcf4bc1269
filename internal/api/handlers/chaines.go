// Package handlers contains the HTTP handlers of the read-side API.
//
// This file serves stored C-Haines predictions:
//   - GET /c-haines/model-runs
//   - GET /c-haines/{model}/predictions (GeoJSON)
//   - GET /c-haines/{model}/predictions.kml
package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb/geojson"

	"github.com/abschwenker/wps/internal/core"
	"github.com/abschwenker/wps/internal/db"
	"github.com/abschwenker/wps/internal/types"
)

const (
	// Stored predictions never change, so clients may cache them for 12h.
	predictionCacheControl = "max-age=43200"

	defaultModelRunWindow = 3 * 24 * time.Hour
	modelRunLookaround    = 24 * time.Hour

	contentTypeKML = "application/vnd.google-earth.kml+xml"
)

// SeverityReader is the read side of the severity store.
// *db.SeverityRepository implements it.
type SeverityReader interface {
	ListModelRuns(ctx context.Context, from, to time.Time) ([]types.ModelRunSummary, error)
	GetPredictionPolygons(ctx context.Context, model types.ModelAbbrev, runTimestamp, predictionTimestamp time.Time) ([]types.SeverityPolygon, error)
	GetPredictionKML(ctx context.Context, model types.ModelAbbrev, runTimestamp, predictionTimestamp time.Time) ([]db.PolygonKML, error)
}

// ChainesHandler serves stored C-Haines model runs and predictions.
type ChainesHandler struct {
	store  SeverityReader
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewChainesHandler creates a ChainesHandler. A nil clock uses the real one.
func NewChainesHandler(store SeverityReader, clock clockwork.Clock, logger *slog.Logger) *ChainesHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ChainesHandler{store: store, clock: clock, logger: logger}
}

// RegisterRoutes mounts the C-Haines endpoints under /c-haines.
func (h *ChainesHandler) RegisterRoutes(r chi.Router) {
	r.Route("/c-haines", func(r chi.Router) {
		r.Get("/model-runs", h.HandleListModelRuns)
		r.Get("/{model}/predictions", h.HandleGetGeoJSON)
		r.Get("/{model}/predictions.kml", h.HandleGetKML)
	})
}

type modelRunsResponse struct {
	ModelRuns []types.ModelRunSummary `json:"model_runs"`
}

// HandleListModelRuns lists model runs with their prediction timestamps.
// Without model_run_timestamp it returns the last three days; with one it
// returns runs within a day either side of it.
func (h *ChainesHandler) HandleListModelRuns(w http.ResponseWriter, r *http.Request) {
	to := h.clock.Now().UTC()
	from := to.Add(-defaultModelRunWindow)

	if raw := r.URL.Query().Get("model_run_timestamp"); raw != "" {
		ts, err := parseTimestamp("model_run_timestamp", raw)
		if err != nil {
			core.Error(w, r, err)
			return
		}
		from, to = ts.Add(-modelRunLookaround), ts.Add(modelRunLookaround)
	}

	runs, err := h.store.ListModelRuns(r.Context(), from, to)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list model runs", "error", err)
		core.Error(w, r, err)
		return
	}
	if runs == nil {
		runs = []types.ModelRunSummary{}
	}
	core.JSON(w, r, http.StatusOK, modelRunsResponse{ModelRuns: runs})
}

// HandleGetGeoJSON returns one prediction as a GeoJSON FeatureCollection,
// one feature per polygon with its severity as a property.
func (h *ChainesHandler) HandleGetGeoJSON(w http.ResponseWriter, r *http.Request) {
	q, err := parsePredictionQuery(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	polygons, err := h.store.GetPredictionPolygons(r.Context(), q.model, q.runTimestamp, q.predictionTimestamp)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to load polygons", "model", q.model, "error", err)
		core.Error(w, r, err)
		return
	}

	fc := geojson.NewFeatureCollection()
	for _, p := range polygons {
		f := geojson.NewFeature(p.Geometry)
		f.Properties["severity"] = int(p.Severity)
		fc.Append(f)
	}
	body, err := fc.MarshalJSON()
	if err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode geojson", err))
		return
	}

	w.Header().Set("Cache-Control", predictionCacheControl)
	core.Body(w, http.StatusOK, "application/json", body)
}

// HandleGetKML returns one prediction as a KML document styled by severity.
func (h *ChainesHandler) HandleGetKML(w http.ResponseWriter, r *http.Request) {
	q, err := parsePredictionQuery(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	fragments, err := h.store.GetPredictionKML(r.Context(), q.model, q.runTimestamp, q.predictionTimestamp)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to load kml", "model", q.model, "error", err)
		core.Error(w, r, err)
		return
	}

	filename := fmt.Sprintf("%s-%s-%s.kml", q.model,
		q.runTimestamp.Format("2006-01-02T15"), q.predictionTimestamp.Format("2006-01-02T15"))
	w.Header().Set("Cache-Control", predictionCacheControl)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", filename))
	core.Body(w, http.StatusOK, contentTypeKML, []byte(renderKML(q, fragments)))
}

type predictionQuery struct {
	model               types.ModelAbbrev
	runTimestamp        time.Time
	predictionTimestamp time.Time
}

func parsePredictionQuery(r *http.Request) (predictionQuery, error) {
	var q predictionQuery
	model, ok := types.ParseModel(chi.URLParam(r, "model"))
	if !ok {
		return q, types.NewAppError(types.ErrCodeValidationInvalidModel,
			fmt.Sprintf("unknown model %q", chi.URLParam(r, "model")), nil)
	}
	q.model = model

	var err error
	values := r.URL.Query()
	if q.runTimestamp, err = requiredTimestamp("model_run_timestamp", values.Get("model_run_timestamp")); err != nil {
		return q, err
	}
	if q.predictionTimestamp, err = requiredTimestamp("prediction_timestamp", values.Get("prediction_timestamp")); err != nil {
		return q, err
	}
	return q, nil
}

func requiredTimestamp(name, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, types.NewAppError(types.ErrCodeValidationMissingField,
			name+" query parameter is required", nil).WithDetails(map[string]any{"param": name})
	}
	return parseTimestamp(name, raw)
}

func parseTimestamp(name, raw string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, types.NewAppError(types.ErrCodeValidationInvalidTimestamp,
			name+" must be an RFC3339 timestamp", nil).WithDetails(map[string]any{"param": name})
	}
	return ts.UTC(), nil
}

// KML colours are aabbggrr.
var kmlStyles = []struct {
	severity types.Severity
	color    string
}{
	{types.SeverityLow, "7f00ffff"},
	{types.SeverityModerate, "7f0080ff"},
	{types.SeverityHigh, "7f0000ff"},
}

// renderKML wraps PostGIS geometry fragments in a document. The fragments
// come from ST_AsKML and are inserted verbatim.
func renderKML(q predictionQuery, fragments []db.PolygonKML) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<kml xmlns="http://www.opengis.net/kml/2.2">` + "\n<Document>\n")
	fmt.Fprintf(&b, "<name>C-Haines %s %s %s</name>\n", q.model,
		q.runTimestamp.Format(time.RFC3339), q.predictionTimestamp.Format(time.RFC3339))
	for _, s := range kmlStyles {
		fmt.Fprintf(&b, `<Style id="%s"><LineStyle><width>0</width></LineStyle><PolyStyle><color>%s</color></PolyStyle></Style>`+"\n",
			s.severity, s.color)
	}
	for _, f := range fragments {
		fmt.Fprintf(&b, "<Placemark><name>%s</name><styleUrl>#%s</styleUrl>%s</Placemark>\n",
			f.Severity, f.Severity, f.KML)
	}
	b.WriteString("</Document>\n</kml>\n")
	return b.String()
}
