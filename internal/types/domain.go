package types

import (
	"time"

	"github.com/paulmach/orb"
)

// SRIDNAD83 is the spatial reference id of all stored geometry.
const SRIDNAD83 = 4269

// PredictionModel is a row of prediction_models.
type PredictionModel struct {
	ID           int64
	Name         string
	Abbreviation ModelAbbrev
	Projection   Projection
}

// ModelRun is one run of one prediction model. A zero ID means the run has
// not been written yet; it is inserted together with its first prediction.
type ModelRun struct {
	ID                int64
	ModelRunTimestamp time.Time
	PredictionModel   PredictionModel
}

// Saved reports whether the run has a database identity.
func (r *ModelRun) Saved() bool {
	return r != nil && r.ID != 0
}

// Prediction is one forecast hour of a ModelRun.
type Prediction struct {
	ID                  int64
	ModelRunID          int64
	PredictionTimestamp time.Time
}

// SeverityPolygon is a polygon in NAD83 lon/lat with its severity class.
type SeverityPolygon struct {
	Geometry orb.Polygon
	Severity Severity
}

// ModelRunSummary is the read-side view of a model run and the prediction
// timestamps stored for it.
type ModelRunSummary struct {
	Model             ModelAbbrev `json:"model"`
	ModelName         string      `json:"name"`
	ModelRunTimestamp time.Time   `json:"model_run_timestamp"`
	Predictions       []time.Time `json:"prediction_timestamps"`
}
