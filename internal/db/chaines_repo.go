package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/ewkb"

	"github.com/abschwenker/wps/internal/types"
)

// SeverityRepository reads and writes C-Haines model runs, predictions and
// severity polygons.
//
// Tables:
//
//	prediction_models(id, name, abbreviation, projection)
//	c_haines_model_runs(id, model_run_timestamp, prediction_model_id)
//	  UNIQUE (prediction_model_id, model_run_timestamp)
//	c_haines_predictions(id, model_run_id, prediction_timestamp)
//	  UNIQUE (model_run_id, prediction_timestamp)
//	c_haines_polygons(id, geom geometry(Polygon, 4269), severity, c_haines_prediction_id)
type SeverityRepository struct {
	db TxBeginner
}

func NewSeverityRepository(db TxBeginner) *SeverityRepository {
	return &SeverityRepository{db: db}
}

// GetPredictionModel returns the prediction_models row for a model on a
// projection.
func (r *SeverityRepository) GetPredictionModel(ctx context.Context, model types.ModelAbbrev, projection types.Projection) (*types.PredictionModel, error) {
	var pm types.PredictionModel
	err := r.db.QueryRow(ctx,
		`SELECT id, name, abbreviation, projection
		 FROM prediction_models
		 WHERE abbreviation = $1 AND projection = $2`,
		string(model), string(projection),
	).Scan(&pm.ID, &pm.Name, &pm.Abbreviation, &pm.Projection)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundPredictionModel,
			fmt.Sprintf("no prediction model %s on %s", model, projection), nil)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get prediction model", err)
	}
	return &pm, nil
}

// GetOrCreateModelRun returns the stored run for (model, timestamp). When
// none exists it returns an unsaved run; StorePrediction inserts it together
// with the first prediction so an aborted unit never leaves an empty run.
func (r *SeverityRepository) GetOrCreateModelRun(ctx context.Context, model *types.PredictionModel, runTimestamp time.Time) (*types.ModelRun, error) {
	run := &types.ModelRun{ModelRunTimestamp: runTimestamp.UTC(), PredictionModel: *model}
	err := r.db.QueryRow(ctx,
		`SELECT id FROM c_haines_model_runs
		 WHERE prediction_model_id = $1 AND model_run_timestamp = $2`,
		model.ID, run.ModelRunTimestamp,
	).Scan(&run.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return run, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get model run", err)
	}
	return run, nil
}

// PredictionExists reports whether run already has a prediction at
// predictionTimestamp. An unsaved run has none.
func (r *SeverityRepository) PredictionExists(ctx context.Context, run *types.ModelRun, predictionTimestamp time.Time) (bool, error) {
	if !run.Saved() {
		return false, nil
	}
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM c_haines_predictions
		   WHERE model_run_id = $1 AND prediction_timestamp = $2)`,
		run.ID, predictionTimestamp.UTC(),
	).Scan(&exists)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check prediction", err)
	}
	return exists, nil
}

var errDuplicatePrediction = errors.New("prediction already stored")

// StorePrediction writes the run (if unsaved), the prediction and all of its
// polygons in one transaction. It returns false without error when another
// writer stored the same prediction first; nothing is written in that case.
// On success an unsaved run receives its ID.
func (r *SeverityRepository) StorePrediction(ctx context.Context, run *types.ModelRun, predictionTimestamp time.Time, polygons []types.SeverityPolygon) (bool, error) {
	runID := run.ID
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if runID == 0 {
			// DO UPDATE so RETURNING yields the id when a concurrent
			// writer created the run first.
			err := tx.QueryRow(ctx,
				`INSERT INTO c_haines_model_runs (model_run_timestamp, prediction_model_id)
				 VALUES ($1, $2)
				 ON CONFLICT (prediction_model_id, model_run_timestamp)
				 DO UPDATE SET model_run_timestamp = EXCLUDED.model_run_timestamp
				 RETURNING id`,
				run.ModelRunTimestamp, run.PredictionModel.ID,
			).Scan(&runID)
			if err != nil {
				return fmt.Errorf("inserting model run: %w", err)
			}
		}

		var predictionID int64
		err := tx.QueryRow(ctx,
			`INSERT INTO c_haines_predictions (model_run_id, prediction_timestamp)
			 VALUES ($1, $2)
			 ON CONFLICT (model_run_id, prediction_timestamp) DO NOTHING
			 RETURNING id`,
			runID, predictionTimestamp.UTC(),
		).Scan(&predictionID)
		if errors.Is(err, pgx.ErrNoRows) {
			return errDuplicatePrediction
		}
		if err != nil {
			return fmt.Errorf("inserting prediction: %w", err)
		}

		for i, p := range polygons {
			wkb, err := ewkb.Marshal(p.Geometry, types.SRIDNAD83)
			if err != nil {
				return fmt.Errorf("encoding polygon %d: %w", i, err)
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO c_haines_polygons (geom, severity, c_haines_prediction_id)
				 VALUES (ST_GeomFromEWKB($1), $2, $3)`,
				wkb, int(p.Severity), predictionID,
			); err != nil {
				return fmt.Errorf("inserting polygon %d: %w", i, err)
			}
		}
		return nil
	})
	if errors.Is(err, errDuplicatePrediction) {
		return false, nil
	}
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to store prediction", err)
	}
	run.ID = runID
	return true, nil
}

// ListModelRuns returns runs with model_run_timestamp in [from, to), newest
// first, each with its prediction timestamps in ascending order.
func (r *SeverityRepository) ListModelRuns(ctx context.Context, from, to time.Time) ([]types.ModelRunSummary, error) {
	rows, err := r.db.Query(ctx,
		`SELECT pm.abbreviation, pm.name, mr.model_run_timestamp, p.prediction_timestamp
		 FROM c_haines_model_runs mr
		 JOIN prediction_models pm ON pm.id = mr.prediction_model_id
		 JOIN c_haines_predictions p ON p.model_run_id = mr.id
		 WHERE mr.model_run_timestamp >= $1 AND mr.model_run_timestamp < $2
		 ORDER BY mr.model_run_timestamp DESC, pm.abbreviation, p.prediction_timestamp ASC`,
		from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list model runs", err)
	}
	defer rows.Close()

	runs := []types.ModelRunSummary{}
	for rows.Next() {
		var (
			abbrev, name string
			runTS, predTS time.Time
		)
		if err := rows.Scan(&abbrev, &name, &runTS, &predTS); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan model run", err)
		}
		n := len(runs)
		if n == 0 || string(runs[n-1].Model) != abbrev || !runs[n-1].ModelRunTimestamp.Equal(runTS) {
			runs = append(runs, types.ModelRunSummary{
				Model:             types.ModelAbbrev(abbrev),
				ModelName:         name,
				ModelRunTimestamp: runTS.UTC(),
			})
			n++
		}
		runs[n-1].Predictions = append(runs[n-1].Predictions, predTS.UTC())
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate model runs", err)
	}
	return runs, nil
}

const predictionPolygonsFrom = `
	FROM c_haines_polygons poly
	JOIN c_haines_predictions p ON p.id = poly.c_haines_prediction_id
	JOIN c_haines_model_runs mr ON mr.id = p.model_run_id
	JOIN prediction_models pm ON pm.id = mr.prediction_model_id
	WHERE pm.abbreviation = $1
	  AND mr.model_run_timestamp = $2
	  AND p.prediction_timestamp = $3
	ORDER BY poly.severity ASC, poly.id ASC`

// GetPredictionPolygons returns the stored polygons of one prediction ordered
// by severity. An unknown prediction yields an empty slice.
func (r *SeverityRepository) GetPredictionPolygons(ctx context.Context, model types.ModelAbbrev, runTimestamp, predictionTimestamp time.Time) ([]types.SeverityPolygon, error) {
	rows, err := r.db.Query(ctx,
		`SELECT ST_AsEWKB(poly.geom), poly.severity`+predictionPolygonsFrom,
		string(model), runTimestamp.UTC(), predictionTimestamp.UTC(),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query polygons", err)
	}
	defer rows.Close()

	polygons := []types.SeverityPolygon{}
	for rows.Next() {
		var severity int
		scanner := ewkb.Scanner(nil)
		if err := rows.Scan(scanner, &severity); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan polygon", err)
		}
		poly, ok := scanner.Geometry.(orb.Polygon)
		if !scanner.Valid || !ok {
			return nil, types.NewAppError(types.ErrCodeInternalDB,
				fmt.Sprintf("unexpected geometry %T", scanner.Geometry), nil)
		}
		polygons = append(polygons, types.SeverityPolygon{Geometry: poly, Severity: types.Severity(severity)})
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate polygons", err)
	}
	return polygons, nil
}

// PolygonKML is one stored polygon rendered by PostGIS as a KML geometry
// fragment.
type PolygonKML struct {
	Severity types.Severity
	KML      string
}

// GetPredictionKML returns the polygons of one prediction as KML fragments,
// ordered by severity.
func (r *SeverityRepository) GetPredictionKML(ctx context.Context, model types.ModelAbbrev, runTimestamp, predictionTimestamp time.Time) ([]PolygonKML, error) {
	rows, err := r.db.Query(ctx,
		`SELECT poly.severity, ST_AsKML(poly.geom)`+predictionPolygonsFrom,
		string(model), runTimestamp.UTC(), predictionTimestamp.UTC(),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query kml", err)
	}
	defer rows.Close()

	out := []PolygonKML{}
	for rows.Next() {
		var (
			severity int
			kml      string
		)
		if err := rows.Scan(&severity, &kml); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan kml", err)
		}
		out = append(out, PolygonKML{Severity: types.Severity(severity), KML: kml})
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate kml", err)
	}
	return out, nil
}

// DeleteModelRunsBefore removes up to limit of the oldest model runs with
// model_run_timestamp before cutoff. Predictions and polygons go with them
// through ON DELETE CASCADE.
func (r *SeverityRepository) DeleteModelRunsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM c_haines_model_runs
		 WHERE id IN (
		     SELECT id FROM c_haines_model_runs
		     WHERE model_run_timestamp < $1
		     ORDER BY model_run_timestamp ASC
		     LIMIT $2)`,
		cutoff.UTC(), limit,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete model runs", err)
	}
	return tag.RowsAffected(), nil
}
