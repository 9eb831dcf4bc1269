// Package forecasts describes the Environment Canada models the poller reads
// and fetches their GRIB2 files from the MSC Datamart.
package forecasts

import (
	"fmt"
	"strings"
	"time"

	"github.com/abschwenker/wps/internal/types"
)

// DefaultDatamartURL is the public MSC Datamart host.
const DefaultDatamartURL = "https://dd.weather.gc.ca"

// Levels holds one value per input layer.
type Levels struct {
	T700 string
	T850 string
	DEPR string
}

// ModelSpec is the cadence and file naming of one model.
type ModelSpec struct {
	Model      types.ModelAbbrev
	Name       string
	Projection types.Projection
	RunHours   []int
	MaxHour    int
	HourStep   int
	Levels     Levels
	// CRS is the proj4 definition of the grid. It is used when a file
	// carries no projection of its own.
	CRS string

	dir  string // printf: run hour, prediction hour
	file string // printf: level, date, run hour, prediction hour
}

// Grid definitions of the published GRIB2 files. All models use a sphere of
// radius 6371229 m; the polar-stereographic grids are true at 60N.
const (
	CRSGlobalLatLon   = "+proj=longlat +R=6371229 +no_defs"
	CRSRegionalPS10km = "+proj=stere +lat_0=90 +lat_ts=60 +lon_0=249 +x_0=0 +y_0=0 +R=6371229 +units=m +no_defs"
	CRSHRDPSPS2p5km   = "+proj=stere +lat_0=90 +lat_ts=60 +lon_0=252 +x_0=0 +y_0=0 +R=6371229 +units=m +no_defs"
)

var catalogue = map[types.ModelAbbrev]ModelSpec{
	types.ModelGDPS: {
		Model:      types.ModelGDPS,
		Name:       "Global Deterministic Prediction System",
		Projection: types.ProjectionLatLon15x15,
		RunHours:   []int{0, 12},
		MaxHour:    240,
		HourStep:   3,
		Levels:     Levels{T700: "TMP_ISBL_700", T850: "TMP_ISBL_850", DEPR: "DEPR_ISBL_850"},
		CRS:        CRSGlobalLatLon,
		dir:        "/model_gem_global/15km/grib2/lat_lon/%02d/%03d/",
		file:       "CMC_glb_%s_latlon.15x.15_%s%02d_P%03d.grib2",
	},
	types.ModelRDPS: {
		Model:      types.ModelRDPS,
		Name:       "Regional Deterministic Prediction System",
		Projection: types.ProjectionPS10km,
		RunHours:   []int{0, 6, 12, 18},
		MaxHour:    84,
		HourStep:   1,
		Levels:     Levels{T700: "TMP_ISBL_700", T850: "TMP_ISBL_850", DEPR: "DEPR_ISBL_850"},
		CRS:        CRSRegionalPS10km,
		dir:        "/model_gem_regional/10km/grib2/%02d/%03d/",
		file:       "CMC_reg_%s_ps10km_%s%02d_P%03d.grib2",
	},
	types.ModelHRDPS: {
		Model:      types.ModelHRDPS,
		Name:       "High Resolution Deterministic Prediction System",
		Projection: types.ProjectionPS2p5km,
		RunHours:   []int{0, 6, 12, 18},
		MaxHour:    48,
		HourStep:   1,
		Levels:     Levels{T700: "TMP_ISBL_0700", T850: "TMP_ISBL_0850", DEPR: "DEPR_ISBL_0850"},
		CRS:        CRSHRDPSPS2p5km,
		dir:        "/model_hrdps/continental/grib2/%02d/%03d/",
		file:       "CMC_hrdps_continental_%s_ps2.5km_%s%02d_P%03d-00.grib2",
	},
}

// Lookup returns the ModelSpec for model. An unknown model is a configuration
// error.
func Lookup(model types.ModelAbbrev) (ModelSpec, error) {
	spec, ok := catalogue[model]
	if !ok {
		return ModelSpec{}, types.NewAppError(types.ErrCodeConfigUnknownModel,
			fmt.Sprintf("unknown model %q", model), nil)
	}
	return spec, nil
}

// All returns the ModelSpec of every supported model in types.AllModels order.
func All() []ModelSpec {
	out := make([]ModelSpec, 0, len(types.AllModels))
	for _, m := range types.AllModels {
		out = append(out, catalogue[m])
	}
	return out
}

// PredictionHours lists the forecast hours of one run, from 0 to MaxHour.
func (m ModelSpec) PredictionHours() []int {
	hours := make([]int, 0, m.MaxHour/m.HourStep+1)
	for h := 0; h <= m.MaxHour; h += m.HourStep {
		hours = append(hours, h)
	}
	return hours
}

// AdjustModelDay returns the day whose runHour run is the latest one that
// could exist at now: before runHour UTC that is yesterday's run.
func AdjustModelDay(now time.Time, runHour int) time.Time {
	now = now.UTC()
	if now.Hour() < runHour {
		return now.AddDate(0, 0, -1)
	}
	return now
}

// Unit identifies the files and timestamps of one prediction hour.
type Unit struct {
	Model               types.ModelAbbrev
	RunHour             int
	PredictionHour      int
	ModelRunTimestamp   time.Time
	PredictionTimestamp time.Time
	URLs                Levels
	CRS                 string
}

// Unit builds the unit for runHour/predictionHour relative to now.
func (m ModelSpec) Unit(baseURL string, now time.Time, runHour, predictionHour int) Unit {
	day := AdjustModelDay(now, runHour)
	runTS := time.Date(day.Year(), day.Month(), day.Day(), runHour, 0, 0, 0, time.UTC)
	date := runTS.Format("20060102")
	dir := strings.TrimSuffix(baseURL, "/") + fmt.Sprintf(m.dir, runHour, predictionHour)
	url := func(level string) string {
		return dir + fmt.Sprintf(m.file, level, date, runHour, predictionHour)
	}
	return Unit{
		Model:               m.Model,
		RunHour:             runHour,
		PredictionHour:      predictionHour,
		ModelRunTimestamp:   runTS,
		PredictionTimestamp: runTS.Add(time.Duration(predictionHour) * time.Hour),
		CRS:                 m.CRS,
		URLs: Levels{
			T700: url(m.Levels.T700),
			T850: url(m.Levels.T850),
			DEPR: url(m.Levels.DEPR),
		},
	}
}

// UnitFor looks up model and builds its unit.
func UnitFor(baseURL string, model types.ModelAbbrev, now time.Time, runHour, predictionHour int) (Unit, error) {
	spec, err := Lookup(model)
	if err != nil {
		return Unit{}, err
	}
	return spec.Unit(baseURL, now, runHour, predictionHour), nil
}
