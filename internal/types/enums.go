package types

import "strings"

// ModelAbbrev identifies a supported numerical weather prediction model.
type ModelAbbrev string

const (
	ModelGDPS  ModelAbbrev = "GDPS"
	ModelRDPS  ModelAbbrev = "RDPS"
	ModelHRDPS ModelAbbrev = "HRDPS"
)

// AllModels lists the supported models in processing order.
var AllModels = []ModelAbbrev{ModelGDPS, ModelRDPS, ModelHRDPS}

// ParseModel converts a case-insensitive model abbreviation into a
// ModelAbbrev. It returns false for unknown models.
func ParseModel(s string) (ModelAbbrev, bool) {
	m := ModelAbbrev(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllModels {
		if m == known {
			return m, true
		}
	}
	return "", false
}

// Projection names the grid a model is published on. Values match the
// prediction_models.projection column.
type Projection string

const (
	ProjectionLatLon15x15 Projection = "latlon.15x.15"
	ProjectionPS10km      Projection = "ps10km"
	ProjectionPS2p5km     Projection = "ps2.5km"
)

// Severity is the discrete C-Haines class stored with each polygon.
type Severity uint8

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityModerate
	SeverityHigh
)

func (s Severity) String() string {
	switch s {
	case SeverityNone:
		return "none"
	case SeverityLow:
		return "low"
	case SeverityModerate:
		return "moderate"
	case SeverityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// UnitState is the lifecycle state of one (model, model run, prediction hour)
// unit of work.
type UnitState string

const (
	UnitPending          UnitState = "pending"
	UnitSkipped          UnitState = "skipped"
	UnitDownloading      UnitState = "downloading"
	UnitFailedDownload   UnitState = "failed_download"
	UnitProcessing       UnitState = "processing"
	UnitFailedProcessing UnitState = "failed_processing"
	UnitFailedStore      UnitState = "failed_store"
	UnitStored           UnitState = "stored"
)

// Terminal reports whether no further transitions are possible.
func (s UnitState) Terminal() bool {
	switch s {
	case UnitSkipped, UnitFailedDownload, UnitFailedProcessing, UnitFailedStore, UnitStored:
		return true
	default:
		return false
	}
}
