package model

import "fmt"

// Stage names a pipeline stage. Fatal errors carry the stage that raised them.
type Stage string

const (
	StageNormalize Stage = "normalize"
	StageRegion    Stage = "region"
	StageGrid      Stage = "grid"
	StageDensity   Stage = "density"
	StageSelect    Stage = "select"
	StageAttribute Stage = "attribute"
)

// InvalidCoordinateError reports a point that falls outside the valid domain
// of the projection. It aborts normalization.
type InvalidCoordinateError struct {
	Index  int
	Lon    float64
	Lat    float64
	Reason string
}

func (e *InvalidCoordinateError) Error() string {
	return fmt.Sprintf("normalize: invalid coordinate #%d (lon=%g, lat=%g): %s", e.Index, e.Lon, e.Lat, e.Reason)
}

// InvalidParameterError reports malformed configuration. It aborts the run
// before any computation in the failing stage.
type InvalidParameterError struct {
	Stage  Stage
	Param  string
	Value  any
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("%s: invalid parameter %s=%v: %s", e.Stage, e.Param, e.Value, e.Reason)
}

// NewInvalidParameter builds an InvalidParameterError.
func NewInvalidParameter(stage Stage, param string, value any, reason string) *InvalidParameterError {
	return &InvalidParameterError{Stage: stage, Param: param, Value: value, Reason: reason}
}

// NoNearbyStreetError reports a hotspot cell whose nearest street is farther
// than the maximum attribution distance. It is per-cell and non-fatal: the
// cell is dropped from recommendations and counted.
type NoNearbyStreetError struct {
	Cell        CellRef
	Distance    float64 // +Inf when no segment was found at all
	MaxDistance float64
}

func (e *NoNearbyStreetError) Error() string {
	return fmt.Sprintf("attribute: no street within %g of cell (%d,%d) (nearest %g)",
		e.MaxDistance, e.Cell.Row, e.Cell.Col, e.Distance)
}
