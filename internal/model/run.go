package model

import "time"

// RunStatus represents the outcome of a pipeline run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RunParams is the parameter snapshot persisted with a run.
type RunParams struct {
	SideLength             float64 `json:"side_length" yaml:"side_length"`
	Bandwidth              float64 `json:"bandwidth" yaml:"bandwidth"`
	BandwidthMethod        string  `json:"bandwidth_method,omitempty" yaml:"bandwidth_method,omitempty"`
	Kernel                 string  `json:"kernel" yaml:"kernel"`
	BudgetFraction         float64 `json:"budget_fraction" yaml:"budget_fraction"`
	MaxAttributionDistance float64 `json:"max_attribution_distance" yaml:"max_attribution_distance"`
	SourceCRS              string  `json:"source_crs" yaml:"source_crs"`
	TargetCRS              string  `json:"target_crs" yaml:"target_crs"`
}

// RunSummary holds the aggregate counts of a run.
type RunSummary struct {
	Events      int     `json:"events" yaml:"events"`
	Streets     int     `json:"streets" yaml:"streets"`
	Cells       int     `json:"cells" yaml:"cells"`
	Hotspots    int     `json:"hotspots" yaml:"hotspots"`
	CoveredArea float64 `json:"covered_area" yaml:"covered_area"`
	RegionArea  float64 `json:"region_area" yaml:"region_area"`
	Excluded    int     `json:"excluded" yaml:"excluded"`
	DurationMs  int64   `json:"duration_ms" yaml:"duration_ms"`
	MaxDensity  float64 `json:"max_density" yaml:"max_density"`
	MeanDensity float64 `json:"mean_density" yaml:"mean_density"`

	Phases []PhaseResult `json:"phases,omitempty" yaml:"phases,omitempty"`
}

// PhaseStatus is the outcome of one pipeline stage.
type PhaseStatus string

const (
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusFailed   PhaseStatus = "failed"
)

// PhaseResult records the timing and outcome of one stage.
type PhaseResult struct {
	Name       string      `json:"name" yaml:"name"`
	Status     PhaseStatus `json:"status" yaml:"status"`
	DurationMs int64       `json:"duration_ms" yaml:"duration_ms"`
	Error      string      `json:"error,omitempty" yaml:"error,omitempty"`
}

// Run is the persisted record of one pipeline invocation.
type Run struct {
	ID              string                 `json:"id" yaml:"id"`
	Status          RunStatus              `json:"status" yaml:"status"`
	Params          RunParams              `json:"params" yaml:"params"`
	Summary         RunSummary             `json:"summary" yaml:"summary"`
	Recommendations []PatrolRecommendation `json:"recommendations,omitempty" yaml:"recommendations,omitempty"`
	Error           string                 `json:"error,omitempty" yaml:"error,omitempty"`
	CreatedAt       time.Time              `json:"created_at" yaml:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at" yaml:"updated_at"`
}
