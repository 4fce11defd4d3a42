package model

// StreetSegment is one named polyline of the road network, in the same
// planar CRS as the grid.
type StreetSegment struct {
	ID   string    `json:"id"`
	Name string    `json:"name"`
	Line []Point2D `json:"line"`
}

// PatrolRecommendation is a street that should receive additional patrol,
// with the hotspot cells that led to it.
type PatrolRecommendation struct {
	StreetName      string    `json:"street_name" yaml:"street_name"`
	Rank            int       `json:"rank" yaml:"rank"`
	SupportingCells []CellRef `json:"supporting_cells" yaml:"supporting_cells"`
	BestDensity     float64   `json:"best_density" yaml:"best_density"`
	MinDistance     float64   `json:"min_distance" yaml:"min_distance"`
}

// CellCount returns the number of supporting cells.
func (p PatrolRecommendation) CellCount() int { return len(p.SupportingCells) }

// Attribution is the street attributor's output: ranked recommendations
// plus the hotspot cells that could not be attributed to any street.
type Attribution struct {
	Recommendations []PatrolRecommendation `json:"recommendations"`
	Excluded        int                    `json:"excluded"`
	ExcludedCells   []CellRef              `json:"excluded_cells,omitempty"`
}
