package model

// HotspotSet is the budget-limited selection of highest-density cells.
// Cells point into the Grid that produced them and must be treated as
// read-only.
type HotspotSet struct {
	Cells          []*GridCell `json:"cells"`
	CoveredArea    float64     `json:"covered_area"`
	BudgetFraction float64     `json:"budget_fraction"`
	BudgetArea     float64     `json:"budget_area"`
	RegionArea     float64     `json:"region_area"`
}

// Len returns the number of selected cells.
func (h *HotspotSet) Len() int { return len(h.Cells) }

// CoveredFraction returns CoveredArea / RegionArea.
func (h *HotspotSet) CoveredFraction() float64 {
	if h.RegionArea == 0 {
		return 0
	}
	return h.CoveredArea / h.RegionArea
}

// Refs returns the (row, col) of every selected cell in selection order.
func (h *HotspotSet) Refs() []CellRef {
	out := make([]CellRef, len(h.Cells))
	for i, c := range h.Cells {
		out[i] = c.Ref()
	}
	return out
}

// Contains reports whether ref is among the selected cells.
func (h *HotspotSet) Contains(ref CellRef) bool {
	for _, c := range h.Cells {
		if c.Row == ref.Row && c.Col == ref.Col {
			return true
		}
	}
	return false
}
