// Package hotspot selects the highest-density cells of a grid under an
// area budget.
package hotspot

import (
	"cmp"
	"math"
	"slices"

	"go.uber.org/zap"

	"github.com/sells-group/hotspot-cli/internal/model"
)

// DefaultBudgetFraction is the share of the region that may be flagged.
const DefaultBudgetFraction = 0.05

// budgetTolerance absorbs float noise when a budget is an exact multiple
// of the cell area.
const budgetTolerance = 1e-9

// Select ranks cells by density descending, breaking ties by (row, col)
// ascending, and takes cells in that order while the covered area stays
// within budgetFraction of the grid's region area. It stops at the first
// cell that would exceed the budget.
//
// The policy is greedy. Cells have equal area, so it maximises the number
// of cells covered, but it does not search for a globally optimal
// connected or street-aware selection.
//
// The region area is the area of the widened region the grid tiles, so a
// fraction of 1 selects every cell. With no signal (all densities zero)
// the selection is still the budget-filling prefix of the tie-break order.
func Select(g *model.Grid, budgetFraction float64) (*model.HotspotSet, error) {
	if math.IsNaN(budgetFraction) || budgetFraction <= 0 || budgetFraction > 1 {
		return nil, model.NewInvalidParameter(model.StageSelect, "budget_fraction", budgetFraction, "must be in (0, 1]")
	}
	if g == nil || !g.HasDensities() {
		return nil, model.NewInvalidParameter(model.StageSelect, "grid", nil, "grid has no densities")
	}

	regionArea := g.Area()
	budget := budgetFraction * regionArea
	cellArea := g.CellArea()
	maxCells := int(math.Floor(budget/cellArea + budgetTolerance))
	if maxCells < 1 {
		return nil, model.NewInvalidParameter(model.StageSelect, "budget_fraction", budgetFraction, "budget is smaller than one cell")
	}
	maxCells = min(maxCells, g.Len())

	ranked := make([]*model.GridCell, g.Len())
	for i := range ranked {
		ranked[i] = g.At(i)
	}
	slices.SortFunc(ranked, compareCells)

	set := &model.HotspotSet{
		Cells:          ranked[:maxCells:maxCells],
		CoveredArea:    float64(maxCells) * cellArea,
		BudgetFraction: budgetFraction,
		BudgetArea:     budget,
		RegionArea:     regionArea,
	}

	zap.L().Info("select: hotspots selected",
		zap.String("stage", string(model.StageSelect)),
		zap.Int("cells", g.Len()),
		zap.Int("hotspots", set.Len()),
		zap.Float64("covered_area", set.CoveredArea),
		zap.Float64("budget_area", budget),
	)
	return set, nil
}

// compareCells orders by density descending, then row, then column.
func compareCells(a, b *model.GridCell) int {
	da, _ := a.Density()
	db, _ := b.Density()
	if c := cmp.Compare(db, da); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Row, b.Row); c != 0 {
		return c
	}
	return cmp.Compare(a.Col, b.Col)
}
