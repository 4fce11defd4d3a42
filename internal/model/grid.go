package model

import (
	"math"

	"github.com/rotisserie/eris"
)

// CellRef identifies a cell by (row, col) within one Grid.
type CellRef struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Less orders refs by row, then column.
func (r CellRef) Less(o CellRef) bool {
	if r.Row != o.Row {
		return r.Row < o.Row
	}
	return r.Col < o.Col
}

// GridCell is one square cell of a Grid. Its density is unset until the
// density estimator runs and is then set exactly once.
type GridCell struct {
	Row        int     `json:"row"`
	Col        int     `json:"col"`
	Centroid   Point2D `json:"centroid"`
	SideLength float64 `json:"side_length"`

	density    float64
	hasDensity bool
}

// Ref returns the cell's (row, col) identifier.
func (c *GridCell) Ref() CellRef { return CellRef{Row: c.Row, Col: c.Col} }

// Density returns the cell's density and whether it has been set.
func (c *GridCell) Density() (float64, bool) { return c.density, c.hasDensity }

// Bounds returns the square covered by the cell.
func (c *GridCell) Bounds() BBox {
	h := c.SideLength / 2
	return BBox{MinX: c.Centroid.X - h, MinY: c.Centroid.Y - h, MaxX: c.Centroid.X + h, MaxY: c.Centroid.Y + h}
}

// Grid owns a row-major array of equal square cells that exactly tile
// Region. Region may be wider than Source, the bounding box the grid was
// built from, because extents are rounded up to whole cells.
type Grid struct {
	Region     Region  `json:"region"`
	Source     BBox    `json:"source"`
	SideLength float64 `json:"side_length"`
	Rows       int     `json:"rows"`
	Cols       int     `json:"cols"`

	cells      []GridCell
	hasDensity bool
}

// NewGrid takes ownership of cells, which must be rows×cols long and in
// row-major order.
func NewGrid(region Region, source BBox, side float64, rows, cols int, cells []GridCell) (*Grid, error) {
	if rows <= 0 || cols <= 0 {
		return nil, eris.Errorf("grid: invalid dimensions %dx%d", rows, cols)
	}
	if len(cells) != rows*cols {
		return nil, eris.Errorf("grid: got %d cells for %dx%d grid", len(cells), rows, cols)
	}
	return &Grid{
		Region:     region,
		Source:     source,
		SideLength: side,
		Rows:       rows,
		Cols:       cols,
		cells:      cells,
	}, nil
}

// Len returns the number of cells.
func (g *Grid) Len() int { return len(g.cells) }

// At returns the i-th cell in row-major order.
func (g *Grid) At(i int) *GridCell { return &g.cells[i] }

// Cell returns the cell at (row, col), or nil when out of range.
func (g *Grid) Cell(row, col int) *GridCell {
	if row < 0 || row >= g.Rows || col < 0 || col >= g.Cols {
		return nil
	}
	return &g.cells[row*g.Cols+col]
}

// CellArea returns side_length².
func (g *Grid) CellArea() float64 { return g.SideLength * g.SideLength }

// Area returns the area of the (widened) region tiled by the grid.
func (g *Grid) Area() float64 { return float64(g.Rows*g.Cols) * g.CellArea() }

// HasDensities reports whether the density estimator has populated the grid.
func (g *Grid) HasDensities() bool { return g.hasDensity }

// Densities returns a copy of all cell densities in row-major order.
func (g *Grid) Densities() []float64 {
	out := make([]float64, len(g.cells))
	for i := range g.cells {
		out[i] = g.cells[i].density
	}
	return out
}

// Locate returns the cell containing p. Points on the region's upper edges
// belong to the last row/column.
func (g *Grid) Locate(p Point2D) (CellRef, bool) {
	b := g.Region.BBox
	if !b.Contains(p) {
		return CellRef{}, false
	}
	col := int(math.Floor((p.X - b.MinX) / g.SideLength))
	row := int(math.Floor((p.Y - b.MinY) / g.SideLength))
	col = min(max(col, 0), g.Cols-1)
	row = min(max(row, 0), g.Rows-1)
	return CellRef{Row: row, Col: col}, true
}

// WithDensities returns a copy of g whose cells carry values (row-major).
// Densities are write-once: a grid that already has densities is rejected.
func (g *Grid) WithDensities(values []float64) (*Grid, error) {
	if g.hasDensity {
		return nil, eris.New("grid: densities already set")
	}
	if len(values) != len(g.cells) {
		return nil, eris.Errorf("grid: got %d densities for %d cells", len(values), len(g.cells))
	}
	cells := make([]GridCell, len(g.cells))
	copy(cells, g.cells)
	for i := range cells {
		cells[i].density = values[i]
		cells[i].hasDensity = true
	}
	out := *g
	out.cells = cells
	out.hasDensity = true
	return &out, nil
}
