// Package grid partitions a region into a regular array of square cells.
package grid

import (
	"math"

	"go.uber.org/zap"

	"github.com/sells-group/hotspot-cli/internal/model"
)

// countTolerance keeps exact multiples of the side length from being bumped
// up by one cell due to floating-point noise.
const countTolerance = 1e-9

// Build tiles region with square cells of sideLength. Cell counts are the
// ceiling of extent/sideLength, so the last row and column may extend past
// the region's max edges: the returned grid's Region is the widened box
// anchored at (MinX, MinY), and the original box is kept in Grid.Source.
func Build(region model.Region, sideLength float64) (*model.Grid, error) {
	if math.IsNaN(sideLength) || math.IsInf(sideLength, 0) || sideLength <= 0 {
		return nil, model.NewInvalidParameter(model.StageGrid, "side_length", sideLength, "must be a finite number > 0")
	}
	src := region.BBox
	if _, err := model.NewRegion(src, region.CRS); err != nil {
		return nil, err
	}

	cols := cellCount(src.MinX, src.MaxX, sideLength)
	rows := cellCount(src.MinY, src.MaxY, sideLength)
	if float64(rows)*float64(cols) > math.MaxInt32 {
		return nil, model.NewInvalidParameter(model.StageGrid, "side_length", sideLength, "produces too many cells for the region")
	}

	cells := make([]model.GridCell, 0, rows*cols)
	for r := range rows {
		y := src.MinY + (float64(r)+0.5)*sideLength
		for c := range cols {
			cells = append(cells, model.GridCell{
				Row:        r,
				Col:        c,
				Centroid:   model.Pt(src.MinX+(float64(c)+0.5)*sideLength, y),
				SideLength: sideLength,
			})
		}
	}

	widened := model.BBox{
		MinX: src.MinX,
		MinY: src.MinY,
		MaxX: src.MinX + float64(cols)*sideLength,
		MaxY: src.MinY + float64(rows)*sideLength,
	}
	g, err := model.NewGrid(model.Region{BBox: widened, CRS: region.CRS}, src, sideLength, rows, cols, cells)
	if err != nil {
		return nil, err
	}

	zap.L().Debug("grid: built",
		zap.Int("rows", rows),
		zap.Int("cols", cols),
		zap.Float64("side_length", sideLength),
		zap.Float64("widened_x", widened.MaxX-src.MaxX),
		zap.Float64("widened_y", widened.MaxY-src.MaxY),
	)
	return g, nil
}

// cellCount returns the number of cells covering [lo, hi]. The tolerance
// only absorbs noise: the widened edge lo+n*side never falls short of hi.
func cellCount(lo, hi, side float64) int {
	n := (hi - lo) / side
	count := max(int(math.Ceil(n-countTolerance*math.Max(1, n))), 1)
	for lo+float64(count)*side < hi {
		count++
	}
	return count
}

// RegionFromEvents returns the bounding box of the events padded by margin
// on every side. A single event or collinear events need a positive margin
// to form a valid region.
func RegionFromEvents(events []model.Event, margin float64, crs string) (model.Region, error) {
	if math.IsNaN(margin) || math.IsInf(margin, 0) || margin < 0 {
		return model.Region{}, model.NewInvalidParameter(model.StageRegion, "margin", margin, "must be a finite number >= 0")
	}
	bbox, ok := model.BBoxOf(model.Positions(events))
	if !ok {
		return model.Region{}, model.NewInvalidParameter(model.StageRegion, "events", 0, "cannot derive a region from zero events")
	}
	return model.NewRegion(bbox.Expand(margin), crs)
}
