package model

import "math"

// Region is the bounded study area in a planar CRS.
type Region struct {
	BBox BBox   `json:"bbox"`
	CRS  string `json:"crs"`
}

// NewRegion validates bbox and returns a Region. The box must have positive,
// finite width and height.
func NewRegion(bbox BBox, crs string) (Region, error) {
	names := [4]string{"min_x", "min_y", "max_x", "max_y"}
	for i, v := range [4]float64{bbox.MinX, bbox.MinY, bbox.MaxX, bbox.MaxY} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Region{}, NewInvalidParameter(StageRegion, names[i], v, "must be finite")
		}
	}
	if bbox.MaxX <= bbox.MinX {
		return Region{}, NewInvalidParameter(StageRegion, "max_x", bbox.MaxX, "must be greater than min_x")
	}
	if bbox.MaxY <= bbox.MinY {
		return Region{}, NewInvalidParameter(StageRegion, "max_y", bbox.MaxY, "must be greater than min_y")
	}
	return Region{BBox: bbox, CRS: crs}, nil
}

// Area returns the area of the region's bounding box.
func (r Region) Area() float64 { return r.BBox.Area() }
