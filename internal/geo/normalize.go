package geo

import (
	"math"
	"strings"

	"github.com/ctessum/geom/proj"
	"github.com/rotisserie/eris"

	"github.com/sells-group/hotspot-cli/internal/model"
)

// Normalizer projects geographic coordinates into a planar metric CRS.
// It is immutable and safe for concurrent use.
type Normalizer struct {
	source    string
	target    string
	utm       bool
	transform proj.Transformer
	inverse   proj.Transformer
}

// NewNormalizer parses both coordinate systems. The source must be
// geographic and the target must be projected with metre units.
func NewNormalizer(sourceCRS, targetCRS string) (*Normalizer, error) {
	srcDef, err := ResolveCRS(sourceCRS)
	if err != nil {
		return nil, err
	}
	tgtDef, err := ResolveCRS(targetCRS)
	if err != nil {
		return nil, err
	}

	src, err := proj.Parse(srcDef)
	if err != nil {
		return nil, model.NewInvalidParameter(model.StageNormalize, "source_crs", sourceCRS, err.Error())
	}
	if src.Name != "longlat" {
		return nil, model.NewInvalidParameter(model.StageNormalize, "source_crs", sourceCRS, "must be geographic (longlat)")
	}

	tgt, err := proj.Parse(tgtDef)
	if err != nil {
		return nil, model.NewInvalidParameter(model.StageNormalize, "target_crs", targetCRS, err.Error())
	}
	if tgt.Name == "longlat" {
		return nil, model.NewInvalidParameter(model.StageNormalize, "target_crs", targetCRS, "must be a projected system")
	}
	if tgt.ToMeter > 1.0000001 || tgt.ToMeter < 0.999999 {
		return nil, model.NewInvalidParameter(model.StageNormalize, "target_crs", targetCRS, "units must be metres")
	}

	trans, err := src.NewTransform(tgt)
	if err != nil {
		return nil, eris.Wrap(err, "normalize: create transform")
	}
	inv, err := tgt.NewTransform(src)
	if err != nil {
		return nil, eris.Wrap(err, "normalize: create inverse transform")
	}

	return &Normalizer{
		source:    srcDef,
		target:    tgtDef,
		utm:       strings.Contains(tgtDef, "+proj=utm"),
		transform: trans,
		inverse:   inv,
	}, nil
}

// Target returns the PROJ.4 definition of the planar CRS.
func (n *Normalizer) Target() string { return n.target }

// Normalize projects events in order. The first point outside the
// projection's domain aborts the call with an InvalidCoordinateError.
// Events without a weight get model.DefaultEventWeight; an explicit zero
// is kept.
func (n *Normalizer) Normalize(points []model.RawEvent) ([]model.Event, error) {
	out := make([]model.Event, len(points))
	for i, p := range points {
		pos, err := n.project(i, p.Lon, p.Lat)
		if err != nil {
			return nil, err
		}
		w := model.DefaultEventWeight
		if p.Weight != nil {
			w = *p.Weight
		}
		out[i] = model.Event{Position: pos, Weight: w}
	}
	return out, nil
}

// NormalizeLine projects a polyline given as [lon, lat] pairs.
func (n *Normalizer) NormalizeLine(coords [][2]float64) ([]model.Point2D, error) {
	out := make([]model.Point2D, len(coords))
	for i, c := range coords {
		pos, err := n.project(i, c[0], c[1])
		if err != nil {
			return nil, err
		}
		out[i] = pos
	}
	return out, nil
}

func (n *Normalizer) project(i int, lon, lat float64) (model.Point2D, error) {
	if err := checkLonLat(i, lon, lat); err != nil {
		return model.Point2D{}, err
	}
	if n.utm && (lat < utmMinLat || lat > utmMaxLat) {
		return model.Point2D{}, &model.InvalidCoordinateError{Index: i, Lon: lon, Lat: lat, Reason: "latitude outside the UTM band [-80, 84]"}
	}
	x, y, err := n.transform(lon, lat)
	if err != nil {
		return model.Point2D{}, &model.InvalidCoordinateError{Index: i, Lon: lon, Lat: lat, Reason: err.Error()}
	}
	if math.IsNaN(x) || math.IsInf(x, 0) || math.IsNaN(y) || math.IsInf(y, 0) {
		return model.Point2D{}, &model.InvalidCoordinateError{Index: i, Lon: lon, Lat: lat, Reason: "projection produced a non-finite result"}
	}
	return model.Pt(x, y), nil
}

// Unproject maps a planar point back to [lon, lat] degrees.
func (n *Normalizer) Unproject(p model.Point2D) (lon, lat float64, err error) {
	lon, lat, err = n.inverse(p.X, p.Y)
	if err != nil {
		return 0, 0, eris.Wrap(err, "normalize: unproject")
	}
	return lon, lat, nil
}
