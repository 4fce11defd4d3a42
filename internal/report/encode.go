package report

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/hotspot-cli/internal/model"
)

// WriteJSON writes the full report as indented JSON.
func WriteJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(r), "report: encode json")
}

// WriteYAML writes the run parameters, summary and recommendations.
func WriteYAML(w io.Writer, r *Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return eris.Wrap(err, "report: encode yaml")
	}
	return eris.Wrap(enc.Close(), "report: close yaml encoder")
}

// Unprojector maps planar points back to lon/lat degrees.
type Unprojector interface {
	Unproject(p model.Point2D) (lon, lat float64, err error)
}

// WriteGeoJSON writes every hotspot cell as a square Polygon feature. With
// an Unprojector the corners are converted to lon/lat as GeoJSON expects;
// without one the planar coordinates are written unchanged.
func WriteGeoJSON(w io.Writer, r *Report, unproj Unprojector) error {
	fc := geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(r.Hotspots))}
	for _, c := range r.Hotspots {
		ring, err := cellRing(c, unproj)
		if err != nil {
			return err
		}
		props := map[string]any{
			"row":     c.Row,
			"col":     c.Col,
			"density": c.Density,
		}
		if c.Street != "" {
			props["street"] = c.Street
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			Geometry:   geom.NewPolygonFlat(geom.XY, ring, []int{len(ring)}),
			Properties: props,
		})
	}
	data, err := json.Marshal(&fc)
	if err != nil {
		return eris.Wrap(err, "report: encode geojson")
	}
	_, err = w.Write(append(data, '\n'))
	return eris.Wrap(err, "report: write geojson")
}

// cellRing returns the closed, counter-clockwise outline of c as flat
// coordinates.
func cellRing(c Cell, unproj Unprojector) ([]float64, error) {
	h := c.SideLength / 2
	cx, cy := c.Centroid.X, c.Centroid.Y
	corners := []model.Point2D{
		model.Pt(cx-h, cy-h), model.Pt(cx+h, cy-h), model.Pt(cx+h, cy+h), model.Pt(cx-h, cy+h), model.Pt(cx-h, cy-h),
	}
	flat := make([]float64, 0, 2*len(corners))
	for _, p := range corners {
		x, y := p.X, p.Y
		if unproj != nil {
			var err error
			if x, y, err = unproj.Unproject(p); err != nil {
				return nil, eris.Wrapf(err, "report: unproject cell %d:%d", c.Row, c.Col)
			}
		}
		flat = append(flat, x, y)
	}
	return flat, nil
}
