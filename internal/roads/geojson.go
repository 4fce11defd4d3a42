package roads

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"
)

// GeoJSON reads LineString and MultiLineString features from a
// FeatureCollection file in lon/lat.
type GeoJSON struct {
	Path         string
	NameProperty string // default "name"
}

// Fetch implements Source.
func (g GeoJSON) Fetch(ctx context.Context) ([]Segment, error) {
	f, err := os.Open(g.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "roads: open %s", g.Path)
	}
	defer f.Close() //nolint:errcheck
	return ReadGeoJSON(ctx, f, g.NameProperty)
}

// ReadGeoJSON decodes a FeatureCollection. Features with non-linear
// geometry are skipped. A feature without an id gets "geojson:<index>";
// MultiLineString parts get a "/<part>" suffix.
func ReadGeoJSON(ctx context.Context, r io.Reader, nameProperty string) ([]Segment, error) {
	if nameProperty == "" {
		nameProperty = "name"
	}

	var fc geojson.FeatureCollection
	if err := json.NewDecoder(r).Decode(&fc); err != nil {
		return nil, eris.Wrap(err, "roads: decode GeoJSON")
	}

	var segs []Segment
	var skipped int
	for i, feat := range fc.Features {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		parts, err := lines(feat.Geometry)
		if err != nil {
			skipped++
			continue
		}
		id := feat.ID
		if id == "" {
			id = fmt.Sprintf("geojson:%d", i)
		}
		name, _ := feat.Properties[nameProperty].(string)
		for j, coords := range parts {
			pid := id
			if len(parts) > 1 {
				pid = fmt.Sprintf("%s/%d", id, j)
			}
			segs = append(segs, Segment{ID: pid, Name: name, Coords: coords})
		}
	}

	zap.L().Info("roads: GeoJSON loaded", zap.Int("segments", len(segs)), zap.Int("skipped_features", skipped))
	return segs, nil
}

// WriteGeoJSON writes segments as LineString features with their id and a
// "name" property. Segments with fewer than two points are skipped. The
// output reads back through ReadGeoJSON unchanged.
func WriteGeoJSON(w io.Writer, segs []Segment) error {
	fc := geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(segs))}
	for _, s := range segs {
		if len(s.Coords) < 2 {
			continue
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         s.ID,
			Geometry:   geom.NewLineStringFlat(geom.XY, flatten(s.Coords)),
			Properties: map[string]any{"name": s.Name},
		})
	}
	data, err := json.Marshal(&fc)
	if err != nil {
		return eris.Wrap(err, "roads: encode GeoJSON")
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return eris.Wrap(err, "roads: write GeoJSON")
	}
	return nil
}
