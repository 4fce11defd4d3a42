package roads

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

// SRID of the geographic coordinates roads are stored in.
const SRID = 4326

// EncodeEWKB encodes a segment as an EWKB LineString with SRID 4326.
func EncodeEWKB(s Segment) ([]byte, error) {
	if len(s.Coords) < 2 {
		return nil, eris.Errorf("roads: segment %s needs at least 2 points, has %d", s.ID, len(s.Coords))
	}
	ls := geom.NewLineStringFlat(geom.XY, flatten(s.Coords)).SetSRID(SRID)
	data, err := ewkb.Marshal(ls, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrapf(err, "roads: encode segment %s", s.ID)
	}
	return data, nil
}

// DecodeEWKB decodes an EWKB LineString or MultiLineString into one
// coordinate list per line.
func DecodeEWKB(data []byte) ([][][2]float64, error) {
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "roads: decode EWKB")
	}
	return lines(g)
}

// lines extracts [lon, lat] lists from linear geometries.
func lines(g geom.T) ([][][2]float64, error) {
	switch t := g.(type) {
	case *geom.LineString:
		return [][][2]float64{unflatten(t.FlatCoords(), t.Stride())}, nil
	case *geom.MultiLineString:
		out := make([][][2]float64, 0, t.NumLineStrings())
		for i := range t.NumLineStrings() {
			ls := t.LineString(i)
			out = append(out, unflatten(ls.FlatCoords(), ls.Stride()))
		}
		return out, nil
	case nil:
		return nil, eris.New("roads: empty geometry")
	default:
		return nil, eris.Errorf("roads: unsupported geometry %T", g)
	}
}

func flatten(coords [][2]float64) []float64 {
	flat := make([]float64, 0, 2*len(coords))
	for _, c := range coords {
		flat = append(flat, c[0], c[1])
	}
	return flat
}

// unflatten keeps only X and Y of each stride-sized coordinate.
func unflatten(flat []float64, stride int) [][2]float64 {
	if stride < 2 {
		return nil
	}
	out := make([][2]float64, 0, len(flat)/stride)
	for i := 0; i+1 < len(flat); i += stride {
		out = append(out, [2]float64{flat[i], flat[i+1]})
	}
	return out
}
