package roads

import (
	"archive/zip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeRoadShapefile writes a two-record PolyLine shapefile and returns
// the .shp path.
func writeRoadShapefile(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "roads.shp")
	w, err := shp.Create(path, shp.POLYLINE)
	require.NoError(t, err)

	require.NoError(t, w.SetFields([]shp.Field{
		shp.StringField("FULLNAME", 40),
		shp.StringField("LINEARID", 20),
	}))

	elm := shp.NewPolyLine([][]shp.Point{{{X: -74.00, Y: 40.70}, {X: -73.99, Y: 40.70}}})
	row := w.Write(elm)
	require.NoError(t, w.WriteAttribute(int(row), 0, "Elm St"))
	require.NoError(t, w.WriteAttribute(int(row), 1, "L1"))

	oak := shp.NewPolyLine([][]shp.Point{
		{{X: -74.00, Y: 40.60}, {X: -73.99, Y: 40.60}},
		{{X: -73.98, Y: 40.60}, {X: -73.97, Y: 40.60}},
	})
	row = w.Write(oak)
	require.NoError(t, w.WriteAttribute(int(row), 0, "Oak St"))
	require.NoError(t, w.WriteAttribute(int(row), 1, "L2"))

	w.Close()
	return path
}

func zipDir(t *testing.T, dir, dest string) {
	t.Helper()
	out, err := os.Create(dest)
	require.NoError(t, err)
	zw := zip.NewWriter(out)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		f, err := zw.Create("roads/" + e.Name())
		require.NoError(t, err)
		in, err := os.Open(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		_, err = io.Copy(f, in)
		require.NoError(t, err)
		require.NoError(t, in.Close())
	}
	require.NoError(t, zw.Close())
	require.NoError(t, out.Close())
}

func TestShapefile_Fetch(t *testing.T) {
	path := writeRoadShapefile(t, t.TempDir())

	segs, err := Shapefile{Path: path}.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, segs, 3)

	assert.Equal(t, "shp:0", segs[0].ID)
	assert.Equal(t, "Elm St", segs[0].Name)
	assert.Equal(t, [][2]float64{{-74.00, 40.70}, {-73.99, 40.70}}, segs[0].Coords)
	assert.Equal(t, "shp:1/0", segs[1].ID)
	assert.Equal(t, "shp:1/1", segs[2].ID)
	assert.Equal(t, [][2]float64{{-73.98, 40.60}, {-73.97, 40.60}}, segs[2].Coords)
}

func TestShapefile_IDField(t *testing.T) {
	path := writeRoadShapefile(t, t.TempDir())

	segs, err := Shapefile{Path: path, IDField: "LINEARID"}.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "L1", segs[0].ID)
	assert.Equal(t, "L2/1", segs[2].ID)
}

func TestShapefile_MissingField(t *testing.T) {
	path := writeRoadShapefile(t, t.TempDir())

	_, err := Shapefile{Path: path, NameField: "STREET"}.Fetch(context.Background())
	assert.ErrorContains(t, err, "no STREET field")
}

func TestShapefile_ZipAndURL(t *testing.T) {
	src := t.TempDir()
	writeRoadShapefile(t, src)
	zipPath := filepath.Join(t.TempDir(), "roads.zip")
	zipDir(t, src, zipPath)

	segs, err := Shapefile{Path: zipPath, TempDir: t.TempDir()}.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, segs, 3)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, zipPath)
	}))
	defer srv.Close()

	segs, err = Shapefile{Path: srv.URL + "/roads.zip", TempDir: t.TempDir(), HTTPClient: srv.Client()}.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, segs, 3)
}

func TestShapefile_Errors(t *testing.T) {
	_, err := Shapefile{Path: "roads.csv"}.Fetch(context.Background())
	assert.ErrorContains(t, err, "unsupported shapefile path")

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	_, err = Shapefile{Path: srv.URL + "/missing.zip", TempDir: t.TempDir()}.Fetch(context.Background())
	assert.ErrorContains(t, err, "status 404")
}
