package roads

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultNameField is the street-name attribute of TIGER/Line road files.
const DefaultNameField = "FULLNAME"

// Shapefile reads PolyLine roads from a .shp file, a .zip holding one, or
// an http(s) URL to such a zip. Coordinates must be lon/lat.
type Shapefile struct {
	Path      string
	NameField string // default DefaultNameField
	IDField   string // optional; record number when empty
	TempDir   string // download and extraction area; default os.TempDir()

	HTTPClient *http.Client
}

// Fetch implements Source. Each part of a multi-part PolyLine becomes its
// own segment.
func (s Shapefile) Fetch(ctx context.Context) ([]Segment, error) {
	log := zap.L().With(zap.String("component", "roads.shapefile"), zap.String("path", s.Path))

	shpPath, cleanup, err := s.resolve(ctx)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "roads: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	nameField := s.NameField
	if nameField == "" {
		nameField = DefaultNameField
	}
	nameIdx := fieldIndex(reader, nameField)
	if nameIdx < 0 {
		return nil, eris.Errorf("roads: shapefile has no %s field", nameField)
	}
	idIdx := -1
	if s.IDField != "" {
		if idIdx = fieldIndex(reader, s.IDField); idIdx < 0 {
			return nil, eris.Errorf("roads: shapefile has no %s field", s.IDField)
		}
	}

	var segs []Segment
	var skipped int
	for rec := 0; reader.Next(); rec++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_, shape := reader.Shape()
		line, ok := shape.(*shp.PolyLine)
		if !ok {
			skipped++
			continue
		}
		id := fmt.Sprintf("shp:%d", rec)
		if idIdx >= 0 {
			id = strings.TrimSpace(reader.Attribute(idIdx))
		}
		name := strings.TrimSpace(reader.Attribute(nameIdx))
		for i, part := range polylineParts(line) {
			pid := id
			if line.NumParts > 1 {
				pid = fmt.Sprintf("%s/%d", id, i)
			}
			segs = append(segs, Segment{ID: pid, Name: name, Coords: part})
		}
	}

	log.Info("roads: shapefile loaded", zap.Int("segments", len(segs)), zap.Int("skipped_shapes", skipped))
	return segs, nil
}

// resolve returns a local .shp path, downloading and extracting as needed.
func (s Shapefile) resolve(ctx context.Context) (string, func(), error) {
	noop := func() {}
	path := s.Path
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".shp") {
		return path, noop, nil
	}

	base := s.TempDir
	if base == "" {
		base = os.TempDir()
	}
	work, err := os.MkdirTemp(base, "roads-shp-")
	if err != nil {
		return "", noop, eris.Wrap(err, "roads: create work dir")
	}
	cleanup := func() { _ = os.RemoveAll(work) }

	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		client := s.HTTPClient
		if client == nil {
			client = http.DefaultClient
		}
		zipPath := filepath.Join(work, "roads.zip")
		if err := downloadFile(ctx, client, path, zipPath); err != nil {
			cleanup()
			return "", noop, eris.Wrapf(err, "roads: download %s", path)
		}
		path = zipPath
	} else if !strings.HasSuffix(lower, ".zip") {
		cleanup()
		return "", noop, eris.Errorf("roads: unsupported shapefile path %q (want .shp, .zip or URL)", s.Path)
	}

	if err := extractZIP(path, work); err != nil {
		cleanup()
		return "", noop, eris.Wrap(err, "roads: extract shapefile zip")
	}
	shpPath, err := findFileByExt(work, ".shp")
	if err != nil {
		cleanup()
		return "", noop, eris.Wrap(err, "roads: find .shp")
	}
	return shpPath, cleanup, nil
}

// polylineParts splits a PolyLine into its parts as [lon, lat] pairs.
func polylineParts(p *shp.PolyLine) [][][2]float64 {
	if p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}
	parts := make([][][2]float64, 0, p.NumParts)
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if start >= end {
			continue
		}
		coords := make([][2]float64, 0, end-start)
		for _, pt := range p.Points[start:end] {
			coords = append(coords, [2]float64{pt.X, pt.Y})
		}
		parts = append(parts, coords)
	}
	return parts
}

func downloadFile(ctx context.Context, client *http.Client, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return eris.Wrap(err, "build request")
	}
	resp, err := client.Do(req)
	if err != nil {
		return eris.Wrap(err, "download")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("download returned status %d", resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return eris.Wrap(err, "create file")
	}
	defer f.Close() //nolint:errcheck

	if _, err := io.Copy(f, resp.Body); err != nil {
		return eris.Wrap(err, "write file")
	}
	return nil
}

// extractZIP flattens the archive into destDir.
func extractZIP(zipPath, destDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return eris.Wrap(err, "open zip")
	}
	defer r.Close() //nolint:errcheck

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if err := extractEntry(f, filepath.Join(destDir, filepath.Base(f.Name))); err != nil {
			return err
		}
	}
	return nil
}

func extractEntry(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return eris.Wrapf(err, "open zip entry %s", f.Name)
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(dest)
	if err != nil {
		return eris.Wrapf(err, "create %s", dest)
	}
	defer out.Close() //nolint:errcheck

	if _, err := io.Copy(out, rc); err != nil {
		return eris.Wrapf(err, "extract %s", f.Name)
	}
	return nil
}

func findFileByExt(dir, ext string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", eris.Wrap(err, "read directory")
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ext) {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", eris.Errorf("no %s file found in %s", ext, dir)
}

// fieldIndex returns the index of a named DBF field, or -1.
func fieldIndex(reader *shp.Reader, name string) int {
	for i, f := range reader.Fields() {
		if strings.EqualFold(strings.TrimRight(f.String(), "\x00"), name) {
			return i
		}
	}
	return -1
}
