// Package report renders run results as CSV, XLSX, JSON, YAML, GeoJSON
// and plain text.
package report

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/hotspot-cli/internal/hotspot"
	"github.com/sells-group/hotspot-cli/internal/model"
	"github.com/sells-group/hotspot-cli/internal/pipeline"
)

// Report is the exportable view of one run.
type Report struct {
	RunID           string                       `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	GeneratedAt     time.Time                    `json:"generated_at" yaml:"generated_at"`
	CRS             string                       `json:"crs" yaml:"crs"`
	Params          model.RunParams              `json:"params" yaml:"params"`
	Summary         model.RunSummary             `json:"summary" yaml:"summary"`
	Recommendations []model.PatrolRecommendation `json:"recommendations" yaml:"recommendations"`
	Hotspots        []Cell                       `json:"hotspots" yaml:"-"`
	ExcludedCells   []model.CellRef              `json:"excluded_cells,omitempty" yaml:"-"`
	Evaluation      *hotspot.Evaluation          `json:"evaluation,omitempty" yaml:"evaluation,omitempty"`
}

// Cell is one selected hotspot cell with the street it was attributed to.
type Cell struct {
	Row        int           `json:"row"`
	Col        int           `json:"col"`
	Centroid   model.Point2D `json:"centroid"`
	SideLength float64       `json:"side_length"`
	Density    float64       `json:"density"`
	Street     string        `json:"street,omitempty"`
}

// FromResult builds a report from a pipeline result.
func FromResult(res *pipeline.Result) *Report {
	r := &Report{
		RunID:       res.RunID,
		GeneratedAt: time.Now().UTC(),
		CRS:         res.TargetCRS,
		Params:      res.Params,
		Summary:     res.Summary(),
		Evaluation:  res.Evaluation,
	}

	street := map[model.CellRef]string{}
	if res.Attribution != nil {
		r.Recommendations = res.Attribution.Recommendations
		r.ExcludedCells = res.Attribution.ExcludedCells
		for _, rec := range r.Recommendations {
			for _, ref := range rec.SupportingCells {
				street[ref] = rec.StreetName
			}
		}
	}
	if res.Hotspots != nil {
		r.Hotspots = make([]Cell, 0, res.Hotspots.Len())
		for _, c := range res.Hotspots.Cells {
			d, _ := c.Density()
			r.Hotspots = append(r.Hotspots, Cell{
				Row:        c.Row,
				Col:        c.Col,
				Centroid:   c.Centroid,
				SideLength: c.SideLength,
				Density:    d,
				Street:     street[c.Ref()],
			})
		}
	}
	return r
}

// Format is an output format.
type Format string

// Supported formats.
const (
	FormatText    Format = "text"
	FormatCSV     Format = "csv"
	FormatXLSX    Format = "xlsx"
	FormatJSON    Format = "json"
	FormatYAML    Format = "yaml"
	FormatGeoJSON Format = "geojson"
)

// ParseFormat accepts a format name or a file extension.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), ".")); f {
	case "", "txt", FormatText:
		return FormatText, nil
	case "yml":
		return FormatYAML, nil
	case FormatCSV, FormatXLSX, FormatJSON, FormatYAML, FormatGeoJSON:
		return f, nil
	}
	return "", eris.Errorf("report: unknown format %q", s)
}

// FormatFor infers the format from a file name.
func FormatFor(path string) (Format, error) {
	return ParseFormat(filepath.Ext(path))
}

// Write renders r to w. XLSX is written through a temporary file since
// workbooks are zip archives. unproj is only used by GeoJSON and may be nil.
func Write(w io.Writer, f Format, r *Report, unproj Unprojector) error {
	switch f {
	case FormatText:
		return WriteText(w, r)
	case FormatCSV:
		return WriteCSV(w, r)
	case FormatJSON:
		return WriteJSON(w, r)
	case FormatYAML:
		return WriteYAML(w, r)
	case FormatGeoJSON:
		return WriteGeoJSON(w, r, unproj)
	case FormatXLSX:
		return writeXLSXTo(w, r)
	}
	return eris.Errorf("report: unknown format %q", f)
}

// WriteFile renders r to path in the format implied by its extension.
func WriteFile(path string, r *Report, unproj Unprojector) error {
	f, err := FormatFor(path)
	if err != nil {
		return err
	}
	if f == FormatXLSX {
		return WriteXLSX(path, r)
	}
	out, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "report: create %s", path)
	}
	if err := Write(out, f, r, unproj); err != nil {
		_ = out.Close()
		return err
	}
	return eris.Wrapf(out.Close(), "report: close %s", path)
}
