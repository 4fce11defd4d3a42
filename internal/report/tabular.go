package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/hotspot-cli/internal/model"
)

var recommendationHeader = []string{"rank", "street_name", "cell_count", "best_density", "min_distance", "cells"}

func recommendationRow(rec model.PatrolRecommendation) []string {
	return []string{
		strconv.Itoa(rec.Rank),
		rec.StreetName,
		strconv.Itoa(rec.CellCount()),
		strconv.FormatFloat(rec.BestDensity, 'g', -1, 64),
		strconv.FormatFloat(rec.MinDistance, 'f', 2, 64),
		cellList(rec.SupportingCells),
	}
}

// cellList renders refs as "row:col" separated by spaces.
func cellList(refs []model.CellRef) string {
	parts := make([]string, len(refs))
	for i, r := range refs {
		parts[i] = fmt.Sprintf("%d:%d", r.Row, r.Col)
	}
	return strings.Join(parts, " ")
}

// WriteCSV writes one row per recommended street.
func WriteCSV(w io.Writer, r *Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(recommendationHeader); err != nil {
		return eris.Wrap(err, "report: write csv header")
	}
	for _, rec := range r.Recommendations {
		if err := cw.Write(recommendationRow(rec)); err != nil {
			return eris.Wrap(err, "report: write csv row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "report: flush csv")
}

// WriteText writes a human-readable summary followed by the ranked streets.
func WriteText(out io.Writer, r *Report) error {
	s := r.Summary
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if r.RunID != "" {
		_, _ = fmt.Fprintf(w, "Run:\t%s\n", r.RunID)
	}
	_, _ = fmt.Fprintf(w, "Events:\t%d\n", s.Events)
	_, _ = fmt.Fprintf(w, "Grid cells:\t%d (%.0f m sides)\n", s.Cells, r.Params.SideLength)
	_, _ = fmt.Fprintf(w, "Bandwidth:\t%.1f m (%s)\n", r.Params.Bandwidth, r.Params.Kernel)
	_, _ = fmt.Fprintf(w, "Hotspots:\t%d cells, %.2f%% of %.0f m²\n", s.Hotspots, pct(s.CoveredArea, s.RegionArea), s.RegionArea)
	_, _ = fmt.Fprintf(w, "Excluded:\t%d cells with no street within %.0f m\n", s.Excluded, r.Params.MaxAttributionDistance)
	if r.Evaluation != nil {
		_, _ = fmt.Fprintf(w, "Holdout hit rate:\t%.1f%% (PAI %.2f)\n", 100*r.Evaluation.HitRate, r.Evaluation.PAI)
	}
	_ = w.Flush()

	if len(r.Recommendations) == 0 {
		_, _ = fmt.Fprintln(out, "\nNo streets recommended.")
		return nil
	}
	_, _ = fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RANK\tSTREET\tCELLS\tBEST_DENSITY")
	_, _ = fmt.Fprintln(w, "----\t------\t-----\t------------")
	for _, rec := range r.Recommendations {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%d\t%.6g\n", rec.Rank, rec.StreetName, rec.CellCount(), rec.BestDensity)
	}
	return eris.Wrap(w.Flush(), "report: write text")
}

func pct(part, whole float64) float64 {
	if whole == 0 {
		return 0
	}
	return 100 * part / whole
}

// WriteXLSX writes a workbook with Recommendations, Hotspots and Summary
// sheets.
func WriteXLSX(path string, r *Report) error {
	f := xlsx.NewFile()

	recs, err := f.AddSheet("Recommendations")
	if err != nil {
		return eris.Wrap(err, "report: add sheet")
	}
	addRow(recs, recommendationHeader...)
	for _, rec := range r.Recommendations {
		row := recs.AddRow()
		row.AddCell().SetInt(rec.Rank)
		row.AddCell().SetString(rec.StreetName)
		row.AddCell().SetInt(rec.CellCount())
		row.AddCell().SetFloat(rec.BestDensity)
		row.AddCell().SetFloat(rec.MinDistance)
		row.AddCell().SetString(cellList(rec.SupportingCells))
	}

	cells, err := f.AddSheet("Hotspots")
	if err != nil {
		return eris.Wrap(err, "report: add sheet")
	}
	addRow(cells, "row", "col", "x", "y", "density", "street")
	for _, c := range r.Hotspots {
		row := cells.AddRow()
		row.AddCell().SetInt(c.Row)
		row.AddCell().SetInt(c.Col)
		row.AddCell().SetFloat(c.Centroid.X)
		row.AddCell().SetFloat(c.Centroid.Y)
		row.AddCell().SetFloat(c.Density)
		row.AddCell().SetString(c.Street)
	}

	sum, err := f.AddSheet("Summary")
	if err != nil {
		return eris.Wrap(err, "report: add sheet")
	}
	s := r.Summary
	for _, kv := range [][2]string{
		{"run_id", r.RunID},
		{"crs", r.CRS},
		{"events", strconv.Itoa(s.Events)},
		{"cells", strconv.Itoa(s.Cells)},
		{"hotspots", strconv.Itoa(s.Hotspots)},
		{"covered_area", strconv.FormatFloat(s.CoveredArea, 'f', -1, 64)},
		{"region_area", strconv.FormatFloat(s.RegionArea, 'f', -1, 64)},
		{"excluded", strconv.Itoa(s.Excluded)},
		{"bandwidth", strconv.FormatFloat(r.Params.Bandwidth, 'f', -1, 64)},
		{"kernel", r.Params.Kernel},
	} {
		addRow(sum, kv[0], kv[1])
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "report: save %s", path)
	}
	return nil
}

func addRow(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func writeXLSXTo(w io.Writer, r *Report) error {
	tmp, err := os.CreateTemp("", "hotspot-*.xlsx")
	if err != nil {
		return eris.Wrap(err, "report: create temp xlsx")
	}
	path := tmp.Name()
	_ = tmp.Close()
	defer os.Remove(path) //nolint:errcheck

	if err := WriteXLSX(path, r); err != nil {
		return err
	}
	in, err := os.Open(path)
	if err != nil {
		return eris.Wrap(err, "report: reopen xlsx")
	}
	defer in.Close() //nolint:errcheck
	_, err = io.Copy(w, in)
	return eris.Wrap(err, "report: copy xlsx")
}
