package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/hotspot-cli/internal/density"
	"github.com/sells-group/hotspot-cli/internal/geo"
	"github.com/sells-group/hotspot-cli/internal/model"
	"github.com/sells-group/hotspot-cli/internal/roads"
	"github.com/sells-group/hotspot-cli/internal/store"
)

// squareConfig is a 1000 m × 1000 m region with 100 m cells.
func squareConfig() Config {
	return Config{
		SideLength:     100,
		Bandwidth:      50,
		Kernel:         density.Gaussian,
		BudgetFraction: 0.05,
		Region:         &model.BBox{MinX: 0, MinY: 0, MaxX: 1000, MaxY: 1000},
	}
}

func twoStreets() []model.StreetSegment {
	return []model.StreetSegment{
		{ID: "elm", Name: "Elm St", Line: []model.Point2D{model.Pt(0, 560), model.Pt(1000, 560)}},
		{ID: "oak", Name: "Oak St", Line: []model.Point2D{model.Pt(0, 440), model.Pt(1000, 440)}},
	}
}

func singleEvent() []model.Event {
	return []model.Event{{Position: model.Pt(500, 500), Weight: 1}}
}

func refs(rr ...int) []model.CellRef {
	out := make([]model.CellRef, 0, len(rr)/2)
	for i := 0; i+1 < len(rr); i += 2 {
		out = append(out, model.CellRef{Row: rr[i], Col: rr[i+1]})
	}
	return out
}

func TestRunPlanar_EndToEnd(t *testing.T) {
	p := New(squareConfig(), nil)
	res, err := p.RunPlanar(context.Background(), PlanarInput{Events: singleEvent(), Segments: twoStreets()})
	require.NoError(t, err)

	assert.Equal(t, 100, res.Grid.Len())
	assert.Equal(t, refs(4, 4, 4, 5, 5, 4, 5, 5, 3, 4), res.Hotspots.Refs())
	assert.InDelta(t, 50000, res.Hotspots.CoveredArea, 1e-6)

	recs := res.Attribution.Recommendations
	require.Len(t, recs, 2)
	assert.Equal(t, "Elm St", recs[0].StreetName)
	assert.Equal(t, 1, recs[0].Rank)
	assert.Equal(t, refs(5, 4, 5, 5), recs[0].SupportingCells)
	assert.Equal(t, "Oak St", recs[1].StreetName)
	assert.Equal(t, 2, recs[1].Rank)
	assert.Equal(t, refs(3, 4, 4, 4, 4, 5), recs[1].SupportingCells)
	assert.Equal(t, 0, res.Attribution.Excluded)

	var names []string
	for _, ph := range res.Phases {
		names = append(names, ph.Name)
		assert.Equal(t, model.PhaseStatusComplete, ph.Status)
	}
	assert.Equal(t, []string{"2_grid", "3_density", "4_select", "5_attribute"}, names)

	sum := res.Summary()
	assert.Equal(t, 1, sum.Events)
	assert.Equal(t, 2, sum.Streets)
	assert.Equal(t, 5, sum.Hotspots)
	assert.InDelta(t, 1e6, sum.RegionArea, 1e-6)
}

func TestRunPlanar_Idempotent(t *testing.T) {
	events := []model.Event{
		{Position: model.Pt(120, 730), Weight: 1},
		{Position: model.Pt(480, 510), Weight: 2},
		{Position: model.Pt(505, 470), Weight: 1},
		{Position: model.Pt(880, 90), Weight: 1},
	}
	cfg := squareConfig()
	cfg.Workers = 3
	p := New(cfg, nil)

	a, err := p.RunPlanar(context.Background(), PlanarInput{Events: events, Segments: twoStreets()})
	require.NoError(t, err)
	b, err := p.RunPlanar(context.Background(), PlanarInput{Events: events, Segments: twoStreets()})
	require.NoError(t, err)

	assert.Equal(t, a.Grid.Densities(), b.Grid.Densities())
	assert.Equal(t, a.Hotspots.Refs(), b.Hotspots.Refs())
	assert.Equal(t, a.Attribution, b.Attribution)
}

func TestRunPlanar_BudgetBoundaries(t *testing.T) {
	cfg := squareConfig()
	cfg.BudgetFraction = 1.0
	res, err := New(cfg, nil).RunPlanar(context.Background(), PlanarInput{Events: singleEvent(), Segments: twoStreets()})
	require.NoError(t, err)
	assert.Equal(t, 100, res.Hotspots.Len())
	assert.Positive(t, res.Attribution.Excluded, "cells far from both streets are excluded")

	cfg.BudgetFraction = 0.001
	_, err = New(cfg, nil).RunPlanar(context.Background(), PlanarInput{Events: singleEvent(), Segments: twoStreets()})
	var ipe *model.InvalidParameterError
	require.ErrorAs(t, err, &ipe)
	assert.Equal(t, model.StageSelect, ipe.Stage)
}

func TestRunPlanar_InvalidParameters(t *testing.T) {
	tests := []struct {
		name  string
		tweak func(*Config)
		stage model.Stage
		param string
	}{
		{"side length", func(c *Config) { c.SideLength = 0 }, model.StageGrid, "side_length"},
		{"bandwidth", func(c *Config) { c.Bandwidth = -1 }, model.StageDensity, "bandwidth"},
		{"bandwidth method", func(c *Config) { c.Bandwidth = 0; c.BandwidthMethod = "guess" }, model.StageDensity, "bandwidth_method"},
		{"region", func(c *Config) { c.Region = &model.BBox{MaxX: 0, MaxY: 10} }, model.StageRegion, "max_x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := squareConfig()
			tt.tweak(&cfg)
			_, err := New(cfg, nil).RunPlanar(context.Background(), PlanarInput{Events: singleEvent(), Segments: twoStreets()})
			var ipe *model.InvalidParameterError
			require.ErrorAs(t, err, &ipe)
			assert.Equal(t, tt.stage, ipe.Stage)
			assert.Equal(t, tt.param, ipe.Param)
		})
	}
}

func TestRunPlanar_SelectedBandwidth(t *testing.T) {
	cfg := squareConfig()
	cfg.Bandwidth = 0
	cfg.BandwidthMethod = density.Scott
	events := []model.Event{
		{Position: model.Pt(100, 100), Weight: 1},
		{Position: model.Pt(300, 200), Weight: 1},
		{Position: model.Pt(500, 500), Weight: 1},
	}
	res, err := New(cfg, nil).RunPlanar(context.Background(), PlanarInput{Events: events, Segments: twoStreets()})
	require.NoError(t, err)

	want, err := density.SelectBandwidth(events, density.Scott)
	require.NoError(t, err)
	assert.Equal(t, want, res.Bandwidth)
	assert.Equal(t, want, res.Params.Bandwidth)
}

func TestRunPlanar_EmptyEvents(t *testing.T) {
	cfg := squareConfig()
	_, err := New(cfg, nil).RunPlanar(context.Background(), PlanarInput{Segments: twoStreets()})
	var ipe *model.InvalidParameterError
	require.ErrorAs(t, err, &ipe)

	cfg.AllowEmpty = true
	res, err := New(cfg, nil).RunPlanar(context.Background(), PlanarInput{Segments: twoStreets()})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Hotspots.Len())
	assert.Zero(t, res.Stats.Max)
}

func TestRunPlanar_Holdout(t *testing.T) {
	holdout := []model.Event{
		{Position: model.Pt(500, 500), Weight: 1},
		{Position: model.Pt(50, 50), Weight: 1},
	}
	res, err := New(squareConfig(), nil).RunPlanar(context.Background(), PlanarInput{
		Events: singleEvent(), Segments: twoStreets(), Holdout: holdout,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Evaluation)
	assert.Equal(t, 2, res.Evaluation.Events)
	assert.Equal(t, 1, res.Evaluation.Hits)
	assert.InDelta(t, 0.5, res.Evaluation.HitRate, 1e-12)
}

func TestRunPlanar_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(squareConfig(), nil).RunPlanar(ctx, PlanarInput{Events: singleEvent(), Segments: twoStreets()})
	assert.ErrorIs(t, err, context.Canceled)
}

// Around Union Square, Manhattan.
var nycEvents = []model.RawEvent{
	{Lon: -73.9903, Lat: 40.7359},
	{Lon: -73.9905, Lat: 40.7361},
	{Lon: -73.9901, Lat: 40.7360, Weight: model.Weight(2)},
	{Lon: -73.9870, Lat: 40.7340},
}

var nycRoads = roads.Static{
	{ID: "b", Name: "Broadway", Coords: [][2]float64{{-73.9910, 40.7350}, {-73.9895, 40.7370}}},
	{ID: "e14", Name: "E 14th St", Coords: [][2]float64{{-73.9920, 40.7345}, {-73.9860, 40.7335}}},
}

func geoConfig() Config {
	return Config{SideLength: 50, Bandwidth: 60, RegionMargin: 200}
}

func newSQLite(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestRun_Geographic(t *testing.T) {
	st := newSQLite(t)
	p := New(geoConfig(), st)

	res, err := p.Run(context.Background(), Input{Events: nycEvents, Roads: roads.Loader{Source: nycRoads}})
	require.NoError(t, err)

	assert.Contains(t, res.TargetCRS, "+zone=18")
	assert.NotNil(t, res.Normalizer)
	assert.Equal(t, 4, res.Events)
	assert.Equal(t, 2, res.Streets)
	require.NotEmpty(t, res.Attribution.Recommendations)
	assert.Equal(t, "1_normalize", res.Phases[0].Name)

	run, err := st.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.Equal(t, res.Hotspots.Len(), run.Summary.Hotspots)
	assert.Len(t, run.Recommendations, len(res.Attribution.Recommendations))
	assert.Equal(t, res.TargetCRS, run.Params.TargetCRS)
}

func TestRun_FailureIsRecorded(t *testing.T) {
	st := newSQLite(t)
	cfg := geoConfig()
	cfg.TargetCRS = "EPSG:32618"
	p := New(cfg, st)

	events := append([]model.RawEvent{}, nycEvents...)
	events = append(events, model.RawEvent{Lon: -73.99, Lat: 95})

	_, err := p.Run(context.Background(), Input{Events: events, Roads: roads.Loader{Source: nycRoads}})
	var ice *model.InvalidCoordinateError
	require.ErrorAs(t, err, &ice)
	assert.Equal(t, 4, ice.Index)

	runs, err := st.ListRuns(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusFailed, runs[0].Status)
	assert.NotEmpty(t, runs[0].Error)
}

type failingRoads struct{}

func (failingRoads) Load(context.Context, *geo.Normalizer) ([]model.StreetSegment, error) {
	return nil, errors.New("overpass unavailable")
}

func TestRun_RoadLoadError(t *testing.T) {
	_, err := New(geoConfig(), nil).Run(context.Background(), Input{Events: nycEvents, Roads: failingRoads{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overpass unavailable")
}

func TestRun_LonLatBounds(t *testing.T) {
	cfg := geoConfig()
	cfg.LonLatBounds = &model.BBox{MinX: -73.993, MinY: 40.733, MaxX: -73.985, MaxY: 40.738}
	res, err := New(cfg, nil).Run(context.Background(), Input{Events: nycEvents, Roads: roads.Loader{Source: nycRoads}})
	require.NoError(t, err)

	// About 675 m × 555 m rounded up to whole 50 m cells.
	assert.InDelta(t, 14, res.Grid.Cols, 1)
	assert.InDelta(t, 12, res.Grid.Rows, 1)
}

func TestRun_EmptyEventsWithBoundsAutoCRS(t *testing.T) {
	st := newSQLite(t)
	cfg := Config{
		SideLength:   50,
		Bandwidth:    50,
		AllowEmpty:   true,
		LonLatBounds: &model.BBox{MinX: -73.993, MinY: 40.733, MaxX: -73.985, MaxY: 40.738},
	}

	res, err := New(cfg, st).Run(context.Background(), Input{})
	require.NoError(t, err)

	assert.Contains(t, res.TargetCRS, "+zone=18")
	assert.Zero(t, res.Stats.Max)
	require.Positive(t, res.Hotspots.Len())

	// With a flat surface the selection is the row-major prefix of the grid.
	want := make([]model.CellRef, 0, res.Hotspots.Len())
	for i := 0; i < res.Hotspots.Len(); i++ {
		want = append(want, model.CellRef{Row: i / res.Grid.Cols, Col: i % res.Grid.Cols})
	}
	assert.Equal(t, want, res.Hotspots.Refs())

	run, err := st.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
}

func TestRun_AutoCRSWithoutEventsOrBoundsIsRecorded(t *testing.T) {
	st := newSQLite(t)
	cfg := geoConfig()
	cfg.AllowEmpty = true

	_, err := New(cfg, st).Run(context.Background(), Input{})
	var ipe *model.InvalidParameterError
	require.ErrorAs(t, err, &ipe)

	runs, err := st.ListRuns(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusFailed, runs[0].Status)
	assert.Equal(t, AutoCRS, runs[0].Params.TargetCRS)
}
