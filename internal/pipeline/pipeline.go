// Package pipeline runs the hotspot stages in order: normalize, grid,
// density, select and attribute.
package pipeline

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/hotspot-cli/internal/density"
	"github.com/sells-group/hotspot-cli/internal/geo"
	"github.com/sells-group/hotspot-cli/internal/grid"
	"github.com/sells-group/hotspot-cli/internal/hotspot"
	"github.com/sells-group/hotspot-cli/internal/model"
	"github.com/sells-group/hotspot-cli/internal/store"
	"github.com/sells-group/hotspot-cli/internal/streets"
)

// AutoCRS asks the pipeline to pick a UTM zone from the events.
const AutoCRS = "auto"

// Config holds the parameters of one run.
type Config struct {
	SideLength float64
	// Bandwidth in metres. Zero selects it from the events with
	// BandwidthMethod.
	Bandwidth       float64
	BandwidthMethod density.BandwidthMethod
	Kernel          density.Kernel
	Scale           density.Scale
	// BudgetFraction defaults to hotspot.DefaultBudgetFraction.
	BudgetFraction float64
	// MaxAttributionDistance defaults to SideLength.
	MaxAttributionDistance float64
	Workers                int
	AllowEmpty             bool

	// Region fixes the study area in planar coordinates. LonLatBounds
	// fixes it in degrees (MinX=west, MinY=south). With neither, the area
	// is the events' bounding box grown by RegionMargin.
	Region       *model.BBox
	LonLatBounds *model.BBox
	RegionMargin float64

	SourceCRS string // default WGS84
	TargetCRS string // default AutoCRS
}

func (c Config) withDefaults() Config {
	if c.BudgetFraction == 0 {
		c.BudgetFraction = hotspot.DefaultBudgetFraction
	}
	if c.Kernel == "" {
		c.Kernel = density.Gaussian
	}
	if c.SourceCRS == "" {
		c.SourceCRS = geo.WGS84
	}
	if c.TargetCRS == "" {
		c.TargetCRS = AutoCRS
	}
	return c
}

// RoadLoader supplies the road network projected through a normalizer.
type RoadLoader interface {
	Load(ctx context.Context, norm *geo.Normalizer) ([]model.StreetSegment, error)
}

// Input is the geographic input of Run.
type Input struct {
	Events []model.RawEvent
	Roads  RoadLoader
	// Holdout events, when present, are scored against the selected
	// hotspots but do not contribute to the density surface.
	Holdout []model.RawEvent
}

// PlanarInput is the input of RunPlanar, already in a planar CRS.
type PlanarInput struct {
	Events   []model.Event
	Segments []model.StreetSegment
	Holdout  []model.Event
	CRS      string
}

// Result is the output of a run.
type Result struct {
	RunID       string              `json:"run_id,omitempty"`
	TargetCRS   string              `json:"target_crs"`
	Bandwidth   float64             `json:"bandwidth"`
	Grid        *model.Grid         `json:"-"`
	Hotspots    *model.HotspotSet   `json:"hotspots"`
	Attribution *model.Attribution  `json:"attribution"`
	Stats       density.Stats       `json:"stats"`
	Evaluation  *hotspot.Evaluation `json:"evaluation,omitempty"`
	Phases      []model.PhaseResult `json:"phases"`
	Events      int                 `json:"events"`
	Streets     int                 `json:"streets"`
	Duration    time.Duration       `json:"duration"`
	Normalizer  *geo.Normalizer     `json:"-"`
	Params      model.RunParams     `json:"params"`
}

// Summary returns the aggregate counts persisted with the run.
func (r *Result) Summary() model.RunSummary {
	s := model.RunSummary{
		Events:      r.Events,
		Streets:     r.Streets,
		DurationMs:  r.Duration.Milliseconds(),
		MaxDensity:  r.Stats.Max,
		MeanDensity: r.Stats.Mean,
		Phases:      r.Phases,
	}
	if r.Grid != nil {
		s.Cells = r.Grid.Len()
	}
	if r.Hotspots != nil {
		s.Hotspots = r.Hotspots.Len()
		s.CoveredArea = r.Hotspots.CoveredArea
		s.RegionArea = r.Hotspots.RegionArea
	}
	if r.Attribution != nil {
		s.Excluded = r.Attribution.Excluded
	}
	return s
}

// Pipeline runs the hotspot stages. It holds no per-run state and may be
// reused across runs.
type Pipeline struct {
	cfg   Config
	store store.Store
}

// New creates a Pipeline. st may be nil, in which case runs are not
// recorded.
func New(cfg Config, st store.Store) *Pipeline {
	return &Pipeline{cfg: cfg.withDefaults(), store: st}
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Run projects the events and road network, then runs every stage.
func (p *Pipeline) Run(ctx context.Context, in Input) (*Result, error) {
	res := &Result{}
	r := p.newRun(res)

	// A failed resolution is reported by the normalize phase so the run
	// is still recorded, under the configured target.
	target, targetErr := p.resolveTarget(in)
	if targetErr != nil {
		target = p.cfg.TargetCRS
	}
	res.Params = p.params(target)
	if err := r.begin(ctx, res.Params); err != nil {
		return nil, err
	}

	var planar PlanarInput
	err := r.phase("1_normalize", func() error {
		if targetErr != nil {
			return targetErr
		}
		norm, err := geo.NewNormalizer(p.cfg.SourceCRS, target)
		if err != nil {
			return err
		}
		res.Normalizer = norm
		res.TargetCRS = norm.Target()
		planar.CRS = norm.Target()

		if planar.Events, err = norm.Normalize(in.Events); err != nil {
			return err
		}
		if planar.Holdout, err = norm.Normalize(in.Holdout); err != nil {
			return err
		}
		if in.Roads != nil {
			if planar.Segments, err = in.Roads.Load(ctx, norm); err != nil {
				return eris.Wrap(err, "pipeline: load roads")
			}
		}
		return nil
	})
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	if err := p.compute(ctx, r, planar); err != nil {
		return nil, r.fail(ctx, err)
	}
	r.complete(ctx)
	return res, nil
}

// resolveTarget returns the configured target CRS, or for AutoCRS the UTM
// zone of the lon/lat bounds when set, else of the events' mean position.
func (p *Pipeline) resolveTarget(in Input) (string, error) {
	if !strings.EqualFold(p.cfg.TargetCRS, AutoCRS) {
		return p.cfg.TargetCRS, nil
	}
	if p.cfg.LonLatBounds != nil {
		return geo.AutoTargetBounds(*p.cfg.LonLatBounds)
	}
	return geo.AutoTarget(in.Events)
}

// RunPlanar runs every stage after normalization on planar input.
func (p *Pipeline) RunPlanar(ctx context.Context, in PlanarInput) (*Result, error) {
	res := &Result{TargetCRS: in.CRS, Params: p.params(in.CRS)}
	r := p.newRun(res)
	if err := r.begin(ctx, res.Params); err != nil {
		return nil, err
	}
	if err := p.compute(ctx, r, in); err != nil {
		return nil, r.fail(ctx, err)
	}
	r.complete(ctx)
	return res, nil
}

func (p *Pipeline) params(target string) model.RunParams {
	return model.RunParams{
		SideLength:             p.cfg.SideLength,
		Bandwidth:              p.cfg.Bandwidth,
		BandwidthMethod:        string(p.cfg.BandwidthMethod),
		Kernel:                 string(p.cfg.Kernel),
		BudgetFraction:         p.cfg.BudgetFraction,
		MaxAttributionDistance: p.cfg.MaxAttributionDistance,
		SourceCRS:              p.cfg.SourceCRS,
		TargetCRS:              target,
	}
}

// compute runs grid, density, select and attribute. ctx is checked
// between stages only.
func (p *Pipeline) compute(ctx context.Context, r *run, in PlanarInput) error {
	res := r.res
	res.Events = len(in.Events)
	res.Streets = len(in.Segments)

	if err := ctx.Err(); err != nil {
		return err
	}
	err := r.phase("2_grid", func() error {
		region, err := p.region(in, res.Normalizer)
		if err != nil {
			return err
		}
		res.Grid, err = grid.Build(region, p.cfg.SideLength)
		return err
	})
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	err = r.phase("3_density", func() error {
		h, err := p.bandwidth(in.Events)
		if err != nil {
			return err
		}
		res.Bandwidth = h
		res.Params.Bandwidth = h
		res.Grid, err = density.Estimate(res.Grid, in.Events, density.Params{
			Bandwidth:  h,
			Kernel:     p.cfg.Kernel,
			Workers:    p.cfg.Workers,
			Scale:      p.cfg.Scale,
			AllowEmpty: p.cfg.AllowEmpty,
		})
		if err != nil {
			return err
		}
		res.Stats = density.Summarize(res.Grid)
		return nil
	})
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	err = r.phase("4_select", func() error {
		var err error
		res.Hotspots, err = hotspot.Select(res.Grid, p.cfg.BudgetFraction)
		if err != nil {
			return err
		}
		if len(in.Holdout) > 0 {
			ev := hotspot.Evaluate(res.Hotspots, res.Grid, in.Holdout)
			res.Evaluation = &ev
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return r.phase("5_attribute", func() error {
		idx, err := streets.NewIndex(in.Segments)
		if err != nil {
			return err
		}
		res.Attribution, err = streets.Attribute(res.Hotspots, idx, streets.Options{
			MaxDistance: p.cfg.MaxAttributionDistance,
			Workers:     p.cfg.Workers,
		})
		return err
	})
}

func (p *Pipeline) region(in PlanarInput, norm *geo.Normalizer) (model.Region, error) {
	switch {
	case p.cfg.Region != nil:
		return model.NewRegion(*p.cfg.Region, in.CRS)
	case p.cfg.LonLatBounds != nil:
		if norm == nil {
			return model.Region{}, model.NewInvalidParameter(model.StageRegion, "bounds", nil, "lon/lat bounds need geographic input")
		}
		b := p.cfg.LonLatBounds
		corners, err := norm.NormalizeLine([][2]float64{
			{b.MinX, b.MinY}, {b.MaxX, b.MinY}, {b.MaxX, b.MaxY}, {b.MinX, b.MaxY},
		})
		if err != nil {
			return model.Region{}, err
		}
		box, _ := model.BBoxOf(corners)
		return model.NewRegion(box, in.CRS)
	default:
		return grid.RegionFromEvents(in.Events, p.cfg.RegionMargin, in.CRS)
	}
}

func (p *Pipeline) bandwidth(events []model.Event) (float64, error) {
	h := p.cfg.Bandwidth
	if h != 0 || p.cfg.BandwidthMethod == "" {
		if math.IsNaN(h) || math.IsInf(h, 0) || h <= 0 {
			return 0, model.NewInvalidParameter(model.StageDensity, "bandwidth", h, "must be a finite number > 0, or 0 with a bandwidth method")
		}
		return h, nil
	}
	return density.SelectBandwidth(events, p.cfg.BandwidthMethod)
}

// run tracks one invocation: its store record, phase timings and logger.
type run struct {
	store store.Store
	res   *Result
	log   *zap.Logger
	start time.Time
}

func (p *Pipeline) newRun(res *Result) *run {
	return &run{store: p.store, res: res, log: zap.L().With(zap.String("component", "pipeline")), start: time.Now()}
}

func (r *run) begin(ctx context.Context, params model.RunParams) error {
	if r.store == nil {
		return nil
	}
	rec, err := r.store.CreateRun(ctx, params)
	if err != nil {
		return eris.Wrap(err, "pipeline: create run")
	}
	r.res.RunID = rec.ID
	r.log = r.log.With(zap.String("run_id", rec.ID))
	return nil
}

// phase times fn and records its outcome.
func (r *run) phase(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	pr := model.PhaseResult{Name: name, Status: model.PhaseStatusComplete, DurationMs: time.Since(start).Milliseconds()}
	if err != nil {
		pr.Status = model.PhaseStatusFailed
		pr.Error = err.Error()
		r.log.Error("pipeline: phase failed", zap.String("phase", name), zap.Int64("duration_ms", pr.DurationMs), zap.Error(err))
	} else {
		r.log.Info("pipeline: phase complete", zap.String("phase", name), zap.Int64("duration_ms", pr.DurationMs))
	}
	r.res.Phases = append(r.res.Phases, pr)
	return err
}

// fail records err against the run and returns it unchanged.
func (r *run) fail(ctx context.Context, err error) error {
	if r.store != nil && r.res.RunID != "" {
		// The run context may be the reason for failing.
		if ferr := r.store.FailRun(context.WithoutCancel(ctx), r.res.RunID, err); ferr != nil {
			r.log.Warn("pipeline: failed to record run failure", zap.Error(ferr))
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		r.log.Warn("pipeline: run cancelled", zap.Error(err))
	}
	return err
}

func (r *run) complete(ctx context.Context) {
	res := r.res
	res.Duration = time.Since(r.start)
	if r.store != nil {
		if err := r.store.CompleteRun(ctx, res.RunID, res.Summary(), res.Attribution.Recommendations); err != nil {
			r.log.Warn("pipeline: failed to save run result", zap.Error(err))
		}
	}
	r.log.Info("pipeline: run complete",
		zap.Int("events", res.Events),
		zap.Int("cells", res.Grid.Len()),
		zap.Int("hotspots", res.Hotspots.Len()),
		zap.Int("recommendations", len(res.Attribution.Recommendations)),
		zap.Int("excluded", res.Attribution.Excluded),
		zap.Duration("duration", res.Duration),
	)
}
