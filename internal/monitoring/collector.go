// Package monitoring watches recorded hotspot runs and raises webhook
// alerts when runs fail, stall, or leave too many hotspot cells without a
// street.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/hotspot-cli/internal/model"
	"github.com/sells-group/hotspot-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of run health.
type MetricsSnapshot struct {
	// Run metrics (within lookback window).
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsRunning  int     `json:"runs_running"`
	RunsStuck    int     `json:"runs_stuck"`
	FailRate     float64 `json:"fail_rate"`

	// Hotspot metrics over complete runs.
	AvgDurationMs int64   `json:"avg_duration_ms"`
	AvgHotspots   float64 `json:"avg_hotspots"`
	HotspotCells  int     `json:"hotspot_cells"`
	ExcludedCells int     `json:"excluded_cells"`
	ExcludedShare float64 `json:"excluded_share"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// maxRuns caps the runs read per collection.
const maxRuns = 10000

// Collector gathers metrics from the run store.
type Collector struct {
	store      store.Store
	stuckAfter time.Duration
	now        func() time.Time
}

// NewCollector creates a collector. Runs still running after stuckAfter
// count as stuck; zero disables the check.
func NewCollector(st store.Store, stuckAfter time.Duration) *Collector {
	return &Collector{store: st, stuckAfter: stuckAfter, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	filter := store.RunFilter{Limit: maxRuns}
	if lookbackHours > 0 {
		filter.CreatedAfter = now.Add(-time.Duration(lookbackHours) * time.Hour)
	}
	runs, err := c.store.ListRuns(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	var totalDur int64
	var totalHotspots int

	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
			totalDur += r.Summary.DurationMs
			totalHotspots += r.Summary.Hotspots
			snap.HotspotCells += r.Summary.Hotspots
			snap.ExcludedCells += r.Summary.Excluded
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusRunning:
			snap.RunsRunning++
			if c.stuckAfter > 0 && now.Sub(r.CreatedAt) > c.stuckAfter {
				snap.RunsStuck++
			}
		}
	}

	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if snap.RunsComplete > 0 {
		snap.AvgDurationMs = totalDur / int64(snap.RunsComplete)
		snap.AvgHotspots = float64(totalHotspots) / float64(snap.RunsComplete)
	}
	if snap.HotspotCells > 0 {
		snap.ExcludedShare = float64(snap.ExcludedCells) / float64(snap.HotspotCells)
	}

	return snap, nil
}
