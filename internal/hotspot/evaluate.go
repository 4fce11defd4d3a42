package hotspot

import (
	"github.com/sells-group/hotspot-cli/internal/model"
)

// Evaluation measures how well a hotspot set predicts a set of events,
// typically events held out from estimation.
type Evaluation struct {
	Events       int     `json:"events" yaml:"events"`
	Hits         int     `json:"hits" yaml:"hits"`
	Outside      int     `json:"outside" yaml:"outside"`
	HitRate      float64 `json:"hit_rate" yaml:"hit_rate"`
	AreaFraction float64 `json:"area_fraction" yaml:"area_fraction"`
	// PAI is the predictive accuracy index: hit rate divided by the share
	// of the region flagged.
	PAI float64 `json:"pai" yaml:"pai"`
}

// Evaluate counts events falling inside selected cells. Events outside the
// grid count as misses and are reported in Outside.
func Evaluate(set *model.HotspotSet, g *model.Grid, events []model.Event) Evaluation {
	ev := Evaluation{Events: len(events), AreaFraction: set.CoveredFraction()}
	if len(events) == 0 {
		return ev
	}

	selected := make(map[model.CellRef]struct{}, set.Len())
	for _, c := range set.Cells {
		selected[c.Ref()] = struct{}{}
	}
	for _, e := range events {
		ref, ok := g.Locate(e.Position)
		if !ok {
			ev.Outside++
			continue
		}
		if _, hit := selected[ref]; hit {
			ev.Hits++
		}
	}

	ev.HitRate = float64(ev.Hits) / float64(ev.Events)
	if ev.AreaFraction > 0 {
		ev.PAI = ev.HitRate / ev.AreaFraction
	}
	return ev
}
