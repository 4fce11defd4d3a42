// Package events reads crime events (longitude, latitude and an optional
// weight) from CSV, XLSX and JSON files. An empty or absent weight leaves
// RawEvent.Weight nil so the normalizer applies the default; an explicit 0
// is preserved.
package events

import (
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/hotspot-cli/internal/model"
)

// Columns names the header fields holding each value. Empty names fall
// back to common aliases.
type Columns struct {
	Lon    string `yaml:"lon" mapstructure:"lon"`
	Lat    string `yaml:"lat" mapstructure:"lat"`
	Weight string `yaml:"weight" mapstructure:"weight"`
}

var (
	lonAliases    = []string{"lon", "lng", "long", "longitude", "x"}
	latAliases    = []string{"lat", "latitude", "y"}
	weightAliases = []string{"weight", "w", "count"}
)

// decoder maps header positions to event fields.
type decoder struct {
	lon, lat, weight int
	skipInvalid      bool
	skipped          int
}

func newDecoder(header []string, cols Columns, skipInvalid bool) (*decoder, error) {
	d := &decoder{weight: -1, skipInvalid: skipInvalid}
	var err error
	if d.lon, err = column(header, cols.Lon, lonAliases); err != nil {
		return nil, err
	}
	if d.lat, err = column(header, cols.Lat, latAliases); err != nil {
		return nil, err
	}
	if cols.Weight != "" {
		if d.weight, err = column(header, cols.Weight, nil); err != nil {
			return nil, err
		}
	} else {
		d.weight = find(header, weightAliases)
	}
	return d, nil
}

func column(header []string, name string, aliases []string) (int, error) {
	if name != "" {
		aliases = []string{name}
	}
	if i := find(header, aliases); i >= 0 {
		return i, nil
	}
	return -1, eris.Errorf("events: no column matching %s in header %v", strings.Join(aliases, "|"), header)
}

func find(header []string, names []string) int {
	for _, n := range names {
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), n) {
				return i
			}
		}
	}
	return -1
}

// decode parses one data row. line is 1-based and only used in messages.
// ok is false when the row was skipped.
func (d *decoder) decode(row []string, line int) (ev model.RawEvent, ok bool, err error) {
	ev, err = d.parse(row)
	if err == nil {
		return ev, true, nil
	}
	if d.skipInvalid {
		d.skipped++
		return ev, false, nil
	}
	return ev, false, eris.Wrapf(err, "events: line %d", line)
}

func (d *decoder) parse(row []string) (model.RawEvent, error) {
	var ev model.RawEvent
	var err error
	if ev.Lon, err = field(row, d.lon, "lon"); err != nil {
		return ev, err
	}
	if ev.Lat, err = field(row, d.lat, "lat"); err != nil {
		return ev, err
	}
	if d.weight >= 0 && d.weight < len(row) && strings.TrimSpace(row[d.weight]) != "" {
		w, err := field(row, d.weight, "weight")
		if err != nil {
			return ev, err
		}
		if w < 0 {
			return ev, eris.Errorf("weight %g is negative", w)
		}
		ev.Weight = &w
	}
	return ev, nil
}

func field(row []string, i int, name string) (float64, error) {
	if i >= len(row) {
		return 0, eris.Errorf("missing %s", name)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(row[i]), 64)
	if err != nil {
		return 0, eris.Errorf("%s %q is not a number", name, row[i])
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, eris.Errorf("%s %q is not finite", name, row[i])
	}
	return v, nil
}
