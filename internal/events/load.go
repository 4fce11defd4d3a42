package events

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/hotspot-cli/internal/model"
)

// Options selects how Load reads a file.
type Options struct {
	Columns     Columns
	Sheet       string
	Delimiter   rune
	SkipInvalid bool
}

// Load reads events from path, choosing the reader by extension: .csv,
// .tsv, .xlsx or .json (an array of {lon, lat, weight} objects).
func Load(ctx context.Context, path string, opts Options) ([]model.RawEvent, error) {
	var (
		evs []model.RawEvent
		err error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv", ".tsv":
		delim := opts.Delimiter
		if delim == 0 && ext == ".tsv" {
			delim = '\t'
		}
		evs, err = loadCSV(ctx, path, CSVOptions{Columns: opts.Columns, Delimiter: delim, SkipInvalid: opts.SkipInvalid})
	case ".xlsx":
		evs, err = ReadXLSX(ctx, path, XLSXOptions{Columns: opts.Columns, SheetName: opts.Sheet, SkipInvalid: opts.SkipInvalid})
	case ".json":
		evs, err = loadJSON(path)
	default:
		return nil, eris.Errorf("events: unsupported file type %q", ext)
	}
	if err != nil {
		return nil, err
	}
	zap.L().Info("events: loaded", zap.String("path", path), zap.Int("events", len(evs)))
	return evs, nil
}

func loadCSV(ctx context.Context, path string, opts CSVOptions) ([]model.RawEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "events: open %s", path)
	}
	defer f.Close() //nolint:errcheck
	return ReadCSV(ctx, f, opts)
}

func loadJSON(path string) ([]model.RawEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "events: read %s", path)
	}
	var evs []model.RawEvent
	if err := json.Unmarshal(data, &evs); err != nil {
		return nil, eris.Wrapf(err, "events: decode %s", path)
	}
	return evs, nil
}
