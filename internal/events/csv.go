package events

import (
	"context"
	"encoding/csv"
	"io"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/hotspot-cli/internal/model"
)

// CSVOptions configures the CSV reader. The first row must be a header.
type CSVOptions struct {
	Columns     Columns
	Delimiter   rune // default ','
	Comment     rune // 0 = none
	SkipInvalid bool // drop unparseable rows instead of failing
}

// StreamCSV decodes events from r and sends them on the returned channel.
// Both channels are closed when reading stops; at most one error is sent.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan model.RawEvent, <-chan error) {
	out := make(chan model.RawEvent, 256)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		reader := csv.NewReader(r)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		reader.Comment = opts.Comment
		reader.FieldsPerRecord = -1
		reader.ReuseRecord = true

		header, err := reader.Read()
		if err == io.EOF {
			errCh <- eris.New("events: csv is empty")
			return
		}
		if err != nil {
			errCh <- eris.Wrap(err, "events: read csv header")
			return
		}
		dec, err := newDecoder(append([]string(nil), header...), opts.Columns, opts.SkipInvalid)
		if err != nil {
			errCh <- err
			return
		}

		for line := 2; ; line++ {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "events: csv cancelled")
				return
			}
			row, err := reader.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				errCh <- eris.Wrapf(err, "events: read csv line %d", line)
				return
			}
			ev, ok, err := dec.decode(row, line)
			if err != nil {
				errCh <- err
				return
			}
			if !ok {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "events: csv cancelled")
				return
			}
		}
		if dec.skipped > 0 {
			zap.L().Warn("events: skipped invalid csv rows", zap.Int("skipped", dec.skipped))
		}
	}()

	return out, errCh
}

// ReadCSV collects every event from r.
func ReadCSV(ctx context.Context, r io.Reader, opts CSVOptions) ([]model.RawEvent, error) {
	return collect(StreamCSV(ctx, r, opts))
}

func collect(evCh <-chan model.RawEvent, errCh <-chan error) ([]model.RawEvent, error) {
	var out []model.RawEvent
	for ev := range evCh {
		out = append(out, ev)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return out, nil
}
