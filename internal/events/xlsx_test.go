package events

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/hotspot-cli/internal/model"
)

func writeXLSX(t *testing.T, sheets map[string][][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, data := range rows {
			row := sheet.AddRow()
			for _, v := range data {
				row.AddCell().SetString(v)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "events.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestReadXLSX(t *testing.T) {
	path := writeXLSX(t, map[string][][]string{
		"incidents": {
			{"Lat", "Lon", "Count"},
			{"40.7", "-74.0", "2"},
			{"", "", ""},
			{"40.8", "-73.9", ""},
		},
	})

	evs, err := ReadXLSX(context.Background(), path, XLSXOptions{})
	require.NoError(t, err)
	assert.Equal(t, []model.RawEvent{
		{Lon: -74.0, Lat: 40.7, Weight: model.Weight(2)},
		{Lon: -73.9, Lat: 40.8},
	}, evs)
}

func TestReadXLSX_SheetSelection(t *testing.T) {
	path := writeXLSX(t, map[string][][]string{
		"events": {{"x", "y"}, {"1", "2"}},
	})

	evs, err := ReadXLSX(context.Background(), path, XLSXOptions{SheetName: "events"})
	require.NoError(t, err)
	assert.Len(t, evs, 1)

	_, err = ReadXLSX(context.Background(), path, XLSXOptions{SheetName: "missing"})
	assert.ErrorContains(t, err, "not found")

	_, err = ReadXLSX(context.Background(), path, XLSXOptions{SheetIndex: 3})
	assert.ErrorContains(t, err, "out of range")
}

func TestReadXLSX_BadRow(t *testing.T) {
	path := writeXLSX(t, map[string][][]string{
		"events": {{"lon", "lat"}, {"1", "2"}, {"east", "2"}},
	})

	_, err := ReadXLSX(context.Background(), path, XLSXOptions{})
	assert.ErrorContains(t, err, "line 3")

	evs, err := ReadXLSX(context.Background(), path, XLSXOptions{SkipInvalid: true})
	require.NoError(t, err)
	assert.Len(t, evs, 1)
}
