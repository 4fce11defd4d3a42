package roads

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/hotspot-cli/internal/db"
)

// DefaultTable is the road cache written by SaveSegments.
const DefaultTable = "road_segments"

// allowedTables maps accepted table names to their id and name columns.
// Table names are interpolated into SQL, so only these are accepted.
var allowedTables = map[string][2]string{
	"road_segments":        {"id", "name"},
	"public.road_segments": {"id", "name"},
	"tiger.edges":          {"tlid", "fullname"},
}

// PostGIS reads road lines intersecting BBox from a PostGIS table.
type PostGIS struct {
	Pool  db.Pool
	Table string // default DefaultTable
	BBox  BBox
}

// Fetch implements Source.
func (p PostGIS) Fetch(ctx context.Context) ([]Segment, error) {
	table := p.Table
	if table == "" {
		table = DefaultTable
	}
	cols, ok := allowedTables[table]
	if !ok {
		return nil, eris.Errorf("roads: table %q is not an allowed road source", table)
	}
	if !p.BBox.Valid() {
		return nil, eris.Errorf("roads: invalid postgis bbox %+v", p.BBox)
	}

	query := fmt.Sprintf(
		`SELECT %s::text, COALESCE(%s, ''), ST_AsEWKB(geom) FROM %s WHERE geom && ST_MakeEnvelope($1, $2, $3, $4, %d) ORDER BY 1`,
		cols[0], cols[1], db.Identifier(table).Sanitize(), SRID)
	rows, err := p.Pool.Query(ctx, query, p.BBox.West, p.BBox.South, p.BBox.East, p.BBox.North)
	if err != nil {
		return nil, eris.Wrapf(err, "roads: query %s", table)
	}
	defer rows.Close()

	var segs []Segment
	var skipped int
	for rows.Next() {
		var id, name string
		var wkb []byte
		if err := rows.Scan(&id, &name, &wkb); err != nil {
			return nil, eris.Wrapf(err, "roads: scan %s", table)
		}
		parts, err := DecodeEWKB(wkb)
		if err != nil {
			zap.L().Debug("roads: skipping undecodable row", zap.String("id", id), zap.Error(err))
			skipped++
			continue
		}
		for i, coords := range parts {
			pid := id
			if len(parts) > 1 {
				pid = fmt.Sprintf("%s/%d", id, i)
			}
			segs = append(segs, Segment{ID: pid, Name: name, Coords: coords})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "roads: iterate %s", table)
	}

	zap.L().Info("roads: postgis loaded", zap.String("table", table), zap.Int("segments", len(segs)), zap.Int("skipped", skipped))
	return segs, nil
}

const roadCacheSchema = `
CREATE EXTENSION IF NOT EXISTS postgis;
CREATE TABLE IF NOT EXISTS road_segments (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	source     TEXT NOT NULL,
	wkb        BYTEA NOT NULL,
	geom       geometry(LineString, 4326) GENERATED ALWAYS AS (ST_GeomFromEWKB(wkb)) STORED,
	fetched_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_road_segments_geom ON road_segments USING gist (geom);
`

// MigrateCache creates the road cache table.
func MigrateCache(ctx context.Context, pool db.Pool) error {
	if _, err := pool.Exec(ctx, roadCacheSchema); err != nil {
		return eris.Wrap(err, "roads: migrate road cache")
	}
	return nil
}

// SaveSegments upserts segments into the road cache, tagged with source.
// Segments with fewer than two points are skipped.
func SaveSegments(ctx context.Context, pool db.Pool, source string, segs []Segment) (int64, error) {
	rows := make([][]any, 0, len(segs))
	for _, s := range segs {
		if len(s.Coords) < 2 {
			continue
		}
		wkb, err := EncodeEWKB(s)
		if err != nil {
			return 0, err
		}
		rows = append(rows, []any{s.ID, s.Name, source, wkb})
	}
	n, err := db.BulkUpsert(ctx, pool, db.UpsertConfig{
		Table:        DefaultTable,
		Columns:      []string{"id", "name", "source", "wkb"},
		ConflictKeys: []string{"id"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "roads: save segments")
	}
	zap.L().Info("roads: cached segments", zap.String("source", source), zap.Int64("rows", n))
	return n, nil
}

// Cache wraps a Source and writes every fetched network to the road
// cache. A failed write is logged and the fetched segments are still
// returned.
type Cache struct {
	Source Source
	Pool   db.Pool
	Name   string // recorded in the source column
}

// Fetch implements Source.
func (c Cache) Fetch(ctx context.Context) ([]Segment, error) {
	segs, err := c.Source.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := SaveSegments(ctx, c.Pool, c.Name, segs); err != nil {
		zap.L().Warn("roads: failed to cache segments", zap.String("source", c.Name), zap.Error(err))
	}
	return segs, nil
}
