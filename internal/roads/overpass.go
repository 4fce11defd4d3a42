package roads

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/serjvanilla/go-overpass"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/hotspot-cli/internal/resilience"
)

// DefaultOverpassEndpoint is the public Overpass API instance.
const DefaultOverpassEndpoint = "https://overpass-api.de/api/interpreter"

// DefaultHighways are the OSM highway classes patrols can drive.
var DefaultHighways = []string{
	"motorway", "trunk", "primary", "secondary", "tertiary",
	"unclassified", "residential", "living_street", "service", "pedestrian",
}

var highwayClass = regexp.MustCompile(`^[a-z_]+$`)

// Overpass fetches named highway ways inside a bounding box from an
// Overpass API endpoint. Requests are rate limited, retried on transient
// failures and guarded by a circuit breaker.
type Overpass struct {
	Endpoint string
	BBox     BBox
	Highways []string      // default DefaultHighways
	Timeout  time.Duration // server-side and HTTP timeout; default 90s

	HTTPClient *http.Client
	Limiter    *rate.Limiter
	Retry      resilience.RetryConfig
	Breaker    *resilience.CircuitBreaker
}

// NewOverpass returns a source with one request per second, default
// retries and a breaker named "overpass".
func NewOverpass(endpoint string, bbox BBox) *Overpass {
	if endpoint == "" {
		endpoint = DefaultOverpassEndpoint
	}
	return &Overpass{
		Endpoint: endpoint,
		BBox:     bbox,
		Limiter:  rate.NewLimiter(rate.Every(time.Second), 1),
		Retry:    resilience.DefaultRetryConfig(),
		Breaker:  resilience.NewCircuitBreaker("overpass", resilience.DefaultCircuitBreakerConfig()),
	}
}

// Query returns the Overpass QL for the source's box and highway classes.
func (o *Overpass) Query() (string, error) {
	if !o.BBox.Valid() {
		return "", eris.Errorf("roads: invalid overpass bbox %+v", o.BBox)
	}
	classes := o.Highways
	if len(classes) == 0 {
		classes = DefaultHighways
	}
	for _, c := range classes {
		if !highwayClass.MatchString(c) {
			return "", eris.Errorf("roads: invalid highway class %q", c)
		}
	}
	b := o.BBox
	return fmt.Sprintf(`[out:json][timeout:%d];way["highway"~"^(%s)$"]["name"](%g,%g,%g,%g);(._;>;);out body;`,
		int(o.timeout().Seconds()), strings.Join(classes, "|"), b.South, b.West, b.North, b.East), nil
}

func (o *Overpass) timeout() time.Duration {
	if o.Timeout <= 0 {
		return 90 * time.Second
	}
	return o.Timeout
}

// Fetch implements Source.
func (o *Overpass) Fetch(ctx context.Context) ([]Segment, error) {
	query, err := o.Query()
	if err != nil {
		return nil, err
	}

	retry := o.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("overpass", "query")
	}

	start := time.Now()
	res, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (overpass.Result, error) {
		if o.Limiter != nil {
			if err := o.Limiter.Wait(ctx); err != nil {
				return overpass.Result{}, err
			}
		}
		if o.Breaker == nil {
			return o.query(ctx, query)
		}
		return resilience.ExecuteVal(ctx, o.Breaker, func(ctx context.Context) (overpass.Result, error) {
			return o.query(ctx, query)
		})
	})
	if err != nil {
		return nil, eris.Wrap(err, "roads: overpass query")
	}

	segs := waysToSegments(res)
	zap.L().Info("roads: overpass loaded",
		zap.Int("ways", len(res.Ways)),
		zap.Int("segments", len(segs)),
		zap.Duration("duration", time.Since(start)),
	)
	return segs, nil
}

func (o *Overpass) query(ctx context.Context, query string) (overpass.Result, error) {
	base := o.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: o.timeout() + 10*time.Second}
	}
	client := overpass.NewWithSettings(o.Endpoint, 1, ctxPoster{ctx: ctx, client: base})
	return client.Query(query)
}

// ctxPoster implements overpass.HTTPClient. It binds a context to every
// form post go-overpass sends and turns retryable HTTP statuses into
// transient errors.
type ctxPoster struct {
	ctx    context.Context
	client *http.Client
}

var _ overpass.HTTPClient = ctxPoster{}

func (d ctxPoster) PostForm(u string, data url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(d.ctx, http.MethodPost, u, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, eris.Wrap(err, "overpass: build request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		_ = resp.Body.Close()
		return nil, resilience.NewTransientError(
			eris.Errorf("overpass: HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
			resp.StatusCode,
		)
	}
	return resp, nil
}

// waysToSegments converts ways in ascending ID order. Ways referencing
// nodes missing from the response are skipped.
func waysToSegments(res overpass.Result) []Segment {
	ids := make([]int64, 0, len(res.Ways))
	for id := range res.Ways {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	segs := make([]Segment, 0, len(ids))
	for _, id := range ids {
		way := res.Ways[id]
		coords := make([][2]float64, 0, len(way.Nodes))
		for _, n := range way.Nodes {
			if n == nil {
				coords = nil
				break
			}
			coords = append(coords, [2]float64{n.Lon, n.Lat})
		}
		if len(coords) == 0 {
			continue
		}
		segs = append(segs, Segment{
			ID:     fmt.Sprintf("osm:way/%d", id),
			Name:   way.Tags["name"],
			Coords: coords,
		})
	}
	return segs
}
