package roads

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/hotspot-cli/internal/resilience"
)

const overpassResponse = `{
  "version": 0.6,
  "osm3s": {"timestamp_osm_base": "2026-01-01T00:00:00Z"},
  "elements": [
    {"type": "node", "id": 1, "lat": 40.70, "lon": -74.00},
    {"type": "node", "id": 2, "lat": 40.70, "lon": -73.99},
    {"type": "node", "id": 3, "lat": 40.71, "lon": -73.99},
    {"type": "way", "id": 20, "nodes": [2, 3], "tags": {"highway": "residential", "name": "Oak St"}},
    {"type": "way", "id": 10, "nodes": [1, 2], "tags": {"highway": "primary", "name": "Elm St"}}
  ]
}`

var testBBox = BBox{West: -74.01, South: 40.69, East: -73.98, North: 40.72}

func fastOverpass(url string) *Overpass {
	o := NewOverpass(url, testBBox)
	o.Limiter = nil
	o.Retry = resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
	return o
}

func TestOverpass_Query(t *testing.T) {
	o := NewOverpass("", testBBox)
	o.Highways = []string{"primary", "residential"}
	o.Timeout = 30 * time.Second

	q, err := o.Query()
	require.NoError(t, err)
	assert.Equal(t, DefaultOverpassEndpoint, o.Endpoint)
	assert.Equal(t,
		`[out:json][timeout:30];way["highway"~"^(primary|residential)$"]["name"](40.69,-74.01,40.72,-73.98);(._;>;);out body;`, q)
}

func TestOverpass_QueryRejectsBadInput(t *testing.T) {
	o := NewOverpass("", BBox{})
	_, err := o.Query()
	assert.Error(t, err)

	o = NewOverpass("", testBBox)
	o.Highways = []string{`primary"];node(1);//`}
	_, err = o.Query()
	assert.ErrorContains(t, err, "invalid highway class")
}

func TestOverpass_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(overpassResponse))
	}))
	defer srv.Close()

	segs, err := fastOverpass(srv.URL).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, segs, 2)

	assert.Equal(t, Segment{ID: "osm:way/10", Name: "Elm St", Coords: [][2]float64{{-74.00, 40.70}, {-73.99, 40.70}}}, segs[0])
	assert.Equal(t, "osm:way/20", segs[1].ID)
	assert.Equal(t, "Oak St", segs[1].Name)
}

func TestOverpass_PostsQueryForm(t *testing.T) {
	var (
		method, contentType, data string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		contentType = r.Header.Get("Content-Type")
		_ = r.ParseForm()
		data = r.PostForm.Get("data")
		_, _ = w.Write([]byte(overpassResponse))
	}))
	defer srv.Close()

	o := fastOverpass(srv.URL)
	want, err := o.Query()
	require.NoError(t, err)

	_, err = o.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "application/x-www-form-urlencoded", contentType)
	assert.Equal(t, want, data)
}

func TestOverpass_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(overpassResponse))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := fastOverpass(srv.URL).Fetch(ctx)
	assert.Error(t, err)
}

func TestOverpass_RetriesThrottling(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(overpassResponse))
	}))
	defer srv.Close()

	segs, err := fastOverpass(srv.URL).Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, segs, 2)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOverpass_GivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusGatewayTimeout)
	}))
	defer srv.Close()

	_, err := fastOverpass(srv.URL).Fetch(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestOverpass_OpenBreakerStopsRequests(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	o := fastOverpass(srv.URL)
	o.Breaker = resilience.NewCircuitBreaker("overpass", resilience.CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})

	_, err := o.Fetch(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(1), calls.Load())
}
