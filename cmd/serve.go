package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/hotspot-cli/internal/config"
	"github.com/sells-group/hotspot-cli/internal/density"
	"github.com/sells-group/hotspot-cli/internal/model"
	"github.com/sells-group/hotspot-cli/internal/monitoring"
	"github.com/sells-group/hotspot-cli/internal/pipeline"
	"github.com/sells-group/hotspot-cli/internal/report"
	"github.com/sells-group/hotspot-cli/internal/roads"
	"github.com/sells-group/hotspot-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the hotspot HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		base, err := pipelineConfig(cfg)
		if err != nil {
			return err
		}
		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close() //nolint:errcheck
		}

		if st != nil && cfg.Monitoring.WebhookURL != "" {
			go newChecker(st, cfg.Monitoring).Run(ctx)
		}

		api := &server{
			base:         base,
			store:        st,
			maxBodyBytes: cfg.Server.MaxBodyBytes,
			maxEvents:    cfg.Server.MaxEvents,
		}
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           buildRouter(api, cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func newChecker(st store.Store, mc config.MonitoringConfig) *monitoring.Checker {
	stuck := time.Duration(mc.StuckRunMinutes) * time.Minute
	return monitoring.NewChecker(monitoring.NewCollector(st, stuck), monitoring.NewAlerter(mc), mc)
}

// server holds the API dependencies. store may be nil.
type server struct {
	base         pipeline.Config
	store        store.Store
	maxBodyBytes int64
	maxEvents    int
}

func buildRouter(s *server, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/hotspots", s.handleHotspots)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
	})
	return r
}

// hotspotRequest is the body of POST /v1/hotspots. Coordinates are lon/lat
// in the configured source CRS.
type hotspotRequest struct {
	Events  []model.RawEvent `json:"events"`
	Holdout []model.RawEvent `json:"holdout,omitempty"`
	Streets []roads.Segment  `json:"streets"`
	Params  *requestParams   `json:"params,omitempty"`
}

// requestParams overrides the server's configured run parameters.
type requestParams struct {
	SideLength             *float64    `json:"side_length,omitempty"`
	Bandwidth              *float64    `json:"bandwidth,omitempty"`
	BandwidthMethod        *string     `json:"bandwidth_method,omitempty"`
	Kernel                 *string     `json:"kernel,omitempty"`
	BudgetFraction         *float64    `json:"budget_fraction,omitempty"`
	MaxAttributionDistance *float64    `json:"max_attribution_distance,omitempty"`
	TargetCRS              *string     `json:"target_crs,omitempty"`
	Bounds                 *roads.BBox `json:"bounds,omitempty"`
}

func (p *requestParams) apply(c pipeline.Config) (pipeline.Config, error) {
	if p == nil {
		return c, nil
	}
	if p.SideLength != nil {
		c.SideLength = *p.SideLength
	}
	if p.Bandwidth != nil {
		c.Bandwidth = *p.Bandwidth
	}
	if p.BandwidthMethod != nil {
		c.BandwidthMethod = density.BandwidthMethod(*p.BandwidthMethod)
	}
	if p.Kernel != nil {
		k, err := density.ParseKernel(*p.Kernel)
		if err != nil {
			return c, err
		}
		c.Kernel = k
	}
	if p.BudgetFraction != nil {
		c.BudgetFraction = *p.BudgetFraction
	}
	if p.MaxAttributionDistance != nil {
		c.MaxAttributionDistance = *p.MaxAttributionDistance
	}
	if p.TargetCRS != nil {
		c.TargetCRS = *p.TargetCRS
	}
	if b := p.Bounds; b != nil {
		if !b.Valid() {
			return c, model.NewInvalidParameter(model.StageRegion, "bounds", *b, "not a lon/lat box")
		}
		c.LonLatBounds = &model.BBox{MinX: b.West, MinY: b.South, MaxX: b.East, MaxY: b.North}
	}
	return c, nil
}

func (s *server) handleHotspots(w http.ResponseWriter, r *http.Request) {
	if s.maxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	}
	var req hotspotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if s.maxEvents > 0 && len(req.Events)+len(req.Holdout) > s.maxEvents {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("at most %d events per request", s.maxEvents))
		return
	}

	format := report.FormatJSON
	if q := r.URL.Query().Get("format"); q != "" {
		f, err := report.ParseFormat(q)
		if err != nil || f == report.FormatXLSX {
			writeError(w, http.StatusBadRequest, "unsupported format")
			return
		}
		format = f
	}

	pcfg, err := req.Params.apply(s.base)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	res, err := pipeline.New(pcfg, s.store).Run(r.Context(), pipeline.Input{
		Events:  req.Events,
		Holdout: req.Holdout,
		Roads:   roads.Loader{Source: roads.Static(req.Streets)},
	})
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			zap.L().Error("serve: hotspot run failed", zap.Error(err))
		}
		writeError(w, status, err.Error())
		return
	}

	rep := report.FromResult(res)
	switch format {
	case report.FormatJSON:
		writeJSON(w, http.StatusOK, rep)
	default:
		w.Header().Set("Content-Type", contentType(format))
		w.WriteHeader(http.StatusOK)
		if err := report.Write(w, format, rep, unprojector(res)); err != nil {
			zap.L().Error("serve: write report", zap.Error(err))
		}
	}
}

func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "run store disabled")
		return
	}
	filter := store.RunFilter{Status: model.RunStatus(r.URL.Query().Get("status"))}
	for key, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		if v := r.URL.Query().Get(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "invalid "+key)
				return
			}
			*dst = n
		}
	}
	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		zap.L().Error("serve: list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list runs failed")
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "run store disabled")
		return
	}
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		zap.L().Error("serve: get run", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "get run failed")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// statusFor maps pipeline errors to HTTP statuses: caller mistakes are
// 4xx, everything else 500.
func statusFor(err error) int {
	var (
		ipe *model.InvalidParameterError
		ice *model.InvalidCoordinateError
	)
	switch {
	case errors.As(err, &ipe), errors.As(err, &ice):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func contentType(f report.Format) string {
	switch f {
	case report.FormatCSV:
		return "text/csv"
	case report.FormatYAML:
		return "application/yaml"
	case report.FormatGeoJSON:
		return "application/geo+json"
	case report.FormatText:
		return "text/plain; charset=utf-8"
	}
	return "application/json"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
