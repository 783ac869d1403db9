package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/site-scorer/internal/config"
	"github.com/sells-group/site-scorer/internal/intake"
	"github.com/sells-group/site-scorer/internal/model"
	"github.com/sells-group/site-scorer/internal/monitoring"
	"github.com/sells-group/site-scorer/internal/pipeline"
	"github.com/sells-group/site-scorer/internal/shardcache"
)

// uploadField is the multipart field carrying the candidate sheet.
const uploadField = "address_to_score"

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the scoring API and keep the shard cache fresh",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		log := zap.L().With(zap.String("component", "serve"))

		if err := env.Cache.Load(ctx); err != nil {
			return eris.Wrap(err, "load shard cache")
		}
		if _, err := env.Pipeline.Refresh(ctx, ""); err != nil {
			log.Warn("startup refresh failed, serving cached shards", zap.Error(err))
		}

		interval := time.Duration(cfg.Cache.RefreshIntervalHours) * time.Hour
		go pipeline.NewScheduler(env.Pipeline, interval).Run(ctx)

		h := &handler{
			svc:       env.Pipeline,
			snapshot:  env.Cache.Snapshot,
			columns:   intake.ColumnsFromConfig(cfg.Intake),
			maxUpload: int64(cfg.Intake.MaxUploadMB) << 20,
			monCfg:    cfg.Monitoring,
			metrics:   env.Metrics.Handler(),
		}
		if env.History != nil {
			h.health = monitoring.NewCollector(env.History)
			go monitoring.NewChecker(h.health, cfg.Monitoring).Run(ctx)
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(h, cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			log.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx),
				time.Duration(cfg.Server.ShutdownTimeoutSecs)*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error("server shutdown", zap.Error(err))
			}
		}()

		log.Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// scoringService is the part of the pipeline the HTTP handlers call.
type scoringService interface {
	Score(ctx context.Context, cands []model.Candidate) (*pipeline.Result, error)
	Refresh(ctx context.Context, endDate string) (*shardcache.Result, error)
}

// handler serves the scoring API.
type handler struct {
	svc       scoringService
	snapshot  func() *shardcache.Snapshot
	columns   intake.Columns
	maxUpload int64
	health    *monitoring.Collector // nil without run history
	monCfg    config.MonitoringConfig
	metrics   http.Handler
}

// newRouter mounts the API routes behind CORS, real-IP and panic recovery.
func newRouter(h *handler, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.handleHealth)
	r.Post("/score", h.handleScore)
	r.Post("/update/{date}", h.handleUpdate)

	// Paths used by existing clients.
	r.Get("/project/health", h.handleHealth)
	r.Post("/project", h.handleScore)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}
	return r
}

type scoreResponse struct {
	RunID   string           `json:"run_id,omitempty"`
	Weeks   []string         `json:"weeks"`
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

func (h *handler) handleScore(w http.ResponseWriter, r *http.Request) {
	if h.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	}
	file, hdr, err := r.FormFile(uploadField)
	if err != nil {
		writeError(w, model.NewError(model.KindInvalidInput,
			fmt.Sprintf("multipart field %q is required", uploadField), err))
		return
	}
	defer file.Close() //nolint:errcheck

	cands, err := intake.Parse(r.Context(), hdr.Filename, file, h.columns)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := h.svc.Score(r.Context(), cands)
	if err != nil {
		writeError(w, err)
		return
	}

	rep := buildReport(res, h.columns)
	writeJSON(w, http.StatusOK, scoreResponse{
		RunID:   res.RunID,
		Weeks:   res.Weeks,
		Columns: rep.Columns,
		Rows:    rep.records(),
	})
}

func (h *handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Refresh(r.Context(), chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type healthResponse struct {
	Status  string                     `json:"status"`
	Shards  int                        `json:"shards"`
	Weeks   []string                   `json:"weeks"`
	BuiltAt *time.Time                 `json:"built_at,omitempty"`
	History *monitoring.HealthSnapshot `json:"history,omitempty"`
	Alerts  []monitoring.Alert         `json:"alerts,omitempty"`
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Weeks: []string{}}
	if h.snapshot != nil {
		snap := h.snapshot()
		resp.Shards = snap.Len()
		if weeks := snap.Weeks(); weeks != nil {
			resp.Weeks = weeks
		}
		if !snap.BuiltAt.IsZero() {
			at := snap.BuiltAt
			resp.BuiltAt = &at
		}
	}
	if h.health != nil {
		hs, err := h.health.Collect(r.Context(), h.monCfg.LookbackHours)
		if err != nil {
			zap.L().Warn("health: collect run history", zap.Error(err))
		} else {
			resp.History = hs
			resp.Alerts = monitoring.Evaluate(hs, h.monCfg)
			if len(resp.Alerts) > 0 {
				resp.Status = "degraded"
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type errorResponse struct {
	Error   string   `json:"error"`
	Kind    string   `json:"kind,omitempty"`
	Columns []string `json:"columns,omitempty"`
}

// writeError maps bad input to 400 and everything else to 503.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusServiceUnavailable
	var maxErr *http.MaxBytesError
	if model.IsBadInput(err) || errors.As(err, &maxErr) {
		status = http.StatusBadRequest
	}

	resp := errorResponse{Error: err.Error()}
	if me, ok := model.AsError(err); ok {
		resp.Kind = string(me.Kind)
		resp.Columns = me.Columns
	}
	if status >= http.StatusInternalServerError {
		zap.L().Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
