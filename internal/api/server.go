package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"gomarketplace_sync/internal/auth"
	"gomarketplace_sync/internal/catalog/app"
	"gomarketplace_sync/internal/catalog/guard"
	"gomarketplace_sync/internal/catalog/reconcile"
	"gomarketplace_sync/metrics"
	"gomarketplace_sync/pkg/logger"
	"gomarketplace_sync/pkg/middleware"
)

// Runner is the part of the catalog server the API exposes.
type Runner interface {
	RunSync(ctx context.Context) (app.SyncOutcome, error)
	RunAudit(ctx context.Context, repair bool) (reconcile.Audit, error)
	LastReport(ctx context.Context) (json.RawMessage, time.Time, error)
	LastAudit(ctx context.Context) (json.RawMessage, time.Time, error)
}

const (
	routeMetrics    = "/metrics"
	routeHealth     = "/health"
	routeLastReport = "/api/report/last"
	routeLastAudit  = "/api/audit/last"
	routeAudit      = "/api/audit"
	routeSync       = "/api/sync"
)

type Server struct {
	runner Runner
	secret string
	log    logger.Logger
}

func NewServer(runner Runner, jwtSecret string, log logger.Logger) *Server {
	return &Server{runner: runner, secret: jwtSecret, log: log.WithPrefix("[API]")}
}

// Handler routes the status API. /metrics and /health are open; everything under /api needs
// a bearer token, and the endpoints that start runs need the operator role.
func (s *Server) Handler() http.Handler {
	authn := middleware.Middleware(auth.AuthMiddleware(s.secret))
	viewer := middleware.Middleware(auth.RoleMiddleware(auth.RoleViewer, auth.RoleOperator))
	operator := middleware.Middleware(auth.RoleMiddleware(auth.RoleOperator))

	mux := http.NewServeMux()
	mux.Handle("GET "+routeMetrics, metrics.MetricsHandler())
	mux.HandleFunc("GET "+routeHealth, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET "+routeLastReport, middleware.Chain(http.HandlerFunc(s.lastReport), authn, viewer))
	mux.Handle("GET "+routeLastAudit, middleware.Chain(http.HandlerFunc(s.lastAudit), authn, viewer))
	mux.Handle("POST "+routeAudit, middleware.Chain(http.HandlerFunc(s.audit), authn, operator))
	mux.Handle("POST "+routeSync, middleware.Chain(http.HandlerFunc(s.sync), authn, operator))

	return middleware.Chain(mux,
		middleware.Recover(s.log.Error),
		middleware.PrometheusMiddleware(routeMetrics, routeHealth, routeLastReport, routeLastAudit, routeAudit, routeSync),
	)
}

func (s *Server) lastReport(w http.ResponseWriter, r *http.Request) {
	s.writeStored(w, r, s.runner.LastReport)
}

func (s *Server) lastAudit(w http.ResponseWriter, r *http.Request) {
	s.writeStored(w, r, s.runner.LastAudit)
}

func (s *Server) writeStored(w http.ResponseWriter, r *http.Request, load func(context.Context) (json.RawMessage, time.Time, error)) {
	raw, at, err := load(r.Context())
	if err != nil {
		s.log.Error("load report: %v", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if raw == nil {
		writeError(w, http.StatusNotFound, errors.New("no run has finished yet"))
		return
	}
	w.Header().Set("Last-Modified", at.UTC().Format(http.TimeFormat))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

// audit runs read-only unless ?repair=true is given.
func (s *Server) audit(w http.ResponseWriter, r *http.Request) {
	repair := false
	if v := r.URL.Query().Get("repair"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		repair = b
	}
	if claims, ok := auth.FromContext(r.Context()); ok {
		s.log.Log("audit requested by %s (repair=%t)", claims.Subject, repair)
	}
	result, err := s.runner.RunAudit(r.Context(), repair)
	if err != nil {
		s.writeRunError(w, err, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) sync(w http.ResponseWriter, r *http.Request) {
	if claims, ok := auth.FromContext(r.Context()); ok {
		s.log.Log("sync requested by %s", claims.Subject)
	}
	out, err := s.runner.RunSync(r.Context())
	if err != nil {
		s.writeRunError(w, err, out)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) writeRunError(w http.ResponseWriter, err error, partial any) {
	switch {
	case errors.Is(err, app.ErrRunInProgress):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, guard.ErrTripped):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error(), "result": partial})
	default:
		s.log.Error("run failed: %v", err)
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Log("listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
