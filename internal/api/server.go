// Package api exposes a small HTTP surface for operating the sync service:
// health, bridge introspection, manual batch triggers, and pending-mapping
// inspection. The core sync engine never depends on this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/PorticoEstate/outlookbookingsync/internal/bridge"
	"github.com/PorticoEstate/outlookbookingsync/internal/mapping"
	syncp "github.com/PorticoEstate/outlookbookingsync/internal/sync"
)

// Server wires the HTTP handlers to the sync components.
type Server struct {
	registry     *bridge.Registry
	orchestrator *syncp.Orchestrator
	service      *mapping.Service
	log          *slog.Logger
}

// NewServer creates a Server. service may be nil when the reservation
// pipeline is not configured; the pending endpoint then reports 404.
func NewServer(registry *bridge.Registry, orchestrator *syncp.Orchestrator, service *mapping.Service, logger *slog.Logger) *Server {
	return &Server{registry: registry, orchestrator: orchestrator, service: service, log: logger}
}

// Router builds the HTTP router.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logging)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/bridges", s.handleBridges).Methods(http.MethodGet)
	api.HandleFunc("/sync", s.handleSync).Methods(http.MethodPost)
	api.HandleFunc("/mappings/pending", s.handlePending).Methods(http.MethodGet)

	return r
}

// Run serves the API until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, listen string) error {
	srv := &http.Server{
		Addr:              listen,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	infos := s.registry.DescribeAll(r.Context())

	status := "healthy"
	for _, info := range infos {
		if info.Error != "" || info.Health.Status != "ok" {
			status = "degraded"
			break
		}
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"status": status, "bridges": infos})
}

func (s *Server) handleBridges(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.DescribeAll(r.Context()))
}

// syncRequest is the POST /api/sync body.
type syncRequest struct {
	SourceBridge     string    `json:"source_bridge"`
	TargetBridge     string    `json:"target_bridge"`
	SourceCalendarID string    `json:"source_calendar_id"`
	TargetCalendarID string    `json:"target_calendar_id"`
	Start            time.Time `json:"start"`
	End              time.Time `json:"end"`
	HandleDeletions  bool      `json:"handle_deletions"`
	SkipUpdates      bool      `json:"skip_updates"`
	DryRun           bool      `json:"dry_run"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.End.Before(req.Start) || req.Start.IsZero() {
		writeError(w, http.StatusBadRequest, "start and end must form a valid date range")
		return
	}

	result, err := s.orchestrator.SyncBetweenBridges(r.Context(), syncp.Request{
		SourceBridge:     req.SourceBridge,
		TargetBridge:     req.TargetBridge,
		SourceCalendarID: req.SourceCalendarID,
		TargetCalendarID: req.TargetCalendarID,
		Start:            req.Start,
		End:              req.End,
		Options: syncp.Options{
			HandleDeletions: req.HandleDeletions,
			SkipUpdates:     req.SkipUpdates,
			DryRun:          req.DryRun,
		},
	})
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, bridge.ErrNotFound) {
			code = http.StatusNotFound
		}
		writeError(w, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		writeError(w, http.StatusNotFound, "reservation pipeline is not configured")
		return
	}

	items, err := s.service.PendingSyncItems(r.Context(), 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(items), "items": items})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
