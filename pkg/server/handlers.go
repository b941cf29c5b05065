package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/openbdc/broadbandsync/pkg/config"
	"github.com/openbdc/broadbandsync/pkg/export"
	"github.com/openbdc/broadbandsync/pkg/httpx"
	"github.com/openbdc/broadbandsync/pkg/pipeline"
	"github.com/openbdc/broadbandsync/pkg/server/monitor"
)

var startTime = time.Now()

// runner is the slice of the orchestrator the server needs.
type runner interface {
	Run(ctx context.Context, runID string) (*pipeline.Summary, error)
}

// Server exposes the trigger API over the pipeline orchestrator.
type Server struct {
	cfg     *config.Config
	orch    runner
	monitor *monitor.RunMonitor
	hub     *RunHub
	storage *monitor.StorageMonitor

	// backup is optional; one-shot deployments skip it
	backup *export.Handler

	// runTimeout bounds a triggered run's lifetime
	runTimeout time.Duration

	mu          sync.RWMutex
	lastSummary *pipeline.Summary
}

// NewServer creates the trigger server.
func NewServer(cfg *config.Config, orch runner, runMonitor *monitor.RunMonitor, hub *RunHub, storageMonitor *monitor.StorageMonitor) *Server {
	return &Server{
		cfg:        cfg,
		orch:       orch,
		monitor:    runMonitor,
		hub:        hub,
		storage:    storageMonitor,
		runTimeout: config.DefaultRunTimeout,
	}
}

// SetBackupHandler enables the layer backup and restore endpoints.
func (s *Server) SetBackupHandler(h *export.Handler) { s.backup = h }

// TriggerResponse acknowledges an accepted run.
type TriggerResponse struct {
	RunID    string `json:"run_id"`
	Accepted bool   `json:"accepted"`
}

// StatusResponse reports run health and the last completed run's summary.
type StatusResponse struct {
	Run         monitor.RunStatus `json:"run"`
	LastSummary *pipeline.Summary `json:"last_summary,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status string            `json:"status"`
	Uptime string            `json:"uptime"`
	Run    monitor.RunStatus `json:"run"`
}

// StorageUsage represents current storage usage stats.
type StorageUsage struct {
	UsedBytes int64 `json:"used_bytes"`
	MaxBytes  int64 `json:"max_bytes"`
}

// HandleTriggerRun starts a pipeline run. Only one run may be in flight at a
// time; a trigger during an active run is rejected with 409.
func (s *Server) HandleTriggerRun(w http.ResponseWriter, r *http.Request) {
	runID := uuid.NewString()
	if !s.monitor.TryBegin(runID) {
		active, _ := s.monitor.Active()
		httpx.RespondErrorString(w, http.StatusConflict,
			fmt.Sprintf("run %s already in progress", active))
		return
	}

	log.Printf("Run %s accepted", runID)
	go s.executeRun(runID)

	httpx.RespondJSON(w, http.StatusAccepted, TriggerResponse{RunID: runID, Accepted: true})
}

// executeRun drives one run to completion in the background. The run is
// detached from the trigger request's context so a disconnecting client
// never aborts a half-published layer.
func (s *Server) executeRun(runID string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
	defer cancel()

	summary, err := s.orch.Run(ctx, runID)

	s.mu.Lock()
	s.lastSummary = summary
	s.mu.Unlock()

	switch {
	case err != nil:
		s.monitor.RecordFailure(runID, err)
	case summary.Failed() > 0:
		s.monitor.RecordFailure(runID, fmt.Errorf("%d of %d layers failed", summary.Failed(), len(summary.Results)))
	default:
		s.monitor.RecordSuccess(runID)
	}
}

// HandleStatus returns run health and the last run's summary.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	last := s.lastSummary
	s.mu.RUnlock()

	httpx.RespondJSON(w, http.StatusOK, StatusResponse{
		Run:         s.monitor.Status(),
		LastSummary: last,
	})
}

// HandleHealth returns service health status.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	overallStatus := "healthy"
	statusCode := http.StatusOK
	if !s.monitor.IsHealthy() {
		overallStatus = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	httpx.RespondJSON(w, statusCode, HealthResponse{
		Status: overallStatus,
		Uptime: time.Since(startTime).String(),
		Run:    s.monitor.Status(),
	})
}

// HandleLayers returns the configured layers.
func (s *Server) HandleLayers(w http.ResponseWriter, r *http.Request) {
	httpx.RespondJSON(w, http.StatusOK, s.cfg.Layers)
}

// HandleStorageUsage returns current data directory usage.
func (s *Server) HandleStorageUsage(w http.ResponseWriter, r *http.Request) {
	usedBytes, err := s.storage.GetUsage()
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	httpx.RespondJSON(w, http.StatusOK, StorageUsage{
		UsedBytes: usedBytes,
		MaxBytes:  s.storage.GetLimit(),
	})
}

// SetupRoutes configures all HTTP routes for the server.
func (s *Server) SetupRoutes(router *mux.Router, port string) {
	router.Use(corsMiddleware(port))

	api := router.PathPrefix("/v1").Subrouter()

	api.HandleFunc("/run", s.HandleTriggerRun).Methods("POST")
	api.HandleFunc("/status", s.HandleStatus).Methods("GET")
	api.HandleFunc("/layers", s.HandleLayers).Methods("GET")
	api.HandleFunc("/storage", s.HandleStorageUsage).Methods("GET")
	api.HandleFunc("/health", s.HandleHealth).Methods("GET")

	// WebSocket for run progress
	api.HandleFunc("/ws", s.hub.HandleWebSocket).Methods("GET")

	// Layer backup and restore
	if s.backup != nil {
		api.HandleFunc("/export", s.backup.HandleExport).Methods("GET")
		api.HandleFunc("/import", s.backup.HandleImport).Methods("POST")
	}
}

// corsMiddleware creates CORS middleware that restricts to localhost origins only.
func corsMiddleware(port string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowedOrigins := []string{
				"http://localhost:" + port,
				"http://127.0.0.1:" + port,
			}

			allowed := false
			for _, allowedOrigin := range allowedOrigins {
				if origin == allowedOrigin {
					allowed = true
					break
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			}

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
