package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vidsift/vidsift/internal/config"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))
	r.Get("/api/run", runStatusHandler(cfg))
	r.Get("/api/run/report", runReportHandler(cfg))
	r.Get("/api/history/runs", listRunsHandler(cfg))
	r.Get("/api/history/runs/{id}/jobs", listRunJobsHandler(cfg))

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: config.Version,
			UptimeS: int64(time.Since(cfg.StartTime).Seconds()),
		})
	}
}

func runStatusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, cfg.Tracker.Snapshot())
	}
}

func runReportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := cfg.Tracker.Report()
		if report == nil {
			WriteError(w, http.StatusNotFound, "run still in progress", "RUN_IN_PROGRESS")
			return
		}
		WriteJSON(w, http.StatusOK, report)
	}
}

func listRunsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.History == nil {
			WriteError(w, http.StatusNotFound, "run history is not configured", "HISTORY_DISABLED")
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		runs, err := cfg.History.ListRuns(r.Context(), limit)
		if err != nil {
			cfg.Logger.Error("failed to list runs", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to list runs", "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, runs)
	}
}

func listRunJobsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.History == nil {
			WriteError(w, http.StatusNotFound, "run history is not configured", "HISTORY_DISABLED")
			return
		}
		jobs, err := cfg.History.ListRunJobs(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			cfg.Logger.Error("failed to list run jobs", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to list run jobs", "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, jobs)
	}
}
