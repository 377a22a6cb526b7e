package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/0xPuncker/panelcron/internal/store"
	"github.com/0xPuncker/panelcron/pkg/calendar"
	"github.com/0xPuncker/panelcron/pkg/types"
	"github.com/0xPuncker/panelcron/pkg/utils"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Scheduler is the daemon ticker as seen by the API
type Scheduler interface {
	Start() error
	Stop()
	IsRunning() bool
	NextTick() time.Time
	LastReport() (*types.Report, error)
}

type Handler struct {
	store     store.Store
	scheduler Scheduler
	logger    *logrus.Logger
	loc       *time.Location
	now       func() time.Time
}

// JobStatus is a job together with what its schedule means right now
type JobStatus struct {
	types.Job
	Valid   bool       `json:"valid"`
	NextRun *time.Time `json:"next_run,omitempty"`
	NextIn  string     `json:"next_in,omitempty"`
}

type JobsResponse struct {
	Jobs    []JobStatus `json:"jobs"`
	Total   int         `json:"total"`
	Enabled int         `json:"enabled"`
	Invalid int         `json:"invalid"`
}

type SchedulerStatus struct {
	Running  bool       `json:"running"`
	NextTick *time.Time `json:"next_tick,omitempty"`
}

type LastRunResponse struct {
	Report *types.Report `json:"report,omitempty"`
	Error  string        `json:"error,omitempty"`
}

func NewHandler(s store.Store, scheduler Scheduler, logger *logrus.Logger, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.Local
	}
	return &Handler{
		store:     s,
		scheduler: scheduler,
		logger:    logger,
		loc:       loc,
		now:       time.Now,
	}
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"scheduler": h.schedulerStatus(),
	})
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.store.Jobs(r.Context())
	if err != nil {
		h.handleError(w, fmt.Errorf("failed to list jobs: %w", err), http.StatusServiceUnavailable)
		return
	}

	now := h.now().In(h.loc)
	response := JobsResponse{
		Jobs:  make([]JobStatus, 0, len(jobs)),
		Total: len(jobs),
	}
	for _, job := range jobs {
		status := h.jobStatus(job, now)
		if job.Enabled {
			response.Enabled++
		}
		if !status.Valid {
			response.Invalid++
		}
		response.Jobs = append(response.Jobs, status)
	}

	w.Header().Set("Cache-Control", "no-cache")
	h.writeJSON(w, http.StatusOK, response)
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.ParseInt(vars["id"], 10, 64)
	if err != nil {
		h.handleError(w, fmt.Errorf("invalid job id %q", vars["id"]), http.StatusBadRequest)
		return
	}

	job, err := h.store.Get(r.Context(), id)
	if err != nil {
		code := http.StatusServiceUnavailable
		if errors.Is(err, store.ErrJobNotFound) {
			code = http.StatusNotFound
		}
		h.handleError(w, err, code)
		return
	}

	h.writeJSON(w, http.StatusOK, h.jobStatus(job, h.now().In(h.loc)))
}

func (h *Handler) GetLastRun(w http.ResponseWriter, r *http.Request) {
	report, err := h.scheduler.LastReport()
	if report == nil && err == nil {
		h.handleError(w, errors.New("no scheduler run yet"), http.StatusNotFound)
		return
	}

	response := LastRunResponse{Report: report}
	if err != nil {
		response.Error = err.Error()
	}
	h.writeJSON(w, http.StatusOK, response)
}

func (h *Handler) StartScheduler(w http.ResponseWriter, r *http.Request) {
	if err := h.scheduler.Start(); err != nil {
		h.handleError(w, err, http.StatusConflict)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"status": "scheduler started successfully",
	})
}

func (h *Handler) StopScheduler(w http.ResponseWriter, r *http.Request) {
	h.scheduler.Stop()
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status": "scheduler stopped successfully",
	})
}

func (h *Handler) jobStatus(job types.Job, now time.Time) JobStatus {
	status := JobStatus{Job: job}

	expr, err := calendar.Parse(job.Schedule)
	if err != nil {
		return status
	}
	status.Valid = true

	if !job.Enabled {
		return status
	}
	if next, ok := expr.Next(now); ok {
		status.NextRun = &next
		status.NextIn = utils.FormatDuration(next.Sub(now))
	}
	return status
}

func (h *Handler) schedulerStatus() SchedulerStatus {
	status := SchedulerStatus{Running: h.scheduler.IsRunning()}
	if next := h.scheduler.NextTick(); !next.IsZero() {
		status.NextTick = &next
	}
	return status
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Errorf("Failed to encode response: %v", err)
	}
}

func (h *Handler) handleError(w http.ResponseWriter, err error, code int) {
	h.logger.Error(err)
	h.writeJSON(w, code, map[string]string{
		"error": err.Error(),
	})
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	router := mux.NewRouter()
	SetupRoutes(router, h)
	router.ServeHTTP(w, r)
}
