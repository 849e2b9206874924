// Package server exposes extraction runs over HTTP: start a run, then poll
// its progress by run ID.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/fpang/hand-extractor/internal/failure"
	"github.com/fpang/hand-extractor/internal/jobs"
	"github.com/fpang/hand-extractor/internal/jobutil"
	"github.com/fpang/hand-extractor/internal/metrics"
	"github.com/fpang/hand-extractor/internal/pipeline"
	"github.com/fpang/hand-extractor/internal/store"
)

// maxRequestBytes caps the analyze request body.
const maxRequestBytes = 1 << 20

// Handler serves the run API.
type Handler struct {
	dispatch Dispatcher
	store    store.RunStore
	prom     *metrics.Prom

	// OriginSecret, when set, must arrive in the x-origin-verify header.
	OriginSecret string
}

// NewHandler builds a Handler. prom may be nil.
func NewHandler(d Dispatcher, runs store.RunStore, prom *metrics.Prom) *Handler {
	return &Handler{dispatch: d, store: runs, prom: prom}
}

// Router returns the chi router for the API.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	if h.prom != nil {
		r.Use(metrics.RequestMiddleware(h.prom))
		r.Handle("/metrics", h.prom.Handler())
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/api/analyze", func(r chi.Router) {
		r.Use(h.originVerify)
		r.Post("/", h.startRun)
		r.Get("/{runId}", h.getRun)
	})
	return r
}

// originVerify rejects requests without the shared secret header that the
// CDN in front of the API injects. With no secret configured every request
// passes.
func (h *Handler) originVerify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.OriginSecret != "" && r.Header.Get("x-origin-verify") != h.OriginSecret {
			log.Warn().Str("path", r.URL.Path).Msg("Blocked request: missing or invalid x-origin-verify header")
			httpError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type startResponse struct {
	RunID  string          `json:"runId"`
	Status pipeline.Status `json:"status"`
}

func (h *Handler) startRun(w http.ResponseWriter, r *http.Request) {
	var req pipeline.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if _, _, err := req.Validate(); err != nil {
		httpError(w, statusFor(err), err.Error())
		return
	}

	runID := jobs.NewRunID()
	now := time.Now().UTC()
	if err := h.store.PutRun(r.Context(), &store.RunRecord{
		RunID:     runID,
		StreamID:  req.StreamID,
		Source:    req.Source,
		Platform:  req.Platform,
		Status:    pipeline.StatusInitializing,
		StartedAt: now,
		UpdatedAt: now,
	}); err != nil {
		httpError(w, http.StatusInternalServerError, "could not create run", err.Error())
		return
	}

	if err := h.dispatch.Dispatch(r.Context(), runID, req); err != nil {
		write := h.store.SetRunError
		if werr := jobutil.SetRunError(context.WithoutCancel(r.Context()), runID, "dispatch", err, write); werr != nil {
			log.Warn().Err(werr).Str("runId", runID).Msg("Failed to record dispatch error")
		}
		httpError(w, http.StatusInternalServerError, "failed to start processing", err.Error())
		return
	}

	log.Info().Str("runId", runID).Str("streamId", req.StreamID).Int("ranges", len(req.Ranges)).Msg("Run accepted")
	respondJSON(w, http.StatusAccepted, startResponse{RunID: runID, Status: pipeline.StatusInitializing})
}

type runResponse struct {
	*store.RunRecord
	Segments []pipeline.SegmentSummary `json:"segments,omitempty"`
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := jobs.NormalizeRunID(chi.URLParam(r, "runId"))
	if !ok {
		httpError(w, http.StatusBadRequest, "invalid run ID")
		return
	}
	rec, err := h.store.GetRun(r.Context(), runID)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "could not read run", err.Error())
		return
	}
	if rec == nil || !jobs.CheckOwnership(r, rec.StreamID) {
		httpError(w, http.StatusNotFound, "run not found")
		return
	}
	resp := runResponse{RunRecord: rec}
	if rec.Status.Terminal() {
		segs, err := h.store.GetSegments(r.Context(), runID)
		if err != nil {
			log.Warn().Err(err).Str("runId", runID).Msg("Failed to read segment summaries")
		}
		resp.Segments = segs
	}
	respondJSON(w, http.StatusOK, resp)
}

func statusFor(err error) int {
	switch failure.Classify(err) {
	case failure.Input:
		return http.StatusBadRequest
	case failure.Config:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

// httpError sends clientMsg to the caller. internalDetails are logged only.
func httpError(w http.ResponseWriter, status int, clientMsg string, internalDetails ...string) {
	if len(internalDetails) > 0 {
		log.Error().
			Int("status", status).
			Str("clientMsg", clientMsg).
			Strs("internalDetails", internalDetails).
			Msg("HTTP error with internal details")
	}
	respondJSON(w, status, map[string]string{"error": clientMsg})
}
