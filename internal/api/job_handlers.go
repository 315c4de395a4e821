package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sitegrab/sitegrab/internal/job"
	"github.com/sitegrab/sitegrab/internal/metrics"
	"github.com/sitegrab/sitegrab/internal/pipeline"
)

const historyTimeout = 3 * time.Second

func (s *Server) submitText(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, job.KindText, s.pipelines.Text)
}

func (s *Server) submitImages(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, job.KindImages, s.pipelines.Images)
}

// submit validates the request, registers a job, and hands it to the
// pipeline in the background. Validation happens before any job exists so a
// rejected URL never reaches the network.
func (s *Server) submit(w http.ResponseWriter, r *http.Request, kind job.Kind, runner Runner) {
	if runner == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline unavailable")
		return
	}
	var req pipeline.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	s.applyCrawlDefaults(&req)
	if err := req.Validate(r.Context(), s.checker); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	j, runCtx, err := s.jobs.Create(kind)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}
	go runner.Run(runCtx, j, req)

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": j.ID})
}

// applyCrawlDefaults fills configured crawl limits into a crawl request that
// left them unset, so omitting max_pages means the operator default rather
// than the hard ceiling.
func (s *Server) applyCrawlDefaults(req *pipeline.Request) {
	if req.Mode != pipeline.ModeCrawl {
		return
	}
	if req.MaxPages == 0 {
		req.MaxPages = s.cfg.Crawl.MaxPagesDefault
	}
	if req.MaxDepth == 0 {
		req.MaxDepth = s.cfg.Crawl.MaxDepthDefault
	}
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	j, ok := s.jobs.Get(chi.URLParam(r, "job_id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	snap := j.Snapshot()
	pages, items := j.Counters()
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":  j.ID,
		"kind":    j.Kind,
		"status":  snap.Status,
		"percent": snap.Percent,
		"message": snap.Message,
		"pages":   pages,
		"items":   items,
	})
}

// streamEvents pushes progress snapshots as server-sent events until the job
// reaches a terminal state or the client goes away. A new subscriber always
// receives the latest snapshot first.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	j, ok := s.jobs.Get(chi.URLParam(r, "job_id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	updates, cancel := j.Subscribe()
	defer cancel()
	metrics.IncSSESubscribers()
	defer metrics.DecSSESubscribers()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case snap, open := <-updates:
			if !open {
				return
			}
			payload, err := json.Marshal(snap)
			if err != nil {
				s.logger.Error("marshal snapshot failed", zap.Error(err))
				return
			}
			if _, err := w.Write([]byte("data: " + string(payload) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
			if snap.Status.Terminal() {
				return
			}
		}
	}
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "job_id")
	_, err := s.jobs.Cancel(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	// Repeated cancels are fine; the response is the same either way.
	writeJSON(w, http.StatusOK, map[string]string{"job_id": id, "status": "cancelling"})
}

func (s *Server) getArtifact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "job_id")
	rc, artifact, err := s.jobs.OpenArtifact(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, job.ErrUnknownJob):
			writeError(w, http.StatusNotFound, "job not found")
		case errors.Is(err, job.ErrNotReady):
			writeError(w, http.StatusConflict, "job still running")
		case errors.Is(err, job.ErrJobFailed):
			writeError(w, http.StatusGone, err.Error())
		default:
			s.logger.Error("open artifact failed", zap.String("job_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to open artifact")
		}
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", artifact.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+artifact.Filename+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Warn("artifact stream interrupted", zap.String("job_id", id), zap.Error(err))
	}
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history store unavailable")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	ctx, cancel := context.WithTimeout(r.Context(), historyTimeout)
	defer cancel()

	runs, err := s.history.Recent(ctx, limit)
	if err != nil {
		s.logger.Error("list history failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}
