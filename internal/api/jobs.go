package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/jonidaniel/jobsai/internal/id/uuid"
	"github.com/jonidaniel/jobsai/internal/job"
)

type startResponse struct {
	JobID string `json:"job_id"`
}

type progressResponse struct {
	Status    job.Status    `json:"status"`
	Progress  *job.Progress `json:"progress,omitempty"`
	Filenames []string      `json:"filenames,omitempty"`
	Keys      []string      `json:"keys,omitempty"`
	Count     *int          `json:"count,omitempty"`
	Error     string        `json:"error,omitempty"`
}

type downloadLink struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

// startJob validates the payload, writes the initial running record and hands
// the invocation off without waiting for the pipeline.
func (s *Server) startJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req job.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := req.Validate(s.deps.Boards); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobID, err := s.deps.IDs.NewID()
	if err != nil {
		s.logger.Error("generate job id", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start pipeline")
		return
	}
	log := s.logger.With(zap.String("job_id", jobID))
	now := s.deps.Clock.Now()
	if err := s.deps.Store.Create(r.Context(), job.NewState(jobID, req, now)); err != nil {
		log.Error("store initial state", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start pipeline")
		return
	}

	invokeCtx, cancel := context.WithTimeout(r.Context(), invokeTimeout)
	defer cancel()
	inv := job.Invocation{JobID: jobID, Request: req, Submitted: now}
	if err := s.deps.Invoker.Invoke(invokeCtx, inv); err != nil {
		log.Error("invoke pipeline", zap.Error(err))
		msg := fmt.Sprintf("failed to start pipeline: %v", err)
		if werr := s.deps.Store.UpdateTerminal(context.WithoutCancel(r.Context()), jobID, job.StatusError, nil, msg); werr != nil {
			log.Error("mark failed start", zap.Error(werr))
		}
		writeError(w, http.StatusInternalServerError, "failed to start pipeline")
		return
	}
	log.Info("pipeline start requested", zap.Strings("boards", req.JobBoards), zap.Bool("deep_mode", req.DeepMode))
	writeJSON(w, http.StatusAccepted, startResponse{JobID: jobID})
}

func (s *Server) getProgress(w http.ResponseWriter, r *http.Request) {
	state, ok := s.loadState(w, r)
	if !ok {
		return
	}
	resp := progressResponse{Status: state.Status, Progress: state.Progress}
	switch state.Status {
	case job.StatusComplete:
		resp.Filenames = state.ResultStrings(job.ResultFilenames)
		resp.Keys = state.ResultStrings(job.ResultKeys)
		count := len(resp.Keys)
		resp.Count = &count
	case job.StatusError:
		resp.Error = state.Error
		if resp.Error == "" {
			resp.Error = "unknown error"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// cancelJob only requests cancellation; the pipeline stops at its next checkpoint.
func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDParam(w, r)
	if !ok {
		return
	}
	if err := s.deps.Store.RequestCancellation(r.Context(), jobID); err != nil {
		if errors.Is(err, job.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("request cancellation", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to request cancellation")
		return
	}
	s.logger.Info("cancellation requested", zap.String("job_id", jobID))
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancellation_requested"})
}

// download presigns every document of a complete job, or the 1-based index.
func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	state, ok := s.loadState(w, r)
	if !ok {
		return
	}
	if state.Status != job.StatusComplete {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("document not ready, status: %s", state.Status))
		return
	}
	keys := state.ResultStrings(job.ResultKeys)
	if len(keys) == 0 {
		writeError(w, http.StatusInternalServerError, "document result not available")
		return
	}
	filenames := state.ResultStrings(job.ResultFilenames)

	if raw := r.URL.Query().Get("index"); raw != "" {
		index, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "index must be an integer")
			return
		}
		if index < 1 || index > len(keys) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("document index %d not found, available: 1-%d", index, len(keys)))
			return
		}
		link, err := s.presign(r.Context(), keys, filenames, index-1)
		if err != nil {
			s.logger.Error("presign document", zap.String("job_id", state.JobID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "no download URLs available")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"download_url": link.URL, "filename": link.Filename})
		return
	}

	links := make([]downloadLink, 0, len(keys))
	for i := range keys {
		link, err := s.presign(r.Context(), keys, filenames, i)
		if err != nil {
			s.logger.Error("presign document", zap.String("job_id", state.JobID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "no download URLs available")
			return
		}
		links = append(links, link)
	}
	writeJSON(w, http.StatusOK, map[string]any{"download_urls": links, "count": len(links)})
}

func (s *Server) presign(ctx context.Context, keys, filenames []string, i int) (downloadLink, error) {
	url, err := s.deps.Artifacts.Presign(ctx, keys[i], s.cfg.PresignTTL())
	if err != nil {
		return downloadLink{}, fmt.Errorf("presign %s: %w", keys[i], err)
	}
	name := path.Base(keys[i])
	if i < len(filenames) && filenames[i] != "" {
		name = filenames[i]
	}
	return downloadLink{URL: url, Filename: name}, nil
}

func (s *Server) loadState(w http.ResponseWriter, r *http.Request) (job.State, bool) {
	jobID, ok := jobIDParam(w, r)
	if !ok {
		return job.State{}, false
	}
	state, err := s.deps.Store.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return job.State{}, false
		}
		s.logger.Error("read job state", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read job state")
		return job.State{}, false
	}
	return state, true
}

func jobIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	jobID := chi.URLParam(r, "job_id")
	if !uuid.Valid(jobID) {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return "", false
	}
	return jobID, true
}
