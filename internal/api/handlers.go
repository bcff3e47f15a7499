package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"cronkeep/internal/crontab"
	"cronkeep/internal/job"
	"cronkeep/internal/manager"
)

const maxBody = 1 << 20

type autoSyncJSON struct {
	Enabled bool `json:"enabled"`
}

type soundsJSON struct {
	Sounds []string `json:"sounds"`
}

type healthJSON struct {
	Status string `json:"status"`
	Jobs   int    `json:"jobs"`
	Daemon any    `json:"daemon,omitempty"`
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		h := healthJSON{Status: "ok", Jobs: len(s.mgr.List())}
		if s.health != nil {
			h.Daemon = s.health()
		}
		writeJSON(w, http.StatusOK, h)
	}
}

func (s *Server) handleListJobs() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		jobs := s.mgr.List()
		if jobs == nil {
			jobs = []job.Job{}
		}
		writeJSON(w, http.StatusOK, jobs)
	}
}

func (s *Server) handleGetJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		j, ok := s.mgr.Get(id)
		if !ok {
			writeError(w, fmt.Errorf("%w: %s", job.ErrJobNotFound, id))
			return
		}
		writeJSON(w, http.StatusOK, j)
	}
}

func (s *Server) handleAddJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var j job.Job
		if err := decode(r, &j); err != nil {
			writeError(w, err)
			return
		}
		writeResult(w, http.StatusCreated, s.mgr.Add(r.Context(), j))
	}
}

func (s *Server) handleUpdateJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p job.Patch
		if err := decode(r, &p); err != nil {
			writeError(w, err)
			return
		}
		writeResult(w, http.StatusOK, s.mgr.Update(r.Context(), chi.URLParam(r, "id"), p))
	}
}

func (s *Server) handleDeleteJob() http.HandlerFunc {
	return s.handleJobOp(s.mgr.Delete)
}

func (s *Server) handleJobOp(op func(ctx context.Context, id string) manager.OperationResult) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, http.StatusOK, op(r.Context(), chi.URLParam(r, "id")))
	}
}

func (s *Server) handleOp(op func(ctx context.Context) manager.OperationResult) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, http.StatusOK, op(r.Context()))
	}
}

func (s *Server) handleTestRun() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var j job.Job
		if err := decode(r, &j); err != nil {
			writeError(w, err)
			return
		}
		res, err := s.mgr.TestRun(r.Context(), j)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleLogs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logs, err := s.mgr.Logs(r.Context(), r.URL.Query().Get("jobId"))
		if err != nil {
			writeError(w, err)
			return
		}
		if logs == nil {
			logs = []job.ExecutionLog{}
		}
		writeJSON(w, http.StatusOK, logs)
	}
}

func (s *Server) handlePruneLogs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, http.StatusOK, s.mgr.PruneLogs(r.Context(), r.URL.Query().Get("jobId")))
	}
}

func (s *Server) handleGetAutoSync() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, autoSyncJSON{Enabled: s.mgr.AutoSync()})
	}
}

func (s *Server) handleSetAutoSync() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body autoSyncJSON
		if err := decode(r, &body); err != nil {
			writeError(w, err)
			return
		}
		writeResult(w, http.StatusOK, s.mgr.SetAutoSync(r.Context(), body.Enabled))
	}
}

func (s *Server) handleSounds() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, soundsJSON{Sounds: s.mgr.Sounds()})
	}
}

var errBadRequest = errors.New("bad request")

func decode(r *http.Request, out any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// statusFor maps lifecycle errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, job.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, job.ErrDuplicateID):
		return http.StatusConflict
	case errors.Is(err, errBadRequest),
		errors.Is(err, job.ErrInvalidJob),
		errors.Is(err, job.ErrInvalidJobID),
		errors.Is(err, job.ErrInvalidCommand),
		errors.Is(err, job.ErrInvalidScheduleFormat),
		errors.Is(err, crontab.ErrNothingToExport):
		return http.StatusBadRequest
	case errors.Is(err, errors.ErrUnsupported):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func writeResult(w http.ResponseWriter, okCode int, res manager.OperationResult) {
	if !res.Success {
		writeJSON(w, statusFor(res.Error), res)
		return
	}
	writeJSON(w, okCode, res)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), manager.OperationResult{Success: false, Message: err.Error()})
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
