package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/lock"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/workflow"
)

// startResponse is returned by POST /api/workflows.
type startResponse struct {
	JobID     string `json:"jobId"`
	SessionID string `json:"sessionId,omitempty"`
}

func (s *Server) startWorkflow(w http.ResponseWriter, r *http.Request) {
	var params model.Params
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&params); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var opts []workflow.StartOption
	var held *lock.Record
	if params.IsCampaign() {
		rec, err := s.locks.AcquireRecord(params.SessionID, params.CampaignType)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if rec == nil {
			holder, _ := s.locks.Get(params.SessionID)
			writeJSON(w, http.StatusConflict, map[string]any{
				"error": "a campaign is already running for this session",
				"lock":  holder,
			})
			return
		}
		held = rec
		opts = append(opts, workflow.WithOnDone(func(model.JobRecord) {
			s.release(*rec)
		}))
	}

	id, err := s.workflows.Start(params, opts...)
	if err != nil {
		if held != nil {
			s.release(*held)
		}
		if errors.Is(err, model.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, startResponse{JobID: id, SessionID: params.SessionID})
}

// release drops the campaign lock a run took, unless it was stopped and the
// session has been locked again since.
func (s *Server) release(rec lock.Record) {
	if _, err := s.locks.ReleaseRecord(rec); err != nil {
		zap.L().Warn("api: release campaign lock", zap.String("session_id", rec.SessionID), zap.Error(err))
	}
}

func (s *Server) listWorkflows(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.workflows.List())
}

func (s *Server) workflowStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.workflows.Status(chi.URLParam(r, "id"))
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) workflowResult(w http.ResponseWriter, r *http.Request) {
	res, err := s.workflows.Result(chi.URLParam(r, "id"))
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeWorkflowError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, workflow.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found or expired")
	case errors.Is(err, workflow.ErrJobNotComplete), errors.Is(err, workflow.ErrJobFailed):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
