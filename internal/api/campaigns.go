package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/prospector/internal/lock"
)

func (s *Server) listLocks(w http.ResponseWriter, _ *http.Request) {
	recs, err := s.locks.ListActive()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recs == nil {
		recs = []lock.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) getLock(w http.ResponseWriter, r *http.Request) {
	rec, err := s.locks.Get(chi.URLParam(r, "sessionId"))
	if err != nil {
		writeLockError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"locked": rec != nil, "lock": rec})
}

// stopCampaign releases a campaign lock. The run itself keeps going; the
// release only frees the session for a new campaign. Without force only
// the owning process may release.
func (s *Server) stopCampaign(w http.ResponseWriter, r *http.Request) {
	session := chi.URLParam(r, "sessionId")
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	var released bool
	var err error
	if force {
		if !s.isAdmin(r) {
			writeError(w, http.StatusForbidden, "admin token required for forced release")
			return
		}
		released, err = s.locks.ForceRelease(session)
	} else {
		released, err = s.locks.Release(session)
	}
	if err != nil {
		writeLockError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessionId": session, "released": released, "forced": force})
}

func (s *Server) cleanupLocks(w http.ResponseWriter, _ *http.Request) {
	n, err := s.locks.CleanupAll()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (s *Server) instance(w http.ResponseWriter, _ *http.Request) {
	if s.singleton == nil {
		writeError(w, http.StatusNotFound, "no instance lock configured")
		return
	}
	info, err := s.singleton.RunningInstanceInfo()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if info == nil {
		writeError(w, http.StatusNotFound, "no running instance recorded")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func writeLockError(w http.ResponseWriter, err error) {
	if errors.Is(err, lock.ErrInvalidSession) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
