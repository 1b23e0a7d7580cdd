package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"mercator-hq/bastion/pkg/policy"
	"mercator-hq/bastion/pkg/policy/violation"
)

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.Reload(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var ectx policy.EvaluationContext
	if err := decodeBody(r, &ectx); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.engine.Evaluate(r.Context(), ectx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := s.engine.List()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policies)
}

func (s *Server) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	var p policy.Policy
	if err := decodeBody(r, &p); err != nil {
		writeError(w, err)
		return
	}
	created, err := s.engine.Create(r.Context(), &p)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Location", "/v1/policies/"+created.ID)
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var p policy.Policy
	if err := decodeBody(r, &p); err != nil {
		writeError(w, err)
		return
	}
	updated, err := s.engine.Update(r.Context(), mux.Vars(r)["id"], &p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := s.engine.SetEnabled(r.Context(), id, enabled); err != nil {
			writeError(w, err)
			return
		}
		p, err := s.engine.Get(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	entry, err := s.engine.CreateVersionSnapshot(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.engine.History(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	p, err := s.engine.Rollback(r.Context(), vars["id"], vars["history_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleListViolations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := violation.Filter{PolicyID: q.Get("policy_id")}
	var err error
	if f.Since, err = timeParam(q.Get("since")); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid since: "+err.Error())
		return
	}
	if f.Until, err = timeParam(q.Get("until")); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid until: "+err.Error())
		return
	}

	violations, err := s.engine.ListViolations(f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, violations)
}

func (s *Server) handleRecordViolation(w http.ResponseWriter, r *http.Request) {
	var v policy.Violation
	if err := decodeBody(r, &v); err != nil {
		writeError(w, err)
		return
	}
	stored, err := s.engine.RecordViolation(r.Context(), v)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (s *Server) handleBindings(w http.ResponseWriter, r *http.Request) {
	bindings, err := s.engine.Bindings()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bindings)
}

func (s *Server) handleBinding(w http.ResponseWriter, r *http.Request) {
	b, err := s.engine.Binding(mux.Vars(r)["service_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// timeParam parses an optional RFC 3339 query parameter.
func timeParam(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
