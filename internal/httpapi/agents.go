package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/antoniostano/delphi/internal/agents"
)

type startRootRequest struct {
	Content    string `json:"content"`
	Annotation string `json:"annotation"`
}

type startRootResponse struct {
	ID string `json:"id"`
}

type interveneRequest struct {
	Annotation *string `json:"annotation"`
	Content    *string `json:"content"`
	Status     *string `json:"status"`
}

type answerQuestionRequest struct {
	Text    string `json:"text"`
	Decline bool   `json:"decline"`
}

func (s *Server) handleStartRoot(w http.ResponseWriter, r *http.Request) {
	var req startRootRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "content is required")
		return
	}

	id, _, err := s.service.StartRoot(r.Context(), req.Content, req.Annotation)
	if err != nil {
		respondError(w, http.StatusBadRequest, "start_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, startRootResponse{ID: id})
}

func (s *Server) handleSnapshotTree(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.service.SnapshotTree())
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_agent_id", "missing agent id")
		return
	}
	rec, live, err := s.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, agents.ErrNotFound) {
			respondError(w, http.StatusNotFound, "agent_not_found", "no live node or archived result for id")
			return
		}
		respondError(w, http.StatusInternalServerError, "lookup_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"live": live, "agent": rec})
}

// handleGetResult returns only the settled, archived result. A node that is
// still running is not ready rather than absent.
func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_agent_id", "missing agent id")
		return
	}
	rec, live, err := s.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, agents.ErrNotFound) {
			respondError(w, http.StatusNotFound, "agent_not_found", "no live node or archived result for id")
			return
		}
		respondError(w, http.StatusInternalServerError, "lookup_failed", err.Error())
		return
	}
	if live {
		respondError(w, http.StatusNotFound, "result_not_ready", "node has not settled yet")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListRecent(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}
	recs, err := s.service.ListRecent(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	if recs == nil {
		recs = []agents.Record{}
	}
	respondJSON(w, http.StatusOK, recs)
}

func (s *Server) handleIntervene(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_agent_id", "missing agent id")
		return
	}

	var req interveneRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Annotation == nil && req.Content == nil && req.Status == nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "at least one of annotation, content, status is required")
		return
	}

	ov := agents.Override{Annotation: req.Annotation, Content: req.Content}
	if req.Status != nil {
		st := agents.Status(strings.ToLower(strings.TrimSpace(*req.Status)))
		if !st.Terminal() && st != agents.StatusRunning {
			respondError(w, http.StatusBadRequest, "invalid_status", "unknown status value")
			return
		}
		ov.Status = &st
	}

	if !s.service.Intervene(id, ov) {
		respondError(w, http.StatusNotFound, "agent_not_found", "node is not registered")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"applied": true})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_agent_id", "missing agent id")
		return
	}
	if !s.service.CancelNode(id) {
		respondError(w, http.StatusNotFound, "agent_not_found", "node is not registered")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"cancelled": true})
}

func (s *Server) handleListQuestions(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.exchange.Pending())
}

func (s *Server) handleAnswerQuestion(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_question_id", "missing question id")
		return
	}

	var req answerQuestionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var delivered bool
	if req.Decline {
		delivered = s.exchange.Decline(id)
	} else {
		text := strings.TrimSpace(req.Text)
		if text == "" {
			respondError(w, http.StatusBadRequest, "invalid_request", "text is required unless decline is set")
			return
		}
		delivered = s.exchange.Answer(id, text)
	}
	if !delivered {
		respondError(w, http.StatusNotFound, "question_not_found", "question is not pending")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"delivered": true})
}
