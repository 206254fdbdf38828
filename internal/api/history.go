package api

import (
	"errors"
	"net/http"

	"github.com/MrWong99/shopvox/internal/history"
)

var (
	errNoHistory = errors.New("history is not available")
	errNoActor   = errors.New("sign in to use search history")
)

type clearResponse struct {
	Deleted int `json:"deleted"`
}

type historyResponse struct {
	Entries []history.Entry `json:"entries"`
}

type suggestionsResponse struct {
	Suggestions []string `json:"suggestions"`
}

// historyActor resolves the actor for a history route or writes the error
// response and returns "".
func (s *Server) historyActor(w http.ResponseWriter, r *http.Request) string {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, errNoHistory)
		return ""
	}
	actor := s.actor(r)
	if actor == "" {
		writeError(w, http.StatusUnauthorized, errNoActor)
	}
	return actor
}

func historyStatus(err error) int {
	switch {
	case errors.Is(err, history.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, history.ErrInvalidActor):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	actor := s.historyActor(w, r)
	if actor == "" {
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	entries, err := s.history.List(r.Context(), actor, limit)
	if err != nil {
		writeError(w, historyStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Entries: entries})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	actor := s.historyActor(w, r)
	if actor == "" {
		return
	}
	n, err := s.history.Clear(r.Context(), actor)
	if err != nil {
		writeError(w, historyStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, clearResponse{Deleted: n})
}

func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	actor := s.historyActor(w, r)
	if actor == "" {
		return
	}
	if err := s.history.Delete(r.Context(), actor, r.PathValue("id")); err != nil {
		writeError(w, historyStatus(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	actor := s.historyActor(w, r)
	if actor == "" {
		return
	}
	a, err := s.history.Analytics(r.Context(), actor)
	if err != nil {
		writeError(w, historyStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	actor := s.historyActor(w, r)
	if actor == "" {
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	out, err := s.history.Suggestions(r.Context(), actor, limit)
	if err != nil {
		writeError(w, historyStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, suggestionsResponse{Suggestions: out})
}
