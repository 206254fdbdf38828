package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/MrWong99/shopvox/internal/search"
	"github.com/MrWong99/shopvox/pkg/criteria"
)

type actionsRequest struct {
	Actions []criteria.WireAction `json:"actions"`
}

type searchRequest struct {
	// Query, when set, is applied to the store before submitting.
	Query *string `json:"query,omitempty"`

	// Wait makes the call return the settled state instead of the loading
	// one.
	Wait bool `json:"wait,omitempty"`
}

type searchResponse struct {
	Token uint64       `json:"token"`
	State search.State `json:"state"`
}

type actorBody struct {
	ActorID string `json:"actor_id"`
}

func (s *Server) handleGetCriteria(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Current().Snapshot())
}

// handleCriteriaActions decodes every action before dispatching any, so a
// malformed batch leaves the criteria untouched.
func (s *Server) handleCriteriaActions(w http.ResponseWriter, r *http.Request) {
	var body actionsRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode actions: %w", err))
		return
	}
	if len(body.Actions) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("no actions"))
		return
	}
	actions := make([]criteria.Action, 0, len(body.Actions))
	for i, wa := range body.Actions {
		a, err := wa.Decode()
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("action %d: %w", i, err))
			return
		}
		actions = append(actions, a)
	}
	c := s.store.Dispatch(actions...)
	writeJSON(w, http.StatusOK, c.Snapshot())
}

func (s *Server) handleGetSearch(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.State())
}

// handleSearch is the explicit submit: it bypasses the debounce window.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var body searchRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &body); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("decode search: %w", err))
			return
		}
	}
	if body.Query != nil {
		s.store.Dispatch(criteria.SetQuery{Query: *body.Query})
	}

	req, err := s.orch.Submit(r.Context(), s.store.Current())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, search.ErrValidation) {
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, err)
		return
	}

	status := http.StatusAccepted
	if body.Wait {
		select {
		case <-req.Done():
			status = http.StatusOK
		case <-r.Context().Done():
			return
		}
	}
	writeJSON(w, status, searchResponse{Token: req.Token, State: s.orch.State()})
}

func (s *Server) handleGetActor(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, actorBody{ActorID: s.orch.Actor()})
}

// handlePutActor signs an actor in for history recording. An empty id signs
// out.
func (s *Server) handlePutActor(w http.ResponseWriter, r *http.Request) {
	var body actorBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode actor: %w", err))
		return
	}
	s.orch.SetActor(body.ActorID)
	writeJSON(w, http.StatusOK, body)
}
