package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/storefinder/internal/crawler"
	"github.com/JakeFAU/storefinder/internal/id/uuid"
)

type startRequest struct {
	Queries []crawler.QueryGroup `json:"queries"`
}

type startResponse struct {
	SearchID string `json:"search_id"`
}

type searchResponse struct {
	SearchID string               `json:"search_id"`
	Queries  []crawler.QueryGroup `json:"queries"`
}

type resultResponse struct {
	SearchID string            `json:"search_id"`
	Results  crawler.ResultSet `json:"results"`
}

func (s *Server) startSearch(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	ref, err := s.searches.Start(r.Context(), ownerFrom(r.Context()), req.Queries)
	if err != nil {
		s.writeSearchError(w, r, "start search", err)
		return
	}
	writeJSON(w, http.StatusAccepted, startResponse{SearchID: ref.ID})
}

func (s *Server) describeSearch(w http.ResponseWriter, r *http.Request) {
	ref, ok := searchRef(w, r)
	if !ok {
		return
	}
	queries, err := s.searches.Queries(r.Context(), ref)
	if err != nil {
		s.writeSearchError(w, r, "read search", err)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{SearchID: ref.ID, Queries: queries})
}

func (s *Server) stopSearch(w http.ResponseWriter, r *http.Request) {
	ref, ok := searchRef(w, r)
	if !ok {
		return
	}
	force := false
	if raw := r.URL.Query().Get("force"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid force parameter")
			return
		}
		force = parsed
	}
	if err := s.searches.Stop(r.Context(), ref, force); err != nil {
		s.writeSearchError(w, r, "stop search", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"search_id": ref.ID, "stopping": true, "force": force})
}

func (s *Server) pollSearch(w http.ResponseWriter, r *http.Request) {
	ref, ok := searchRef(w, r)
	if !ok {
		return
	}
	snap, err := s.searches.Poll(r.Context(), ref)
	if err != nil {
		s.writeSearchError(w, r, "poll search", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) searchResult(w http.ResponseWriter, r *http.Request) {
	ref, ok := searchRef(w, r)
	if !ok {
		return
	}
	result, done, err := s.searches.Result(r.Context(), ref)
	if err != nil {
		s.writeSearchError(w, r, "read result", err)
		return
	}
	if !done {
		writeError(w, http.StatusConflict, "search has not finished")
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{SearchID: ref.ID, Results: result})
}

func searchRef(w http.ResponseWriter, r *http.Request) (crawler.SearchRef, bool) {
	id := chi.URLParam(r, "search_id")
	if !uuid.Valid(id) {
		writeError(w, http.StatusBadRequest, "invalid search_id")
		return crawler.SearchRef{}, false
	}
	return crawler.SearchRef{Owner: ownerFrom(r.Context()), ID: id}, true
}

func (s *Server) writeSearchError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, crawler.ErrInvalidQuery):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, crawler.ErrNotFound):
		writeError(w, http.StatusNotFound, "search not found")
	case errors.Is(err, crawler.ErrTooManySearches):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, crawler.ErrQueueFull), errors.Is(err, crawler.ErrQueueClosed):
		w.Header().Set("Retry-After", "30")
		writeError(w, http.StatusServiceUnavailable, "search service is busy")
	default:
		s.logger.Error(op+" failed",
			zap.String("request_id", requestID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, op+" failed")
	}
}
