package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	googleuuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/storefinder/internal/store"
)

const runTimeout = 3 * time.Second

type runDTO struct {
	SearchID    string     `json:"search_id"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	PagesOK     int64      `json:"pages_ok"`
	PagesFailed int64      `json:"pages_failed"`
	Products    int64      `json:"products"`
	Stores      int        `json:"stores"`
	Error       *string    `json:"error,omitempty"`
}

// searchRun handles GET /v1/searches/{search_id}/run. It returns 503 when no
// ledger is configured and 404 for runs owned by someone else.
func (s *Server) searchRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run ledger unavailable")
		return
	}
	ref, ok := searchRef(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), runTimeout)
	defer cancel()

	run, err := s.runs.GetRun(ctx, googleuuid.MustParse(ref.ID))
	if errors.Is(err, store.ErrRunNotFound) || (err == nil && run.Owner != ref.Owner) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("get run failed", zap.String("search_id", ref.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": toRunDTO(run)})
}

func toRunDTO(run store.Run) runDTO {
	return runDTO{
		SearchID:    run.SearchID.String(),
		Status:      string(run.Status),
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
		PagesOK:     run.PagesOK,
		PagesFailed: run.PagesFailed,
		Products:    run.Products,
		Stores:      run.Stores,
		Error:       run.Error,
	}
}
