package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/civisearch/civisearch/pkg/cursor"
	"github.com/civisearch/civisearch/pkg/search"
	"github.com/civisearch/civisearch/pkg/version"
)

func (s *Server) HandleSearch(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	req := search.Request{
		Query:   params.Get("q"),
		Section: params.Get("section"),
		Cursor:  params.Get("cursor"),
		FormID:  params.Get("form_id"),
	}

	if raw := params.Get("page_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid page_size", "page_size must be an integer")
			return
		}
		req.PageSize = n
	}

	page, err := s.service.Search(r.Context(), req)
	switch {
	case errors.Is(err, cursor.ErrMalformed):
		s.writeError(w, http.StatusBadRequest, "Malformed cursor", err.Error())
		return
	case errors.Is(err, search.ErrInvalidQuery):
		s.writeError(w, http.StatusBadRequest, "Invalid query", err.Error())
		return
	case err != nil:
		s.logger.Errorf("search failed (request %s): %v", RequestID(r.Context()), err)
		s.writeError(w, http.StatusInternalServerError, "Search failed", err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, page)
}

func (s *Server) HandleStats(w http.ResponseWriter, r *http.Request) {
	top, err := s.tracker.TopQueries(r.Context(), 10)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to get stats", err.Error())
		return
	}

	cached, err := s.store.Count(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to get stats", err.Error())
		return
	}

	resp := StatsResponse{
		TopQueries:  make([]TopQueryResponse, 0, len(top)),
		CachedPages: cached,
	}
	if s.hub != nil {
		resp.FirehoseListeners = s.hub.Size()
	}
	for _, q := range top {
		resp.TopQueries = append(resp.TopQueries, TopQueryResponse{
			Query:    q.QueryText,
			Count:    q.Count,
			LastSeen: q.LastSeen,
		})
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Version:   version.APIVersion(),
	}

	s.writeJSON(w, http.StatusOK, health)
}
