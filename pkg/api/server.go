// Package api exposes the search service over HTTP: JSON endpoints for
// searching and stats, a health probe, and a WebSocket firehose of executed
// searches.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/civisearch/civisearch/pkg/cache"
	"github.com/civisearch/civisearch/pkg/log"
	"github.com/civisearch/civisearch/pkg/popularity"
	"github.com/civisearch/civisearch/pkg/realtime"
	"github.com/civisearch/civisearch/pkg/search"
)

type Server struct {
	service *search.Service
	tracker *popularity.SQLTracker
	store   cache.Store
	hub     *realtime.FirehoseHub
	logger  *log.Logger
}

func NewServer(service *search.Service, tracker *popularity.SQLTracker, store cache.Store, hub *realtime.FirehoseHub) *Server {
	return &Server{
		service: service,
		tracker: tracker,
		store:   store,
		hub:     hub,
		logger:  log.ForService("api"),
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Errorf("encoding JSON response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, error, message string) {
	response := ErrorResponse{
		Error:   error,
		Message: message,
	}
	s.writeJSON(w, status, response)
}

func CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type requestIDKey struct{}

// RequestIDMiddleware tags every request with a uuid, echoed in the
// X-Request-ID header and available to handlers via RequestID.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// RequestID returns the request id set by RequestIDMiddleware, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
