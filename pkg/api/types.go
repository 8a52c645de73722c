package api

import (
	"time"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type TopQueryResponse struct {
	Query    string    `json:"query"`
	Count    int       `json:"count"`
	LastSeen time.Time `json:"last_seen"`
}

type StatsResponse struct {
	TopQueries        []TopQueryResponse `json:"top_queries"`
	CachedPages       int                `json:"cached_pages"`
	FirehoseListeners int                `json:"firehose_listeners"`
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}
