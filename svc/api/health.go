package api

import (
	"context"
	"encoding/json"
	"hastebin/svc/util"
	"net/http"
	"time"
)

type HealthResponse struct {
	Status string `json:"status"`
}
type ReadyResponse struct {
	Ready    bool   `json:"ready"`
	Database string `json:"database"`
	Cache    string `json:"cache"`
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(HealthResponse{Status: "ok"})
}

// Ready reports 503 when the database or a configured Redis does not answer.
func (s *Server) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	resp := ReadyResponse{
		Ready:    true,
		Database: "up",
		Cache:    "unavailable",
	}
	dbCtx, dbCancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer dbCancel()
	if err := s.db.Ping(dbCtx); err != nil {
		util.Error().Err(err).Msg("database health check failed")
		resp.Database = "down"
		resp.Ready = false
	}
	if s.rdb != nil {
		resp.Cache = "up"
		cacheCtx, cacheCancel := context.WithTimeout(ctx, 500*time.Millisecond)
		defer cacheCancel()
		if err := s.rdb.Ping(cacheCtx); err != nil {
			util.Error().Err(err).Msg("cache health check failed")
			resp.Cache = "down"
			resp.Ready = false
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if !resp.Ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(resp)
}
