package api

import (
	"net/http"

	"github.com/kjannette/trahn-ticker/internal/market"
	"github.com/kjannette/trahn-ticker/internal/models"
)

const (
	statusHealthy      = "healthy"
	statusDegraded     = "degraded"
	statusInitializing = "initializing"
)

type healthResponse struct {
	Status               string            `json:"status"`
	Timestamp            int64             `json:"timestamp"`
	DataAge              *int64            `json:"dataAge,omitempty"`
	Source               string            `json:"source,omitempty"`
	Poll                 *market.PollStats `json:"poll,omitempty"`
	DroppedNotifications *int64            `json:"droppedNotifications,omitempty"`
}

// handleHealth always answers 200; the status field tells live, fallback
// and no-data apart.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	resp := healthResponse{
		Status:    statusInitializing,
		Timestamp: now.UnixMilli(),
	}

	if q, ok := s.quotes.Read(); ok {
		age := q.Age(now).Milliseconds()
		if age < 0 {
			age = 0
		}
		resp.DataAge = &age
		resp.Source = string(q.Source)
		resp.Status = statusHealthy
		if q.Source == models.SourceFallback {
			resp.Status = statusDegraded
		}
	}

	if s.poller != nil {
		st := s.poller.Stats()
		resp.Poll = &st
	}
	if s.notify != nil {
		n := s.notify.Dropped()
		resp.DroppedNotifications = &n
	}

	writeJSON(w, http.StatusOK, resp)
}
