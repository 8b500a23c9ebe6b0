// Package gateway - stats.go exposes operational state as JSON.
//
// GET /stats returns counters and the most recent dispatches (loopback only).
// GET /api/v1/clients_status returns per-tier, per-index session usage.
package gateway

import (
	"net/http"

	"github.com/compresr/session-gateway/internal/models"
	"github.com/compresr/session-gateway/internal/monitoring"
	"github.com/compresr/session-gateway/internal/pool"
)

// recentShown is how many dispatches /stats lists.
const recentShown = 20

// StatsResponse is the JSON response for GET /stats.
type StatsResponse struct {
	monitoring.StatsResponse
	Outcomes map[monitoring.Outcome]int `json:"recent_outcomes"`
	Recent   []monitoring.RecentEntry   `json:"recent"`
}

// handleStats returns aggregated metrics as JSON.
// Restricted to localhost to prevent external access to operational metrics.
func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	writeJSON(w, http.StatusOK, StatsResponse{
		StatsResponse: g.metrics.FullStats(),
		Outcomes:      g.recent.Summary(),
		Recent:        g.recent.Recent(recentShown),
	})
}

// ClientsStatus is the JSON response for GET /api/v1/clients_status.
type ClientsStatus struct {
	Basic []pool.SessionStatus `json:"basic"`
	Plus  []pool.SessionStatus `json:"plus"`
}

func (g *Gateway) handleClientsStatus(w http.ResponseWriter, _ *http.Request) {
	snap := g.pool.Snapshot()
	writeJSON(w, http.StatusOK, ClientsStatus{
		Basic: snap[models.TierBasic],
		Plus:  snap[models.TierPlus],
	})
}
