// Package gateway - dashboard.go serves the credential table at /keys.
//
// DESIGN: The HTML is rendered by quota.Ledger.HandleDashboard; this handler
// only restricts it to loopback callers.
package gateway

import (
	"net/http"
)

// handleKeyDashboard serves the credential usage page.
// Restricted to localhost to prevent external access to usage data.
func (g *Gateway) handleKeyDashboard(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	g.ledger.HandleDashboard(w, r)
}
