// HTTP request handling for the session gateway.
//
// DESIGN: Main request flow:
//   - handleChat():  decode ChatRequest, Dispatch, write SSE or JSON
//   - writeStream(): relay events as SSE frames; a failed write cancels
//     the relay so the upstream stream stops
//   - writeJSONResult(): non-streaming reply, or the event list for
//     denials so both paths share one body shape
//
// Also includes health and model listing.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/compresr/session-gateway/internal/auth"
	"github.com/compresr/session-gateway/internal/config"
	"github.com/compresr/session-gateway/internal/relay"
)

// handleHealth returns gateway health status.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":  "ok",
		"time":    time.Now().Format(time.RFC3339),
		"version": "v1",
		"build":   g.version,
	}

	if err := g.ledger.Store().Ping(r.Context()); err != nil {
		health["status"] = "degraded"
		health["error"] = "credential store unavailable"
	}

	w.Header().Set("Content-Type", "application/json")
	if health["status"] != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(health)
}

// handleListModels returns the model catalog.
func (g *Gateway) handleListModels(w http.ResponseWriter, r *http.Request) {
	type model struct {
		Name     string `json:"name"`
		PlusOnly bool   `json:"plus_only"`
	}
	names := g.catalog.List()
	out := make([]model, 0, len(names))
	for _, n := range names {
		out = append(out, model{Name: n, PlusOnly: g.catalog.IsPlus(n)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": out})
}

// handleChat dispatches one chat request.
func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	requestID := g.getRequestID(r)

	r.Body = http.MaxBytesReader(w, r.Body, config.MaxRequestBodySize)
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		g.writeError(w, "message is required", http.StatusBadRequest)
		return
	}
	req.Credential = auth.CredentialFrom(r.Context())

	ctx, cancel := context.WithCancel(withRequestID(r.Context(), requestID))
	defer cancel()

	w.Header().Set(HeaderRequestID, requestID)
	res := g.dispatch(ctx, req, transportFor(req))

	if !req.Streaming() {
		g.writeJSONResult(w, res)
		return
	}
	g.writeStream(w, res, cancel, requestID)
}

func transportFor(req ChatRequest) string {
	if req.Streaming() {
		return "sse"
	}
	return "json"
}

func (g *Gateway) writeStream(w http.ResponseWriter, res *Result, cancel context.CancelFunc, requestID string) {
	n, err := relay.WriteSSE(w, res.Events, g.cfg.Server.StreamFrameTimeout)
	if err != nil {
		log.Debug().
			Err(err).
			Str("request_id", requestID).
			Int("events_written", n).
			Msg("caller went away mid-stream")
		cancel()
		relay.Drain(res.Events)
	}
}

// writeJSONResult writes the non-streaming body: the reply as one event, or
// the full event list for denials and failures.
func (g *Gateway) writeJSONResult(w http.ResponseWriter, res *Result) {
	if res.Response != nil {
		writeJSON(w, http.StatusOK, relay.Event{Message: res.Response.Text, ID: res.Response.ConversationID})
		return
	}
	events := relay.Drain(res.Events)
	if events == nil {
		events = []relay.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// getRequestID gets or generates a request ID.
func (g *Gateway) getRequestID(r *http.Request) string {
	if id := r.Header.Get(HeaderRequestID); id != "" {
		return id
	}
	return g.newRequestID()
}

func (g *Gateway) newRequestID() string { return uuid.New().String() }
