package gateway

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/compresr/session-gateway/internal/history"
	"github.com/compresr/session-gateway/internal/utils"
)

// handleConversations returns the recorded turns of a credential,
// optionally narrowed by ?conversation_id=.
func (g *Gateway) handleConversations(w http.ResponseWriter, r *http.Request) {
	if g.history == nil {
		g.writeError(w, "history is not configured", http.StatusNotFound)
		return
	}
	credential := r.PathValue("credential")
	conversationID := r.URL.Query().Get("conversation_id")

	convs, err := g.history.Conversations(r.Context(), credential, conversationID)
	switch {
	case errors.Is(err, history.ErrNoConversation):
		g.writeError(w, "conversation not found", http.StatusNotFound)
		return
	case err != nil:
		log.Error().Err(err).Str("credential", utils.MaskKey(credential)).Msg("history read failed")
		g.writeError(w, "history read failed", http.StatusInternalServerError)
		return
	}
	if convs == nil {
		convs = []history.Conversation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}
