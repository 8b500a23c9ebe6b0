// Package gateway - websocket.go serves chat dispatch over WebSocket.
//
// DESIGN: One connection carries many sequential requests. Each text
// message is a ChatRequest; the reply is the same event sequence the SSE
// path produces, one JSON message per event, ending with the sentinel.
// Closing the connection cancels the request in flight.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog/log"

	"github.com/compresr/session-gateway/internal/auth"
	"github.com/compresr/session-gateway/internal/config"
	"github.com/compresr/session-gateway/internal/relay"
)

// wsError is sent when a frame cannot be decoded as a ChatRequest.
type wsError struct {
	Error string `json:"error"`
}

func (g *Gateway) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket accept failed")
		return
	}
	defer func() { _ = conn.CloseNow() }()
	conn.SetReadLimit(config.MaxRequestBodySize)

	credential := auth.CredentialFrom(r.Context())
	ctx := r.Context()

	for {
		var req ChatRequest
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled) {
				log.Debug().Err(err).Msg("websocket read ended")
			}
			return
		}
		if strings.TrimSpace(req.Message) == "" {
			if err := wsjson.Write(ctx, conn, wsError{Error: "message is required"}); err != nil {
				return
			}
			continue
		}
		req.Credential = credential
		streaming := true
		req.Stream = &streaming

		if !g.serveWS(ctx, conn, req) {
			return
		}
	}
}

// serveWS relays one request. It reports whether the connection is still usable.
func (g *Gateway) serveWS(parent context.Context, conn *websocket.Conn, req ChatRequest) bool {
	ctx, cancel := context.WithCancel(withRequestID(parent, g.newRequestID()))
	defer cancel()

	res := g.dispatch(ctx, req, "websocket")
	for ev := range res.Events {
		if err := wsjson.Write(ctx, conn, ev); err != nil {
			log.Debug().Err(err).Str("conversation_id", ev.ID).Msg("websocket write failed")
			cancel()
			relay.Drain(res.Events)
			return false
		}
	}
	return true
}
