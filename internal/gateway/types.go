// Package gateway types - types for the session gateway.
//
// DESIGN: Types used by the gateway for:
//   - Chat requests as callers send them
//   - Dispatch results handed to the transports
//   - Caller-facing denial and failure messages
//
// Types are defined here to avoid circular imports and provide clear contracts.
package gateway

import (
	"context"
	"fmt"

	"github.com/compresr/session-gateway/internal/models"
	"github.com/compresr/session-gateway/internal/relay"
	"github.com/compresr/session-gateway/internal/upstream"
)

// HeaderRequestID carries the caller's request id.
const HeaderRequestID = "X-Request-ID"

// =============================================================================
// CHAT REQUEST - What callers send
// =============================================================================

// ChatRequest is one chat dispatch.
type ChatRequest struct {
	// Credential comes from the Authorization header, never the body.
	Credential string `json:"-"`

	Message        string                `json:"message"`
	Model          string                `json:"model"`
	ClientIndex    int                   `json:"client_idx"`
	ClientType     string                `json:"client_type"`
	ConversationID string                `json:"conversation_id,omitempty"`
	Stream         *bool                 `json:"stream,omitempty"`
	Attachments    []upstream.Attachment `json:"attachments,omitempty"`
	Files          []string              `json:"files,omitempty"`
	NeedWebSearch  bool                  `json:"need_web_search,omitempty"`
	NeedArtifacts  bool                  `json:"need_artifacts,omitempty"`
}

// Streaming reports whether the caller wants an event stream (the default).
func (r ChatRequest) Streaming() bool { return r.Stream == nil || *r.Stream }

// Tier is the requested session tier.
func (r ChatRequest) Tier() models.Tier { return models.ParseTier(r.ClientType) }

// =============================================================================
// DISPATCH RESULT - What transports write back
// =============================================================================

// Result is the outcome of Dispatch. Exactly one of Events and Response is set.
type Result struct {
	ConversationID string

	// Events is the terminated event sequence (streams, denials, failures).
	Events <-chan relay.Event

	// Response is the upstream reply on the non-streaming path.
	Response *upstream.Response
}

// =============================================================================
// CALLER-FACING MESSAGES
// =============================================================================

const (
	PlusClientMessage     = "This API key is not entitled to plus sessions. Use a basic session or upgrade the key."
	UpstreamFailedMessage = "The upstream session did not accept the message. Please retry."
)

func modelNotFoundMessage(model string) string {
	return fmt.Sprintf("Model %q not found. Call list_models for the available models.", model)
}

func plusModelMessage(model string) string {
	return fmt.Sprintf("Model %q is only available on plus sessions.", model)
}

func outOfRangeMessage(tier models.Tier, index, size int) string {
	return fmt.Sprintf("Session index %d is out of range: %d %s sessions are available.", index, size, tier)
}

func createFailedMessage(attempts int) string {
	return fmt.Sprintf("Could not start a conversation after %d attempts. Please retry later.", attempts)
}

// =============================================================================
// REQUEST ID
// =============================================================================

type requestIDKey struct{}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
