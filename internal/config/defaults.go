// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: All default values that appear in multiple places should be defined here.
// This makes configuration more maintainable and auditable.
package config

import "time"

// =============================================================================
// TOKEN ESTIMATION
// =============================================================================

// TokenEstimateRatio is the approximate number of characters per token.
// Used for rough token counting when exact counts aren't available.
const TokenEstimateRatio = 4

// DefaultTokenEncoding is the tiktoken encoding used for history token counts.
const DefaultTokenEncoding = "cl100k_base"

// =============================================================================
// CONVERSATION CREATION
// =============================================================================

// DefaultMaxRetries bounds conversation-creation attempts per request.
const DefaultMaxRetries = 3

// DefaultRetryInterval is the fixed wait between failed creation attempts.
const DefaultRetryInterval = 2 * time.Second

// DefaultSettleDelay is how long to wait after a conversation is created
// before the first message is sent to it.
const DefaultSettleDelay = 2 * time.Second

// =============================================================================
// UPSTREAM SESSIONS
// =============================================================================

// DefaultUpstreamTimeout is the HTTP timeout for non-streaming upstream calls.
const DefaultUpstreamTimeout = 60 * time.Second

// DefaultCompletionPath is the gjson path of the text delta in upstream stream events.
const DefaultCompletionPath = "completion"

// =============================================================================
// PROMPT PIPES
// =============================================================================

// DefaultSearchMaxResults caps how many search hits feed the augmented prompt.
const DefaultSearchMaxResults = 5

// DefaultSearchTimeout is the HTTP timeout for the search collaborator.
const DefaultSearchTimeout = 15 * time.Second

// =============================================================================
// HTTP AND NETWORKING
// =============================================================================

// DefaultPort is the gateway listen port.
const DefaultPort = 6238

// DefaultBufferSize is the standard I/O buffer size.
const DefaultBufferSize = 4096

// MaxRequestBodySize is the maximum allowed chat request body (10MB).
const MaxRequestBodySize = 10 * 1024 * 1024

// MaxUploadSize is the maximum allowed attachment upload (50MB).
const MaxUploadSize = 50 * 1024 * 1024

// MaxErrorBodyLogLen limits error response body in logs to prevent bloat.
const MaxErrorBodyLogLen = 500

// DefaultServerReadTimeout for HTTP server.
const DefaultServerReadTimeout = 30 * time.Second

// DefaultServerWriteTimeout for non-streaming HTTP responses.
const DefaultServerWriteTimeout = 10 * time.Minute

// DefaultStreamFrameTimeout is the write deadline for each SSE frame. It
// replaces DefaultServerWriteTimeout on streaming responses.
const DefaultStreamFrameTimeout = 2 * time.Minute

// DefaultShutdownTimeout bounds graceful shutdown.
const DefaultShutdownTimeout = 10 * time.Second

// =============================================================================
// STORAGE
// =============================================================================

// DefaultSQLitePath is where credentials and history live when driver=sqlite.
const DefaultSQLitePath = "data/session-gateway.db"

// DefaultValidDays is the validity window granted to a credential on activation.
const DefaultValidDays = 30
