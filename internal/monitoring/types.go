// Package monitoring - types.go defines shared types.
//
// DESIGN: These types are used by both gateway/ and monitoring/ packages.
// Defined here ONCE to avoid duplication and circular imports.
//
// TYPES:
//   - Outcome:       How a dispatch ended
//   - RequestEvent:  Telemetry data for each dispatch
//   - InitEvent:     Startup configuration snapshot
//   - Config types:  TelemetryConfig
package monitoring

import "time"

// =============================================================================
// OUTCOMES - Used by dispatch and telemetry
// =============================================================================

// Outcome identifies how a dispatch ended.
type Outcome string

const (
	OutcomeStreamed      Outcome = "streamed"
	OutcomeSent          Outcome = "sent" // non-streaming
	OutcomeDeniedInvalid Outcome = "denied_invalid"
	OutcomeDeniedDeleted Outcome = "denied_deleted"
	OutcomeDeniedQuota   Outcome = "denied_quota"
	OutcomeDeniedTier    Outcome = "denied_tier"
	OutcomeUnknownModel  Outcome = "unknown_model"
	OutcomeOutOfRange    Outcome = "out_of_range"
	OutcomeCreateFailed  Outcome = "create_failed"
	OutcomeUpstreamError Outcome = "upstream_error"
	OutcomeCancelled     Outcome = "cancelled"
)

// Denied reports whether the outcome is a pre-dispatch denial.
func (o Outcome) Denied() bool {
	switch o {
	case OutcomeDeniedInvalid, OutcomeDeniedDeleted, OutcomeDeniedQuota,
		OutcomeDeniedTier, OutcomeUnknownModel, OutcomeOutOfRange:
		return true
	}
	return false
}

// =============================================================================
// EVENT TYPES - Structured data for telemetry recording
// =============================================================================

// RequestEvent captures one dispatch through the gateway.
type RequestEvent struct {
	RequestID        string    `json:"request_id"`
	Timestamp        time.Time `json:"timestamp"`
	Transport        string    `json:"transport"` // sse, json, websocket
	Credential       string    `json:"credential"` // masked
	Tier             string    `json:"tier"`
	SessionIndex     int       `json:"session_index"`
	Model            string    `json:"model,omitempty"`
	ConversationID   string    `json:"conversation_id,omitempty"`
	NewConversation  bool      `json:"new_conversation"`
	CreationAttempts int       `json:"creation_attempts"`
	PipesApplied     []string  `json:"pipes_applied,omitempty"`
	References       int       `json:"references"`
	Outcome          Outcome   `json:"outcome"`
	Error            string    `json:"error,omitempty"`
	PromptTokens     int       `json:"prompt_tokens,omitempty"`
	TotalLatencyMs   int64     `json:"total_latency_ms"`
}

// InitEvent captures gateway startup configuration.
type InitEvent struct {
	Timestamp            time.Time `json:"timestamp"`
	Event                string    `json:"event"`
	Version              string    `json:"version"`
	ServerPort           int       `json:"server_port"`
	ServerReadTimeoutMs  int64     `json:"server_read_timeout_ms"`
	ServerWriteTimeoutMs int64     `json:"server_write_timeout_ms"`
	BasicSessions        int       `json:"basic_sessions"`
	PlusSessions         int       `json:"plus_sessions"`
	MaxRetries           int       `json:"max_retries"`
	RetryIntervalMs      int64     `json:"retry_interval_ms"`
	SearchEnabled        bool      `json:"search_enabled"`
	ArtifactsEnabled     bool      `json:"artifacts_enabled"`
	StorageDriver        string    `json:"storage_driver"`
	TelemetryPath        string    `json:"telemetry_path,omitempty"`
}

// =============================================================================
// CONFIG TYPES
// =============================================================================

// TelemetryConfig contains telemetry configuration.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	LogPath     string `yaml:"log_path"`
	LogToStdout bool   `yaml:"log_to_stdout"`
}
