// Package monitoring - metrics.go provides simple counters.
//
// DESIGN: Lightweight in-memory counters for operational metrics:
//   - requests/accepted: Total dispatches and those that passed the gates
//   - denials:           Per-reason pre-dispatch rejections
//   - conversations:     Creation attempts and exhausted retries
//   - streams:           Fragments relayed and upstream interruptions
//   - history:           Recorded turns and failed writes
//
// For production, export these to Prometheus or similar.
package monitoring

import (
	"fmt"
	"sync/atomic"
	"time"
)

// MetricsCollector collects operational metrics.
type MetricsCollector struct {
	startedAt time.Time

	// Request counters
	requests  atomic.Int64
	accepted  atomic.Int64
	streaming atomic.Int64

	// Denial counters
	deniedInvalid atomic.Int64
	deniedDeleted atomic.Int64
	deniedQuota   atomic.Int64
	deniedTier    atomic.Int64
	unknownModel  atomic.Int64
	outOfRange    atomic.Int64

	// Conversation counters
	creationAttempts atomic.Int64
	creationFailures atomic.Int64
	conversations    atomic.Int64

	// Stream counters
	fragments    atomic.Int64
	references   atomic.Int64
	streamErrors atomic.Int64

	// History counters
	historyWrites   atomic.Int64
	historyFailures atomic.Int64
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		startedAt: time.Now(),
	}
}

// RecordRequest records an incoming dispatch.
func (mc *MetricsCollector) RecordRequest(stream bool) {
	mc.requests.Add(1)
	if stream {
		mc.streaming.Add(1)
	}
}

// RecordAccepted records a dispatch that passed every gate.
func (mc *MetricsCollector) RecordAccepted() { mc.accepted.Add(1) }

// RecordDenial records a pre-dispatch rejection.
func (mc *MetricsCollector) RecordDenial(o Outcome) {
	switch o {
	case OutcomeDeniedInvalid:
		mc.deniedInvalid.Add(1)
	case OutcomeDeniedDeleted:
		mc.deniedDeleted.Add(1)
	case OutcomeDeniedQuota:
		mc.deniedQuota.Add(1)
	case OutcomeDeniedTier:
		mc.deniedTier.Add(1)
	case OutcomeUnknownModel:
		mc.unknownModel.Add(1)
	case OutcomeOutOfRange:
		mc.outOfRange.Add(1)
	}
}

// RecordCreation records conversation creation attempts.
func (mc *MetricsCollector) RecordCreation(attempts int, ok bool) {
	mc.creationAttempts.Add(int64(attempts))
	if ok {
		mc.conversations.Add(1)
	} else {
		mc.creationFailures.Add(1)
	}
}

// RecordStream records one finished relay.
func (mc *MetricsCollector) RecordStream(fragments, references int, failed bool) {
	mc.fragments.Add(int64(fragments))
	mc.references.Add(int64(references))
	if failed {
		mc.streamErrors.Add(1)
	}
}

// RecordHistory records a history write.
func (mc *MetricsCollector) RecordHistory(ok bool) {
	if ok {
		mc.historyWrites.Add(1)
	} else {
		mc.historyFailures.Add(1)
	}
}

// StartedAt returns when the metrics collector was created.
func (mc *MetricsCollector) StartedAt() time.Time { return mc.startedAt }

// Stats returns current metrics as a flat map.
func (mc *MetricsCollector) Stats() map[string]int64 {
	return map[string]int64{
		"requests":          mc.requests.Load(),
		"accepted":          mc.accepted.Load(),
		"denied":            mc.deniedTotal(),
		"conversations":     mc.conversations.Load(),
		"creation_failures": mc.creationFailures.Load(),
		"stream_errors":     mc.streamErrors.Load(),
	}
}

func (mc *MetricsCollector) deniedTotal() int64 {
	return mc.deniedInvalid.Load() + mc.deniedDeleted.Load() + mc.deniedQuota.Load() +
		mc.deniedTier.Load() + mc.unknownModel.Load() + mc.outOfRange.Load()
}

// FullStats returns all metrics in a structured format for the /stats endpoint.
func (mc *MetricsCollector) FullStats() StatsResponse {
	uptime := time.Since(mc.startedAt)
	requests := mc.requests.Load()

	return StatsResponse{
		Uptime:        formatDuration(uptime),
		UptimeSeconds: int64(uptime.Seconds()),
		StartedAt:     mc.startedAt.Format(time.RFC3339),
		Requests: RequestStats{
			Total:        requests,
			Accepted:     mc.accepted.Load(),
			Denied:       mc.deniedTotal(),
			Streaming:    mc.streaming.Load(),
			NonStreaming: requests - mc.streaming.Load(),
		},
		Denials: DenialStats{
			Invalid:      mc.deniedInvalid.Load(),
			Deleted:      mc.deniedDeleted.Load(),
			Quota:        mc.deniedQuota.Load(),
			Tier:         mc.deniedTier.Load(),
			UnknownModel: mc.unknownModel.Load(),
			OutOfRange:   mc.outOfRange.Load(),
		},
		Conversations: ConversationStats{
			Created:  mc.conversations.Load(),
			Attempts: mc.creationAttempts.Load(),
			Failures: mc.creationFailures.Load(),
		},
		Streams: StreamStats{
			Fragments:  mc.fragments.Load(),
			References: mc.references.Load(),
			Errors:     mc.streamErrors.Load(),
		},
		History: HistoryStats{
			Writes:   mc.historyWrites.Load(),
			Failures: mc.historyFailures.Load(),
		},
	}
}

// StatsResponse is the structured response for the /stats endpoint.
type StatsResponse struct {
	Uptime        string            `json:"uptime"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	StartedAt     string            `json:"started_at"`
	Requests      RequestStats      `json:"requests"`
	Denials       DenialStats       `json:"denials"`
	Conversations ConversationStats `json:"conversations"`
	Streams       StreamStats       `json:"streams"`
	History       HistoryStats      `json:"history"`
}

// RequestStats holds request count metrics.
type RequestStats struct {
	Total        int64 `json:"total"`
	Accepted     int64 `json:"accepted"`
	Denied       int64 `json:"denied"`
	Streaming    int64 `json:"streaming"`
	NonStreaming int64 `json:"non_streaming"`
}

// DenialStats breaks denials down by reason.
type DenialStats struct {
	Invalid      int64 `json:"invalid"`
	Deleted      int64 `json:"deleted"`
	Quota        int64 `json:"quota"`
	Tier         int64 `json:"tier"`
	UnknownModel int64 `json:"unknown_model"`
	OutOfRange   int64 `json:"out_of_range"`
}

// ConversationStats holds conversation creation metrics.
type ConversationStats struct {
	Created  int64 `json:"created"`
	Attempts int64 `json:"attempts"`
	Failures int64 `json:"failures"`
}

// StreamStats holds relay metrics.
type StreamStats struct {
	Fragments  int64 `json:"fragments"`
	References int64 `json:"references"`
	Errors     int64 `json:"errors"`
}

// HistoryStats holds history write metrics.
type HistoryStats struct {
	Writes   int64 `json:"writes"`
	Failures int64 `json:"failures"`
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
