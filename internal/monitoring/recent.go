// Package monitoring - recent.go keeps the latest dispatches in memory.
//
// DESIGN: Ring buffer of recent dispatch outcomes for the /stats endpoint.
package monitoring

import (
	"sync"
	"time"
)

const maxRecentEntries = 100

// RecentEntry records one finished dispatch.
type RecentEntry struct {
	Timestamp      time.Time `json:"timestamp"`
	RequestID      string    `json:"request_id"`
	Tier           string    `json:"tier"`
	SessionIndex   int       `json:"session_index"`
	Model          string    `json:"model,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Outcome        Outcome   `json:"outcome"`
}

// RecentLog keeps a ring buffer of recent dispatches.
type RecentLog struct {
	mu      sync.RWMutex
	entries []RecentEntry
}

// NewRecentLog creates an empty log.
func NewRecentLog() *RecentLog {
	return &RecentLog{
		entries: make([]RecentEntry, 0, maxRecentEntries),
	}
}

// Record adds an entry, dropping the oldest when full.
func (l *RecentLog) Record(entry RecentEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) >= maxRecentEntries {
		copy(l.entries, l.entries[1:])
		l.entries[len(l.entries)-1] = entry
	} else {
		l.entries = append(l.entries, entry)
	}
}

// Recent returns the most recent N entries (newest first).
func (l *RecentLog) Recent(n int) []RecentEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || len(l.entries) == 0 {
		return nil
	}
	if n > len(l.entries) {
		n = len(l.entries)
	}

	result := make([]RecentEntry, n)
	for i := 0; i < n; i++ {
		result[i] = l.entries[len(l.entries)-1-i]
	}
	return result
}

// Count returns the number of buffered entries.
func (l *RecentLog) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Summary counts buffered entries per outcome.
func (l *RecentLog) Summary() map[Outcome]int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := make(map[Outcome]int)
	for _, e := range l.entries {
		s[e.Outcome]++
	}
	return s
}
