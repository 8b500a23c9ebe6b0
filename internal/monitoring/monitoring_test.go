package monitoring

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCollector_FullStats(t *testing.T) {
	mc := NewMetricsCollector()

	mc.RecordRequest(true)
	mc.RecordRequest(false)
	mc.RecordRequest(true)
	mc.RecordDenial(OutcomeDeniedQuota)
	mc.RecordDenial(OutcomeOutOfRange)
	mc.RecordAccepted()
	mc.RecordCreation(3, true)
	mc.RecordCreation(5, false)
	mc.RecordStream(12, 2, false)
	mc.RecordStream(1, 0, true)
	mc.RecordHistory(true)
	mc.RecordHistory(false)

	s := mc.FullStats()
	assert.Equal(t, int64(3), s.Requests.Total)
	assert.Equal(t, int64(2), s.Requests.Streaming)
	assert.Equal(t, int64(1), s.Requests.NonStreaming)
	assert.Equal(t, int64(1), s.Requests.Accepted)
	assert.Equal(t, int64(2), s.Requests.Denied)
	assert.Equal(t, int64(1), s.Denials.Quota)
	assert.Equal(t, int64(1), s.Denials.OutOfRange)
	assert.Equal(t, int64(8), s.Conversations.Attempts)
	assert.Equal(t, int64(1), s.Conversations.Created)
	assert.Equal(t, int64(1), s.Conversations.Failures)
	assert.Equal(t, int64(13), s.Streams.Fragments)
	assert.Equal(t, int64(2), s.Streams.References)
	assert.Equal(t, int64(1), s.Streams.Errors)
	assert.Equal(t, int64(1), s.History.Writes)
	assert.Equal(t, int64(1), s.History.Failures)
	assert.Equal(t, "0m", s.Uptime)

	flat := mc.Stats()
	assert.Equal(t, int64(2), flat["denied"])
}

func TestMetricsCollector_Concurrent(t *testing.T) {
	mc := NewMetricsCollector()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mc.RecordRequest(true)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(100), mc.Stats()["requests"])
}

func TestOutcome_Denied(t *testing.T) {
	assert.True(t, OutcomeDeniedTier.Denied())
	assert.True(t, OutcomeUnknownModel.Denied())
	assert.False(t, OutcomeStreamed.Denied())
	assert.False(t, OutcomeCreateFailed.Denied())
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "5m", formatDuration(5*time.Minute))
	assert.Equal(t, "2h 3m", formatDuration(2*time.Hour+3*time.Minute))
	assert.Equal(t, "1d 1h 0m", formatDuration(25*time.Hour))
}

func TestRecentLog(t *testing.T) {
	l := NewRecentLog()
	assert.Nil(t, l.Recent(5))

	for i := 0; i < maxRecentEntries+10; i++ {
		l.Record(RecentEntry{SessionIndex: i, Outcome: OutcomeStreamed})
	}
	l.Record(RecentEntry{SessionIndex: -1, Outcome: OutcomeDeniedQuota})

	assert.Equal(t, maxRecentEntries, l.Count())
	recent := l.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, -1, recent[0].SessionIndex)
	assert.Equal(t, maxRecentEntries+9, recent[1].SessionIndex)

	sum := l.Summary()
	assert.Equal(t, 1, sum[OutcomeDeniedQuota])
	assert.Equal(t, maxRecentEntries-1, sum[OutcomeStreamed])
}

func TestTracker_WritesJSONL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "requests.jsonl")

	tr, err := NewTracker(TelemetryConfig{Enabled: true, LogPath: path})
	require.NoError(t, err)

	tr.RecordInit(&InitEvent{Event: "gateway_init", Version: "test"})
	tr.RecordRequest(&RequestEvent{RequestID: "r1", Outcome: OutcomeStreamed, Tier: "basic"})
	tr.RecordRequest(&RequestEvent{RequestID: "r2", Outcome: OutcomeDeniedQuota, Tier: "plus"})
	require.NoError(t, tr.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 2)
	var ev RequestEvent
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &ev))
	assert.Equal(t, "r2", ev.RequestID)
	assert.Equal(t, OutcomeDeniedQuota, ev.Outcome)

	initLines := readLines(t, filepath.Join(dir, "logs", "init.jsonl"))
	require.Len(t, initLines, 1)
	assert.Contains(t, initLines[0], `"gateway_init"`)
}

func TestTracker_DisabledAndNil(t *testing.T) {
	tr, err := NewTracker(TelemetryConfig{})
	require.NoError(t, err)
	tr.RecordRequest(&RequestEvent{RequestID: "x"})

	var nilTracker *Tracker
	nilTracker.RecordRequest(&RequestEvent{})
	nilTracker.RecordInit(&InitEvent{})
	assert.NoError(t, nilTracker.Close())
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		out = append(out, sc.Text())
	}
	require.NoError(t, sc.Err())
	return out
}
