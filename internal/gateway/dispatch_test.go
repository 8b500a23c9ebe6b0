package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/session-gateway/internal/models"
	"github.com/compresr/session-gateway/internal/pipes/search"
	"github.com/compresr/session-gateway/internal/quota"
	"github.com/compresr/session-gateway/internal/relay"
	"github.com/compresr/session-gateway/internal/upstream"
)

// assertNoticeShape checks the one-notice-then-sentinel shape.
func assertNoticeShape(t *testing.T, events []relay.Event, msg, id string) {
	t.Helper()
	require.Len(t, events, 2)
	assert.Equal(t, relay.KindNotice, events[0].Kind)
	assert.Equal(t, msg, events[0].Message)
	assert.True(t, events[1].IsTerminal())
	assert.Equal(t, relay.ClosedMessage, events[1].Message)
	for _, ev := range events {
		assert.Equal(t, id, ev.ID)
	}
}

func TestDispatch_QuotaExceeded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c, err := env.ledger.Lookup(ctx, keySpent)
	require.NoError(t, err)

	res := env.gw.Dispatch(ctx, chat(keySpent, modelBasic, "basic", 0, "hi"))
	assertNoticeShape(t, relay.Drain(res.Events), quota.ExceedMessage(c), "")

	assert.Zero(t, env.basic[0].upstreamCalls())
	assert.Zero(t, env.pool.Snapshot()[models.TierBasic][0].Usage)
	assert.Equal(t, int64(5), env.usage(t, keySpent))
}

func TestDispatch_DeletedCredential(t *testing.T) {
	env := newTestEnv(t)

	res := env.gw.Dispatch(context.Background(), chat(keyDeleted, modelPlus, "plus", 0, "hi"))
	assertNoticeShape(t, relay.Drain(res.Events), quota.DeletedMessage, "")
	assert.Zero(t, env.plus[0].upstreamCalls())
}

func TestDispatch_UnknownCredential(t *testing.T) {
	env := newTestEnv(t)

	res := env.gw.Dispatch(context.Background(), chat("who-is-this-credential", modelBasic, "basic", 0, "hi"))
	assertNoticeShape(t, relay.Drain(res.Events), quota.InvalidMessage, "")
}

func TestDispatch_TierMismatch(t *testing.T) {
	tests := []struct {
		name string
		req  ChatRequest
		msg  string
	}{
		{"plus model on basic client", chat(keyBasic, modelPlus, "basic", 0, "hi"), plusModelMessage(modelPlus)},
		{"basic credential on plus client", chat(keyBasic, modelBasic, "plus", 0, "hi"), PlusClientMessage},
		{"unknown model", chat(keyBasic, "m-missing", "basic", 0, "hi"), modelNotFoundMessage("m-missing")},
		{"index out of range", chat(keyBasic, modelBasic, "basic", 2, "hi"), outOfRangeMessage(models.TierBasic, 2, 2)},
		{"negative index", chat(keyBasic, modelBasic, "normal", -1, "hi"), outOfRangeMessage(models.TierBasic, -1, 2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			res := env.gw.Dispatch(context.Background(), tt.req)
			assertNoticeShape(t, relay.Drain(res.Events), tt.msg, "")

			for _, s := range append(env.basic, env.plus...) {
				assert.Zero(t, s.upstreamCalls(), s.name)
			}
			assert.Zero(t, env.usage(t, keyBasic))
		})
	}
}

func TestDispatch_StreamOrderAndHistory(t *testing.T) {
	env := newTestEnv(t, withSearch(fakeSearcher{results: []search.Result{
		{Title: "One", URL: "https://one.example"},
		{Title: "Two", URL: "https://two.example"},
	}}))
	env.basic[1].fragments = []string{"f1", "f2", "f3"}

	req := chat(keyBasic, modelBasic, "basic", 1, "what is new?")
	req.NeedWebSearch = true
	res := env.gw.Dispatch(context.Background(), req)
	events := relay.Drain(res.Events)

	r1 := "\n[1] One: https://one.example"
	r2 := "\n[2] Two: https://two.example"
	assert.Equal(t, []string{"f1", "f2", "f3", r1, r2, relay.ClosedMessage}, messagesOf(events))
	require.NotEmpty(t, res.ConversationID)
	for i, ev := range events {
		assert.Equal(t, res.ConversationID, ev.ID)
		assert.Equal(t, i, ev.Ordinal)
	}

	env.gw.WaitWrites()
	convs := env.recorded(t, keyBasic)
	require.Len(t, convs, 1)
	assert.Equal(t, res.ConversationID, convs[0].ConversationID)
	assert.Equal(t, models.TierBasic, convs[0].Tier)
	assert.Equal(t, 1, convs[0].SessionIndex)
	assert.Equal(t, modelBasic, convs[0].Model)
	require.Len(t, convs[0].Messages, 2)
	assert.Equal(t, "what is new?", convs[0].Messages[0].Content)
	assert.Equal(t, "f1f2f3"+r1+r2, convs[0].Messages[1].Content)

	// The upstream saw the augmented prompt, the caller's text is what was recorded.
	assert.Contains(t, env.basic[1].lastReq.Prompt, "https://one.example")
	assert.Equal(t, 1, env.basic[1].lastReq.SessionIndex)
}

func TestDispatch_HistoryAfterSentinel(t *testing.T) {
	env := newTestEnv(t)
	env.basic[0].fragments = []string{"a", "b"}

	res := env.gw.Dispatch(context.Background(), chat(keyBasic, modelBasic, "basic", 0, "hi"))

	// Take everything but the sentinel; the relay blocks handing it over.
	for i := 0; i < 2; i++ {
		ev := <-res.Events
		assert.False(t, ev.IsTerminal())
	}
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, env.recorded(t, keyBasic))

	last := <-res.Events
	require.True(t, last.IsTerminal())
	env.gw.WaitWrites()
	assert.Len(t, env.recorded(t, keyBasic), 1)
}

func TestDispatch_EmptyUpstreamStillTerminates(t *testing.T) {
	env := newTestEnv(t)

	res := env.gw.Dispatch(context.Background(), chat(keyBasic, modelBasic, "basic", 0, "hi"))
	events := relay.Drain(res.Events)
	require.Len(t, events, 1)
	assert.True(t, events[0].IsTerminal())
}

func TestDispatch_CreationRetrySucceeds(t *testing.T) {
	for n := 0; n < maxRetries; n++ {
		env := newTestEnv(t)
		env.basic[0].createFailures = n
		env.basic[0].fragments = []string{"ok"}

		res := env.gw.Dispatch(context.Background(), chat(keyBasic, modelBasic, "basic", 0, "hi"))
		events := relay.Drain(res.Events)

		assert.Equal(t, []string{"ok", relay.ClosedMessage}, messagesOf(events), "n=%d", n)
		creates, streams, _ := env.basic[0].calls()
		assert.Equal(t, n+1, creates, "n=%d", n)
		assert.Equal(t, 1, streams)

		waits := env.sleeper.recorded()
		require.Len(t, waits, n+1, "n=%d: %d backoffs plus the settle delay", n, n)
		for _, w := range waits[:n] {
			assert.Equal(t, retryInterval, w)
		}
		assert.Equal(t, settleDelay, waits[n])

		assert.Equal(t, int64(1), env.usage(t, keyBasic))
		assert.Equal(t, int64(1), env.pool.Snapshot()[models.TierBasic][0].Usage)
	}
}

func TestDispatch_CreationRetryExhausted(t *testing.T) {
	for _, failures := range []int{maxRetries, maxRetries + 4} {
		env := newTestEnv(t)
		env.basic[0].createFailures = failures

		res := env.gw.Dispatch(context.Background(), chat(keyBasic, modelBasic, "basic", 0, "hi"))
		assertNoticeShape(t, relay.Drain(res.Events), createFailedMessage(maxRetries), "")

		creates, streams, _ := env.basic[0].calls()
		assert.Equal(t, maxRetries, creates)
		assert.Zero(t, streams)
		assert.Len(t, env.sleeper.recorded(), maxRetries-1)

		// Charged once for the accepted request, not per attempt.
		assert.Equal(t, int64(1), env.usage(t, keyBasic))
		env.gw.WaitWrites()
		assert.Empty(t, env.recorded(t, keyBasic))
	}
}

func TestDispatch_ExistingConversationSkipsCreateAndArtifacts(t *testing.T) {
	env := newTestEnv(t, withArtifacts())
	env.basic[0].fragments = []string{"x"}

	req := chat(keyBasic, modelBasic, "basic", 0, "draw a graph")
	req.ConversationID = "conv-existing"
	req.NeedArtifacts = true
	res := env.gw.Dispatch(context.Background(), req)
	events := relay.Drain(res.Events)

	assert.Equal(t, "conv-existing", res.ConversationID)
	assert.Equal(t, "conv-existing", events[0].ID)
	creates, _, _ := env.basic[0].calls()
	assert.Zero(t, creates)
	assert.Equal(t, "draw a graph", env.basic[0].lastReq.Prompt)
	assert.Empty(t, env.sleeper.recorded())
}

func TestDispatch_FirstTurnArtifacts(t *testing.T) {
	env := newTestEnv(t, withArtifacts())

	req := chat(keyBasic, modelBasic, "basic", 0, "draw a graph")
	req.NeedArtifacts = true
	relay.Drain(env.gw.Dispatch(context.Background(), req).Events)

	prompt := env.basic[0].lastReq.Prompt
	assert.NotEqual(t, "draw a graph", prompt)
	assert.Contains(t, prompt, "draw a graph")
}

func TestDispatch_UpstreamStreamError(t *testing.T) {
	env := newTestEnv(t)
	env.basic[0].fragments = []string{"partial"}
	env.basic[0].streamErr = errors.New("connection reset")

	res := env.gw.Dispatch(context.Background(), chat(keyBasic, modelBasic, "basic", 0, "hi"))
	events := relay.Drain(res.Events)

	assert.Equal(t, []string{"partial", relay.InterruptedMessage, relay.ClosedMessage}, messagesOf(events))
	env.gw.WaitWrites()
	assert.Empty(t, env.recorded(t, keyBasic))
	assert.Equal(t, int64(1), env.gw.Metrics().FullStats().Streams.Errors)
}

func TestDispatch_CancelDuringBackoff(t *testing.T) {
	env := newTestEnv(t)
	env.basic[0].createFailures = 1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.gw.orch = NewOrchestrator(maxRetries, FixedBackoff(retryInterval), settleDelay,
		func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		})

	res := env.gw.Dispatch(ctx, chat(keyBasic, modelBasic, "basic", 0, "hi"))
	assert.Empty(t, relay.Drain(res.Events))

	creates, streams, _ := env.basic[0].calls()
	assert.Equal(t, 1, creates)
	assert.Zero(t, streams)
	env.gw.WaitWrites()
	assert.Empty(t, env.recorded(t, keyBasic))
}

func TestDispatch_CancelMidStream(t *testing.T) {
	env := newTestEnv(t)
	block := make(chan string)
	env.basic[0].block = block

	ctx, cancel := context.WithCancel(context.Background())
	res := env.gw.Dispatch(ctx, chat(keyBasic, modelBasic, "basic", 0, "hi"))

	block <- "first"
	ev := <-res.Events
	assert.Equal(t, "first", ev.Message)

	cancel()
	for ev := range res.Events {
		assert.False(t, ev.IsTerminal())
	}
	env.gw.WaitWrites()
	assert.Empty(t, env.recorded(t, keyBasic))
}

func TestDispatch_NonStreaming(t *testing.T) {
	env := newTestEnv(t)
	env.plus[0].fragments = []string{"whole ", "answer"}

	req := chat(keyPlus, modelPlus, "plus", 0, "hi")
	stream := false
	req.Stream = &stream
	res := env.gw.Dispatch(context.Background(), req)

	require.NotNil(t, res.Response)
	assert.Nil(t, res.Events)
	assert.Equal(t, "whole answer", res.Response.Text)
	assert.Equal(t, res.ConversationID, res.Response.ConversationID)
	_, streams, sends := env.plus[0].calls()
	assert.Zero(t, streams)
	assert.Equal(t, 1, sends)

	env.gw.WaitWrites()
	assert.Len(t, env.recorded(t, keyPlus), 1)
}

func TestDispatch_ActivatesPendingCredential(t *testing.T) {
	env := newTestEnv(t)

	relay.Drain(env.gw.Dispatch(context.Background(), chat(keyBasic, modelBasic, "basic", 0, "hi")).Events)

	c, err := env.ledger.Lookup(context.Background(), keyBasic)
	require.NoError(t, err)
	assert.Equal(t, quota.StatusActive, c.Status)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 30), c.ExpiresAt, time.Minute)
}

func TestDispatch_ConcurrentUsage(t *testing.T) {
	env := newTestEnv(t)
	env.basic[0].fragments = []string{"x"}
	const k = 50

	var wg sync.WaitGroup
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			relay.Drain(env.gw.Dispatch(context.Background(), chat(keyBasic, modelBasic, "basic", 0, "hi")).Events)
		}()
	}
	wg.Wait()
	env.gw.WaitWrites()

	assert.Equal(t, int64(k), env.usage(t, keyBasic))
	assert.Equal(t, int64(k), env.pool.Snapshot()[models.TierBasic][0].Usage)
	assert.Zero(t, env.pool.Snapshot()[models.TierBasic][1].Usage)

	stats := env.gw.Metrics().FullStats()
	assert.Equal(t, int64(k), stats.Requests.Accepted)
	assert.Equal(t, int64(k), stats.History.Writes)
}

func TestDispatch_SearchFailurePassesThrough(t *testing.T) {
	env := newTestEnv(t, withSearch(fakeSearcher{err: errors.New("search down")}))
	env.basic[0].fragments = []string{"answer"}

	req := chat(keyBasic, modelBasic, "basic", 0, "plain question")
	req.NeedWebSearch = true
	events := relay.Drain(env.gw.Dispatch(context.Background(), req).Events)

	assert.Equal(t, []string{"answer", relay.ClosedMessage}, messagesOf(events))
	assert.Equal(t, "plain question", env.basic[0].lastReq.Prompt)
}

func TestDispatch_RecentLog(t *testing.T) {
	env := newTestEnv(t)
	relay.Drain(env.gw.Dispatch(context.Background(), chat(keySpent, modelBasic, "basic", 0, "hi")).Events)

	recent := env.gw.recent.Recent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, "denied_quota", string(recent[0].Outcome))
	assert.NotEmpty(t, recent[0].RequestID)
}

var _ upstream.Session = (*fakeSession)(nil)

func TestDispatch_ConcurrentChargesStopAtLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	const key = "tight-credential-0001"
	require.NoError(t, env.ledger.Store().Put(ctx, &quota.Credential{Key: key, Tier: models.TierBasic, Limit: 2, Status: quota.StatusActive}))
	env.basic[0].fragments = []string{"ok"}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			relay.Drain(env.gw.Dispatch(ctx, chat(key, modelBasic, "basic", 0, "hi")).Events)
		}()
	}
	wg.Wait()
	env.gw.WaitWrites()

	assert.Equal(t, int64(2), env.usage(t, key))
	assert.Equal(t, int64(2), env.pool.Snapshot()[models.TierBasic][0].Usage)
	creates, _, _ := env.basic[0].calls()
	assert.Equal(t, 2, creates)
}
