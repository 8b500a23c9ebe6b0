package relay

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fragmentsOf(frags ...string) <-chan string {
	ch := make(chan string, len(frags))
	for _, f := range frags {
		ch <- f
	}
	close(ch)
	return ch
}

func messages(events []Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Message
	}
	return out
}

func TestStream_Order(t *testing.T) {
	events := Drain(Stream(context.Background(), fragmentsOf("f1", "f2", "f3"), nil, Options{
		ConversationID: "conv-1",
		References:     []string{"r1", "r2"},
	}))

	assert.Equal(t, []string{"f1", "f2", "f3", "r1", "r2", ClosedMessage}, messages(events))
	for i, ev := range events {
		assert.Equal(t, "conv-1", ev.ID)
		assert.Equal(t, i, ev.Ordinal)
	}
	assert.Equal(t, KindFragment, events[0].Kind)
	assert.Equal(t, KindReference, events[3].Kind)
	assert.True(t, events[5].IsTerminal())
}

func TestStream_ExactlyOneTerminal(t *testing.T) {
	inputs := [][]string{nil, {"only"}, {"a", "b", "c", "d"}}
	for _, in := range inputs {
		events := Drain(Stream(context.Background(), fragmentsOf(in...), nil, Options{ConversationID: "c"}))

		terminals := 0
		for _, ev := range events {
			if ev.IsTerminal() {
				terminals++
			}
		}
		assert.Equal(t, 1, terminals)
		assert.True(t, events[len(events)-1].IsTerminal())
		assert.Len(t, events, len(in)+1)
	}
}

func TestStream_HookAfterSentinel(t *testing.T) {
	var got Completion
	hookRan := make(chan struct{})

	events := Stream(context.Background(), fragmentsOf("Hello, ", "world"), nil, Options{
		ConversationID: "c",
		References:     []string{"\n[1] a: https://a"},
		OnComplete: func(c Completion) {
			got = c
			close(hookRan)
		},
	})

	// take everything except the sentinel
	for i := 0; i < 3; i++ {
		ev := <-events
		require.False(t, ev.IsTerminal())
	}
	select {
	case <-hookRan:
		t.Fatal("hook ran before the sentinel was delivered")
	case <-time.After(50 * time.Millisecond):
	}

	last := <-events
	require.True(t, last.IsTerminal())
	_, open := <-events
	assert.False(t, open)

	select {
	case <-hookRan:
	case <-time.After(2 * time.Second):
		t.Fatal("completion hook never ran")
	}
	assert.Equal(t, "Hello, world", got.Text)
	assert.Equal(t, "Hello, world\n[1] a: https://a", got.AssistantMessage())
	assert.Equal(t, 2, got.Fragments)
}

func TestStream_UpstreamErrorSkipsHook(t *testing.T) {
	frags := make(chan string, 1)
	errs := make(chan error, 1)
	frags <- "partial"
	errs <- errors.New("connection reset")
	close(frags)

	var hookCalled bool
	streamErr := make(chan error, 1)
	events := Drain(Stream(context.Background(), frags, errs, Options{
		ConversationID: "c",
		References:     []string{"r1"},
		OnComplete:     func(Completion) { hookCalled = true },
		OnStreamError:  func(err error) { streamErr <- err },
	}))

	assert.Equal(t, []string{"partial", InterruptedMessage, ClosedMessage}, messages(events))
	assert.Equal(t, KindNotice, events[1].Kind)
	select {
	case err := <-streamErr:
		assert.EqualError(t, err, "connection reset")
	case <-time.After(2 * time.Second):
		t.Fatal("stream error hook never ran")
	}
	assert.False(t, hookCalled)
}

func TestStream_CancelStopsWithoutSentinelOrHook(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	frags := make(chan string) // never closed: simulates a long upstream stream

	hookCalled := make(chan struct{}, 1)
	cancelled := make(chan struct{}, 1)
	events := Stream(ctx, frags, nil, Options{
		ConversationID: "c",
		OnComplete:     func(Completion) { hookCalled <- struct{}{} },
		OnCancel:       func() { cancelled <- struct{}{} },
	})

	frags <- "first"
	ev := <-events
	assert.Equal(t, "first", ev.Message)

	cancel()

	var rest []Event
	for ev := range events {
		rest = append(rest, ev)
	}
	for _, ev := range rest {
		assert.False(t, ev.IsTerminal())
	}
	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("cancel hook never ran")
	}
	select {
	case <-hookCalled:
		t.Fatal("hook must not run after cancellation")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNotice(t *testing.T) {
	events := Drain(Notice("", "denied"))
	require.Len(t, events, 2)
	assert.Equal(t, KindNotice, events[0].Kind)
	assert.Equal(t, "denied", events[0].Message)
	assert.True(t, events[1].IsTerminal())
	assert.Equal(t, 1, events[1].Ordinal)
}

func TestWriteSSE(t *testing.T) {
	rec := httptest.NewRecorder()
	n, err := WriteSSE(rec, Stream(context.Background(), fragmentsOf("<b>hi</b>"), nil, Options{ConversationID: "c-1"}), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	frames := strings.Split(strings.TrimSuffix(rec.Body.String(), "\n\n"), "\n\n")
	require.Len(t, frames, 2)
	assert.Equal(t, `data: {"message":"<b>hi</b>","id":"c-1"}`, frames[0])
	assert.Equal(t, `data: {"message":"closed","id":"c-1"}`, frames[1])
	assert.True(t, rec.Flushed)
}

// deadlineRecorder records per-frame write deadlines.
type deadlineRecorder struct {
	*httptest.ResponseRecorder
	deadlines []time.Time
}

func (d *deadlineRecorder) SetWriteDeadline(t time.Time) error {
	d.deadlines = append(d.deadlines, t)
	return nil
}

func TestWriteSSE_ExtendsDeadlinePerFrame(t *testing.T) {
	rec := &deadlineRecorder{ResponseRecorder: httptest.NewRecorder()}
	before := time.Now()

	n, err := WriteSSE(rec, Stream(context.Background(), fragmentsOf("a", "b"), nil, Options{ConversationID: "c-1"}), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.Len(t, rec.deadlines, 3)
	for _, d := range rec.deadlines {
		assert.True(t, d.After(before.Add(59*time.Second)))
	}
	assert.Contains(t, rec.Body.String(), `"message":"closed"`)
}
