package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    orchState
		created bool
		want    orchState
	}{
		{"existing conversation is ready", orchState{Phase: phaseHasConversation}, false, orchState{Phase: phaseReady}},
		{"first create ok", orchState{Phase: phaseNoConversation}, true, orchState{Phase: phaseReady, Attempts: 1}},
		{"first create failed", orchState{Phase: phaseNoConversation}, false, orchState{Phase: phaseNoConversation, Attempts: 1, Backoff: true}},
		{"retry ok", orchState{Phase: phaseNoConversation, Attempts: 2, Backoff: true}, true, orchState{Phase: phaseReady, Attempts: 3}},
		{"last attempt failed", orchState{Phase: phaseNoConversation, Attempts: 2, Backoff: true}, false, orchState{Phase: phaseFailed, Attempts: 3}},
		{"ready is terminal", orchState{Phase: phaseReady, Attempts: 1}, false, orchState{Phase: phaseReady, Attempts: 1}},
		{"failed is terminal", orchState{Phase: phaseFailed, Attempts: 3}, true, orchState{Phase: phaseFailed, Attempts: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, transition(tt.from, tt.created, 3))
		})
	}
}

func TestInitialState(t *testing.T) {
	assert.Equal(t, phaseNoConversation, initialState("").Phase)
	assert.Equal(t, phaseHasConversation, initialState("c-1").Phase)
}

func TestOrchestrator_SingleRetryBound(t *testing.T) {
	sess := &fakeSession{name: "s", createFailures: 1}
	o := NewOrchestrator(1, FixedBackoff(time.Second), 0, (&recordingSleeper{}).sleep)

	res, err := o.Obtain(context.Background(), sess, "m", "")
	require.ErrorIs(t, err, ErrCreateFailed)
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, res.ID)
}

func TestOrchestrator_SettleCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sess := &fakeSession{name: "s"}
	o := NewOrchestrator(3, FixedBackoff(time.Second), time.Second, SleepContext)

	res, err := o.Obtain(ctx, sess, "m", "")
	assert.True(t, errors.Is(err, context.Canceled))
	assert.True(t, res.Created)
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, SleepContext(context.Background(), time.Millisecond))
	assert.NoError(t, SleepContext(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	assert.ErrorIs(t, SleepContext(ctx, time.Hour), context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestFixedBackoff(t *testing.T) {
	b := FixedBackoff(2 * time.Second)
	for i := 0; i < 5; i++ {
		assert.Equal(t, 2*time.Second, b.Delay(i))
	}
}
