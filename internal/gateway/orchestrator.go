// Package gateway - orchestrator.go obtains a conversation for a request.
//
// DESIGN: Bounded state machine, one per request:
//
//	NoConversation --create ok------------------> Ready
//	NoConversation --create failed, n < max-----> NoConversation (backoff)
//	NoConversation --create failed, n == max----> Failed
//	HasConversation ----------------------------> Ready
//
// transition is pure. Waits go through an injected Sleeper so tests run
// without timers; every wait is cancellable by the request context.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/session-gateway/internal/upstream"
)

// ErrCreateFailed is returned when every creation attempt failed.
var ErrCreateFailed = errors.New("conversation creation failed")

type phase int

const (
	phaseNoConversation phase = iota
	phaseHasConversation
	phaseReady
	phaseFailed
)

func (p phase) String() string {
	switch p {
	case phaseNoConversation:
		return "no_conversation"
	case phaseHasConversation:
		return "has_conversation"
	case phaseReady:
		return "ready"
	case phaseFailed:
		return "failed"
	}
	return "unknown"
}

// orchState is the orchestrator state between steps.
type orchState struct {
	Phase    phase
	Attempts int  // creation attempts made so far
	Backoff  bool // wait before the next attempt
}

func initialState(conversationID string) orchState {
	if conversationID != "" {
		return orchState{Phase: phaseHasConversation}
	}
	return orchState{Phase: phaseNoConversation}
}

// transition applies the result of one step. created is ignored outside
// NoConversation.
func transition(s orchState, created bool, maxRetries int) orchState {
	switch s.Phase {
	case phaseHasConversation:
		return orchState{Phase: phaseReady, Attempts: s.Attempts}
	case phaseNoConversation:
		attempts := s.Attempts + 1
		switch {
		case created:
			return orchState{Phase: phaseReady, Attempts: attempts}
		case attempts < maxRetries:
			return orchState{Phase: phaseNoConversation, Attempts: attempts, Backoff: true}
		default:
			return orchState{Phase: phaseFailed, Attempts: attempts}
		}
	}
	return s
}

func (s orchState) terminal() bool {
	return s.Phase == phaseReady || s.Phase == phaseFailed
}

// =============================================================================
// BACKOFF
// =============================================================================

// BackoffPolicy returns the wait before attempt n+1 after n failures.
type BackoffPolicy interface {
	Delay(failures int) time.Duration
}

// FixedBackoff waits the same interval before every retry.
type FixedBackoff time.Duration

// Delay implements BackoffPolicy.
func (f FixedBackoff) Delay(int) time.Duration { return time.Duration(f) }

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the real Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator obtains conversations on upstream sessions.
type Orchestrator struct {
	maxRetries int
	backoff    BackoffPolicy
	settle     time.Duration
	sleep      Sleeper
}

// NewOrchestrator creates an orchestrator. A nil sleep uses SleepContext.
func NewOrchestrator(maxRetries int, backoff BackoffPolicy, settle time.Duration, sleep Sleeper) *Orchestrator {
	if maxRetries < 1 {
		maxRetries = 1
	}
	if sleep == nil {
		sleep = SleepContext
	}
	return &Orchestrator{maxRetries: maxRetries, backoff: backoff, settle: settle, sleep: sleep}
}

// Obtained is a conversation ready for sending.
type Obtained struct {
	ID       string
	Created  bool // created by this request
	Attempts int
}

// Obtain returns the caller's conversation or creates one. On exhaustion it
// returns ErrCreateFailed with Attempts set; on cancellation ctx.Err().
func (o *Orchestrator) Obtain(ctx context.Context, sess upstream.Session, model, conversationID string) (Obtained, error) {
	s := initialState(conversationID)
	res := Obtained{ID: conversationID}
	var lastErr error

	for !s.terminal() {
		if s.Phase == phaseHasConversation {
			s = transition(s, false, o.maxRetries)
			continue
		}

		if s.Backoff {
			if err := o.sleep(ctx, o.backoff.Delay(s.Attempts)); err != nil {
				res.Attempts = s.Attempts
				return res, err
			}
		}

		conv, err := sess.CreateConversation(ctx, model)
		if err != nil && ctx.Err() != nil {
			res.Attempts = s.Attempts + 1
			return res, ctx.Err()
		}
		created := err == nil && conv != nil && conv.ID != ""
		if created {
			res.ID = conv.ID
			res.Created = true
		} else {
			if err == nil {
				err = fmt.Errorf("%w: empty conversation id", upstream.ErrUpstream)
			}
			lastErr = err
			log.Warn().
				Err(err).
				Str("session", sess.Name()).
				Int("attempt", s.Attempts+1).
				Int("max_retries", o.maxRetries).
				Msg("conversation creation failed")
		}
		s = transition(s, created, o.maxRetries)
	}

	res.Attempts = s.Attempts
	if s.Phase == phaseFailed {
		return res, fmt.Errorf("%w after %d attempts: %v", ErrCreateFailed, s.Attempts, lastErr)
	}

	if res.Created && o.settle > 0 {
		if err := o.sleep(ctx, o.settle); err != nil {
			return res, err
		}
	}
	return res, nil
}
