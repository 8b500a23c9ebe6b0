// Package gateway - dispatch.go runs one chat request through the pipeline.
//
// DESIGN: Dispatch is transport-independent. Order of work:
//  1. gate:    quota, model, tier and index checks; no upstream call on denial
//  2. charge:  credential and session usage, once per accepted request
//  3. obtain:  existing or new conversation (Orchestrator)
//  4. prepare: prompt chain (search, artifacts)
//  5. relay:   stream fragments, references, sentinel; record the turn after
//
// Every denial and failure becomes a notice plus the closed sentinel, so
// callers parse one shape for every outcome.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/compresr/session-gateway/internal/history"
	"github.com/compresr/session-gateway/internal/models"
	"github.com/compresr/session-gateway/internal/monitoring"
	"github.com/compresr/session-gateway/internal/pipes"
	"github.com/compresr/session-gateway/internal/pool"
	"github.com/compresr/session-gateway/internal/quota"
	"github.com/compresr/session-gateway/internal/relay"
	"github.com/compresr/session-gateway/internal/upstream"
	"github.com/compresr/session-gateway/internal/utils"
)

// dispatch tracks one request for telemetry.
type dispatch struct {
	g     *Gateway
	req   ChatRequest
	start time.Time
	event *monitoring.RequestEvent
}

func (g *Gateway) newDispatch(ctx context.Context, req ChatRequest, transport string) *dispatch {
	id := requestIDFrom(ctx)
	if id == "" {
		id = uuid.NewString()
	}
	return &dispatch{
		g:     g,
		req:   req,
		start: time.Now(),
		event: &monitoring.RequestEvent{
			RequestID:      id,
			Timestamp:      time.Now(),
			Transport:      transport,
			Credential:     utils.MaskKey(req.Credential),
			Tier:           string(req.Tier()),
			SessionIndex:   req.ClientIndex,
			Model:          req.Model,
			ConversationID: req.ConversationID,
		},
	}
}

// finish records the outcome once.
func (d *dispatch) finish(outcome monitoring.Outcome, err error) {
	ev := d.event
	ev.Outcome = outcome
	ev.TotalLatencyMs = time.Since(d.start).Milliseconds()
	if err != nil {
		ev.Error = err.Error()
	}
	if outcome.Denied() {
		d.g.metrics.RecordDenial(outcome)
	}
	d.g.tracker.RecordRequest(ev)
	d.g.recent.Record(monitoring.RecentEntry{
		Timestamp:      ev.Timestamp,
		RequestID:      ev.RequestID,
		Tier:           ev.Tier,
		SessionIndex:   ev.SessionIndex,
		Model:          ev.Model,
		ConversationID: ev.ConversationID,
		Outcome:        outcome,
	})

	l := log.Info()
	if err != nil {
		l = log.Warn().Err(err)
	}
	l.Str("request_id", ev.RequestID).
		Str("credential", ev.Credential).
		Str("tier", ev.Tier).
		Int("session", ev.SessionIndex).
		Str("conversation_id", ev.ConversationID).
		Str("outcome", string(outcome)).
		Int64("latency_ms", ev.TotalLatencyMs).
		Msg("dispatch finished")
}

func (d *dispatch) notice(outcome monitoring.Outcome, conversationID, msg string, err error) *Result {
	d.finish(outcome, err)
	return &Result{ConversationID: conversationID, Events: relay.Notice(conversationID, msg)}
}

// Dispatch runs req and returns a terminated event sequence, or the
// upstream response on the non-streaming path.
func (g *Gateway) Dispatch(ctx context.Context, req ChatRequest) *Result {
	return g.dispatch(ctx, req, "sse")
}

func (g *Gateway) dispatch(ctx context.Context, req ChatRequest, transport string) *Result {
	d := g.newDispatch(ctx, req, transport)
	g.metrics.RecordRequest(req.Streaming())

	handle, outcome, msg := g.gate(ctx, req)
	if handle == nil {
		return d.notice(outcome, req.ConversationID, msg, nil)
	}
	if err := g.charge(ctx, req.Credential, handle); err != nil {
		return d.notice(monitoring.OutcomeDeniedQuota, req.ConversationID, g.ledger.DenyMessage(ctx, req.Credential), nil)
	}
	g.metrics.RecordAccepted()

	conv, err := g.orch.Obtain(ctx, handle.Session, req.Model, req.ConversationID)
	d.event.CreationAttempts = conv.Attempts
	if req.ConversationID == "" {
		g.metrics.RecordCreation(conv.Attempts, err == nil)
	}
	if err != nil {
		if ctx.Err() != nil {
			d.finish(monitoring.OutcomeCancelled, err)
			return &Result{ConversationID: conv.ID, Events: closedEvents()}
		}
		return d.notice(monitoring.OutcomeCreateFailed, conv.ID, createFailedMessage(conv.Attempts), err)
	}
	d.event.ConversationID = conv.ID
	d.event.NewConversation = conv.Created

	pctx := pipes.NewPipeContext(ctx, req.Message)
	pctx.Model = req.Model
	pctx.FirstTurn = conv.Created
	pctx.NeedWebSearch = req.NeedWebSearch
	pctx.NeedArtifacts = req.NeedArtifacts
	prompt := g.chain.Run(pctx)
	d.event.PipesApplied = pctx.Applied
	d.event.References = len(pctx.References)

	mreq := upstream.MessageRequest{
		ConversationID: conv.ID,
		Model:          req.Model,
		Prompt:         prompt,
		Tier:           handle.Tier,
		SessionIndex:   handle.Index,
		Attachments:    req.Attachments,
		Files:          req.Files,
	}
	key := history.ContextKey{
		Tier:           handle.Tier,
		SessionIndex:   handle.Index,
		Credential:     req.Credential,
		ConversationID: conv.ID,
		Model:          req.Model,
	}

	if !req.Streaming() {
		return g.send(ctx, d, handle, mreq, key, pctx.References)
	}

	stream, err := handle.Session.StreamMessage(ctx, mreq)
	if err != nil {
		if ctx.Err() != nil {
			d.finish(monitoring.OutcomeCancelled, err)
			return &Result{ConversationID: conv.ID, Events: closedEvents()}
		}
		g.metrics.RecordStream(0, 0, true)
		return d.notice(monitoring.OutcomeUpstreamError, conv.ID, UpstreamFailedMessage, err)
	}

	// Exactly one hook runs; the count lets Shutdown and tests wait for it.
	g.writes.Add(1)
	events := relay.Stream(ctx, stream.Ch, stream.Err, relay.Options{
		ConversationID: conv.ID,
		References:     pctx.References,
		OnComplete: func(c relay.Completion) {
			defer g.writes.Done()
			g.metrics.RecordStream(c.Fragments, len(c.References), false)
			d.finish(monitoring.OutcomeStreamed, nil)
			g.recordTurn(ctx, key, req.Message, c.AssistantMessage())
		},
		OnStreamError: func(err error) {
			defer g.writes.Done()
			g.metrics.RecordStream(0, 0, true)
			d.finish(monitoring.OutcomeUpstreamError, err)
		},
		OnCancel: func() {
			defer g.writes.Done()
			d.finish(monitoring.OutcomeCancelled, ctx.Err())
		},
	})
	return &Result{ConversationID: conv.ID, Events: events}
}

// send is the non-streaming path.
func (g *Gateway) send(ctx context.Context, d *dispatch, handle *pool.Handle, mreq upstream.MessageRequest, key history.ContextKey, refs []string) *Result {
	resp, err := handle.Session.SendMessage(ctx, mreq)
	if err != nil {
		return d.notice(monitoring.OutcomeUpstreamError, mreq.ConversationID, UpstreamFailedMessage, err)
	}
	if resp.ConversationID == "" {
		resp.ConversationID = mreq.ConversationID
	}
	c := relay.Completion{ConversationID: resp.ConversationID, Text: resp.Text, References: refs}
	resp.Text = c.AssistantMessage()
	d.finish(monitoring.OutcomeSent, nil)
	g.recordTurn(ctx, key, d.req.Message, resp.Text)
	return &Result{ConversationID: resp.ConversationID, Response: resp}
}

// gate returns the selected handle, or the denial outcome and message.
func (g *Gateway) gate(ctx context.Context, req ChatRequest) (*pool.Handle, monitoring.Outcome, string) {
	exceeded, err := g.ledger.HasExceededLimit(ctx, req.Credential)
	if err != nil {
		log.Error().Err(err).Str("credential", utils.MaskKey(req.Credential)).Msg("quota check failed")
	}
	if exceeded {
		msg := g.ledger.DenyMessage(ctx, req.Credential)
		switch msg {
		case quota.DeletedMessage:
			return nil, monitoring.OutcomeDeniedDeleted, msg
		case quota.InvalidMessage:
			return nil, monitoring.OutcomeDeniedInvalid, msg
		}
		return nil, monitoring.OutcomeDeniedQuota, msg
	}

	if !g.catalog.Known(req.Model) {
		return nil, monitoring.OutcomeUnknownModel, modelNotFoundMessage(req.Model)
	}

	tier := req.Tier()
	if tier == models.TierPlus {
		plus, err := g.ledger.IsPlus(ctx, req.Credential)
		if err != nil {
			log.Error().Err(err).Str("credential", utils.MaskKey(req.Credential)).Msg("tier check failed")
		}
		if !plus {
			return nil, monitoring.OutcomeDeniedTier, PlusClientMessage
		}
	}
	if tier == models.TierBasic && g.catalog.IsPlus(req.Model) {
		return nil, monitoring.OutcomeDeniedTier, plusModelMessage(req.Model)
	}

	handle, err := g.pool.Select(tier, req.ClientIndex)
	if err != nil {
		return nil, monitoring.OutcomeOutOfRange, outOfRangeMessage(tier, req.ClientIndex, g.pool.Size(tier))
	}
	return handle, "", ""
}

// charge bills the credential and the session once and activates a
// pending credential. Only a charge refused at the limit is returned;
// other store failures are logged.
func (g *Gateway) charge(ctx context.Context, credential string, handle *pool.Handle) error {
	if _, err := g.ledger.IncrementUsage(ctx, credential, 1); err != nil {
		if errors.Is(err, quota.ErrQuotaExceeded) {
			return err
		}
		log.Error().Err(err).Msg("charge credential failed")
	}
	if _, err := g.pool.IncrementUsage(handle.Tier, handle.Index, 1); err != nil {
		log.Error().Err(err).Msg("charge session failed")
	}
	res, err := g.ledger.Activate(ctx, credential)
	if err != nil {
		if !errors.Is(err, quota.ErrNotFound) {
			log.Error().Err(err).Msg("activate credential failed")
		}
		return nil
	}
	if res.Activated {
		log.Info().Str("credential", utils.MaskKey(credential)).Msg(res.Message)
	}
	return nil
}

// recordTurn persists the turn off the caller's path. Failures are logged.
func (g *Gateway) recordTurn(ctx context.Context, key history.ContextKey, user, assistant string) {
	if g.history == nil {
		return
	}
	g.writes.Add(1)
	go func() {
		defer g.writes.Done()
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyWriteTimeout)
		defer cancel()

		if err := g.history.PushMessage(wctx, key, history.Turn(user, assistant)); err != nil {
			g.metrics.RecordHistory(false)
			log.Error().
				Err(err).
				Str("conversation_id", key.ConversationID).
				Str("credential", utils.MaskKey(key.Credential)).
				Msg("history write failed")
			return
		}
		g.metrics.RecordHistory(true)
	}()
}

// closedEvents is an already finished, empty sequence.
func closedEvents() <-chan relay.Event {
	ch := make(chan relay.Event)
	close(ch)
	return ch
}
