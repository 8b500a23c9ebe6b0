// Package pool holds the upstream sessions per tier.
//
// DESIGN: Composition is fixed at construction; indices are stable for the
// process lifetime. Each handle owns an atomic usage counter, so concurrent
// requests only contend on the counter they touch.
package pool

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/compresr/session-gateway/internal/models"
	"github.com/compresr/session-gateway/internal/upstream"
)

// ErrOutOfRange is returned when an index does not address a session.
var ErrOutOfRange = errors.New("pool: session index out of range")

// Handle is one upstream session with its usage counter.
type Handle struct {
	Tier    models.Tier
	Index   int
	Session upstream.Session

	usage atomic.Int64
}

// Usage returns the cumulative dispatch count.
func (h *Handle) Usage() int64 { return h.usage.Load() }

// Pool is the fixed set of session handles.
type Pool struct {
	handles map[models.Tier][]*Handle
}

// New builds a pool. Slice order defines session indices.
func New(sessions map[models.Tier][]upstream.Session) *Pool {
	p := &Pool{handles: make(map[models.Tier][]*Handle, len(sessions))}
	for tier, list := range sessions {
		hs := make([]*Handle, len(list))
		for i, s := range list {
			hs[i] = &Handle{Tier: tier, Index: i, Session: s}
		}
		p.handles[tier] = hs
	}
	return p
}

// Select returns the handle at index for tier.
func (p *Pool) Select(tier models.Tier, index int) (*Handle, error) {
	hs := p.handles[tier]
	if index < 0 || index >= len(hs) {
		return nil, fmt.Errorf("%w: %s[%d] (size %d)", ErrOutOfRange, tier, index, len(hs))
	}
	return hs[index], nil
}

// IncrementUsage adds amount to the session's counter and returns the new value.
func (p *Pool) IncrementUsage(tier models.Tier, index int, amount int64) (int64, error) {
	h, err := p.Select(tier, index)
	if err != nil {
		return 0, err
	}
	return h.usage.Add(amount), nil
}

// Size returns the number of sessions for tier.
func (p *Pool) Size(tier models.Tier) int {
	return len(p.handles[tier])
}

// SessionStatus is one row of the status report.
type SessionStatus struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Usage int64  `json:"usage"`
}

// Snapshot reports current usage per tier and index.
func (p *Pool) Snapshot() map[models.Tier][]SessionStatus {
	out := make(map[models.Tier][]SessionStatus, len(models.Tiers()))
	for _, tier := range models.Tiers() {
		hs := p.handles[tier]
		rows := make([]SessionStatus, len(hs))
		for i, h := range hs {
			rows[i] = SessionStatus{Index: h.Index, Name: h.Session.Name(), Usage: h.Usage()}
		}
		out[tier] = rows
	}
	return out
}
