// Package quota implements per-credential usage accounting and access checks.
//
// DESIGN: The Ledger answers the questions the gateway asks before any upstream
// work starts (valid? over quota? plus?) and charges usage once per accepted
// request. Storage is pluggable (memory, sqlite); every usage increment is
// atomic per credential, so concurrent requests never lose updates.
package quota

import (
	"errors"
	"fmt"
	"time"

	"github.com/compresr/session-gateway/internal/models"
)

// ErrNotFound is returned when a credential does not exist.
var ErrNotFound = errors.New("quota: credential not found")

// ErrQuotaExceeded is returned when a charge would go past the credential's limit.
var ErrQuotaExceeded = errors.New("quota: usage limit reached")

// Status is the lifecycle state of a credential.
type Status string

const (
	StatusPending Status = "pending" // created, never used
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
	StatusDeleted Status = "deleted" // administratively revoked, never valid again
)

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusActive, StatusExpired, StatusDeleted:
		return st, nil
	}
	return "", fmt.Errorf("quota: unknown status %q", s)
}

// Credential identifies and meters one caller.
type Credential struct {
	Key         string      `json:"key"`
	Tier        models.Tier `json:"tier"`
	Usage       int64       `json:"usage"`
	Limit       int64       `json:"limit"` // <= 0 means unlimited
	Status      Status      `json:"status"`
	ValidDays   int         `json:"valid_days"` // granted on activation, 0 = no expiry
	CreatedAt   time.Time   `json:"created_at"`
	ActivatedAt time.Time   `json:"activated_at,omitempty"`
	ExpiresAt   time.Time   `json:"expires_at,omitempty"`
}

// Expired reports whether the credential is past its validity window.
func (c *Credential) Expired(now time.Time) bool {
	if c.Status == StatusExpired {
		return true
	}
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// Valid reports whether the credential may be used at all.
func (c *Credential) Valid(now time.Time) bool {
	return c.Status != StatusDeleted && !c.Expired(now)
}

// Exceeded reports whether usage has reached the limit.
func (c *Credential) Exceeded() bool {
	return c.Limit > 0 && c.Usage >= c.Limit
}

// IsPlus reports plus entitlement.
func (c *Credential) IsPlus() bool {
	return c.Tier == models.TierPlus
}

// ActivationResult describes the outcome of Ledger.Activate.
type ActivationResult struct {
	Activated bool // true only on the pending -> active transition
	ExpiresAt time.Time
	Message   string
}
