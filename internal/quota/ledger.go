package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/session-gateway/internal/models"
	"github.com/compresr/session-gateway/internal/utils"
)

// Messages returned to callers that are denied by the ledger.
const (
	DeletedMessage = "This API key has been deleted. Please contact the administrator for a new key."
	InvalidMessage = "This API key is invalid or has expired. Please renew it or contact the administrator."
)

// Ledger tracks credential usage and answers access questions.
// Unknown credentials are never valid and always count as exceeded.
type Ledger struct {
	store Store
	now   func() time.Time
}

// NewLedger creates a ledger over the given store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// Store returns the underlying store (used by the admin CLI).
func (l *Ledger) Store() Store { return l.store }

// Lookup returns the credential, or ErrNotFound.
func (l *Ledger) Lookup(ctx context.Context, key string) (*Credential, error) {
	if key == "" {
		return nil, ErrNotFound
	}
	return l.store.Get(ctx, key)
}

// lookupOrNil hides ErrNotFound; other store errors propagate.
func (l *Ledger) lookupOrNil(ctx context.Context, key string) (*Credential, error) {
	c, err := l.Lookup(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return c, err
}

// IsValid reports whether the credential exists, is not deleted and not expired.
func (l *Ledger) IsValid(ctx context.Context, key string) (bool, error) {
	c, err := l.lookupOrNil(ctx, key)
	if err != nil || c == nil {
		return false, err
	}
	return c.Valid(l.now()), nil
}

// IsDeleted reports whether the credential was administratively deleted.
func (l *Ledger) IsDeleted(ctx context.Context, key string) (bool, error) {
	c, err := l.lookupOrNil(ctx, key)
	if err != nil || c == nil {
		return false, err
	}
	return c.Status == StatusDeleted, nil
}

// HasExceededLimit is true when the credential may not be served:
// unknown, deleted, expired, or usage at or above its limit.
func (l *Ledger) HasExceededLimit(ctx context.Context, key string) (bool, error) {
	c, err := l.lookupOrNil(ctx, key)
	if err != nil {
		return true, err
	}
	if c == nil {
		return true, nil
	}
	return !c.Valid(l.now()) || c.Exceeded(), nil
}

// IsPlus reports plus entitlement. Unknown credentials are basic.
func (l *Ledger) IsPlus(ctx context.Context, key string) (bool, error) {
	c, err := l.lookupOrNil(ctx, key)
	if err != nil || c == nil {
		return false, err
	}
	return c.IsPlus(), nil
}

// IncrementUsage atomically adds amount to the credential's usage.
// It fails with ErrQuotaExceeded when the limit was reached, even if
// HasExceededLimit said otherwise a moment earlier.
func (l *Ledger) IncrementUsage(ctx context.Context, key string, amount int64) (int64, error) {
	usage, err := l.store.AddUsage(ctx, key, amount)
	if err != nil {
		return 0, fmt.Errorf("increment usage for %s: %w", utils.MaskKey(key), err)
	}
	return usage, nil
}

// Activate starts the validity window of a pending credential.
// Activating an already active credential is a no-op.
func (l *Ledger) Activate(ctx context.Context, key string) (ActivationResult, error) {
	c, activated, err := l.store.Activate(ctx, key, l.now())
	if err != nil {
		return ActivationResult{}, fmt.Errorf("activate %s: %w", utils.MaskKey(key), err)
	}

	res := ActivationResult{Activated: activated, ExpiresAt: c.ExpiresAt}
	switch {
	case activated && c.ExpiresAt.IsZero():
		res.Message = "API key activated."
	case activated:
		res.Message = fmt.Sprintf("API key activated, valid until %s.", c.ExpiresAt.Format(time.DateOnly))
	default:
		res.Message = "API key already active."
	}

	if activated {
		log.Info().
			Str("key", utils.MaskKey(key)).
			Time("expires_at", c.ExpiresAt).
			Msg("credential activated")
	}
	return res, nil
}

// DenyMessage explains why HasExceededLimit returned true.
func (l *Ledger) DenyMessage(ctx context.Context, key string) string {
	c, err := l.lookupOrNil(ctx, key)
	if err != nil || c == nil {
		return InvalidMessage
	}
	if c.Status == StatusDeleted {
		return DeletedMessage
	}
	if !c.Valid(l.now()) {
		return InvalidMessage
	}
	return ExceedMessage(c)
}

// ExceedMessage is the human-readable notice for an exhausted quota.
func ExceedMessage(c *Credential) string {
	msg := fmt.Sprintf("You have used %d of %d requests allowed for this API key.", c.Usage, c.Limit)
	if !c.ExpiresAt.IsZero() {
		msg += fmt.Sprintf(" The key is valid until %s.", c.ExpiresAt.Format(time.DateOnly))
	}
	return msg + " Please renew the key or contact the administrator to raise the limit."
}

// NewCredential builds a pending credential ready for Store.Put.
func NewCredential(key string, tier models.Tier, limit int64, validDays int) *Credential {
	return &Credential{
		Key:       key,
		Tier:      tier,
		Limit:     limit,
		Status:    StatusPending,
		ValidDays: validDays,
		CreatedAt: time.Now(),
	}
}
