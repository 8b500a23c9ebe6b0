package auth

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/compresr/session-gateway/internal/utils"
)

// StatusCredentialInvalid is the out-of-band status for unusable credentials.
const StatusCredentialInvalid = 480

// CredentialChecker is the subset of the quota ledger the middleware needs.
type CredentialChecker interface {
	IsValid(ctx context.Context, key string) (bool, error)
	IsDeleted(ctx context.Context, key string) (bool, error)
}

type credentialKey struct{}

// WithCredential stores the caller credential on ctx.
func WithCredential(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, credentialKey{}, key)
}

// CredentialFrom returns the credential stored by RequireCredential.
func CredentialFrom(ctx context.Context) string {
	key, _ := ctx.Value(credentialKey{}).(string)
	return key
}

// CredentialOption adjusts RequireCredential.
type CredentialOption func(*credentialPolicy)

type credentialPolicy struct {
	allowDeleted   bool
	deletedMessage string
}

// AllowDeleted lets deleted credentials through so the handler can explain
// the deletion in-band. Only routes that never reach an upstream before their
// own gate may use it.
func AllowDeleted() CredentialOption {
	return func(p *credentialPolicy) { p.allowDeleted = true }
}

// DeletedMessage sets the rejection text for deleted credentials.
func DeletedMessage(msg string) CredentialOption {
	return func(p *credentialPolicy) { p.deletedMessage = msg }
}

// RequireCredential rejects requests whose credential is missing, unknown,
// expired or deleted with StatusCredentialInvalid. deny writes the rejection body.
func RequireCredential(checker CredentialChecker, deny func(w http.ResponseWriter, status int, msg string), opts ...CredentialOption) func(http.Handler) http.Handler {
	policy := credentialPolicy{deletedMessage: "credential deleted"}
	for _, o := range opts {
		o(&policy)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := FromRequest(r)
			if key == "" {
				deny(w, StatusCredentialInvalid, "missing credential")
				return
			}

			ctx := r.Context()
			valid, err := checker.IsValid(ctx, key)
			if err != nil {
				log.Error().Err(err).Str("credential", utils.MaskKey(key)).Msg("credential lookup failed")
				deny(w, http.StatusInternalServerError, "credential lookup failed")
				return
			}
			if !valid {
				deleted, err := checker.IsDeleted(ctx, key)
				if err != nil || !deleted {
					log.Debug().Str("credential", utils.MaskKey(key)).Msg("credential rejected")
					deny(w, StatusCredentialInvalid, "credential invalid")
					return
				}
				if !policy.allowDeleted {
					log.Debug().Str("credential", utils.MaskKey(key)).Msg("deleted credential rejected")
					deny(w, StatusCredentialInvalid, policy.deletedMessage)
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithCredential(ctx, key)))
		})
	}
}
