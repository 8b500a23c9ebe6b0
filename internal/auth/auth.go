// Package auth authenticates gateway callers.
//
// DESIGN: Two independent checks:
//   - credential.go: every chat route carries a caller credential in the
//     Authorization header. Unknown or expired credentials are rejected
//     out-of-band with status 480. Deleted credentials are rejected too,
//     except on routes built with AllowDeleted (chat), where dispatch
//     explains the deletion in-band.
//   - admin.go: status and audit reads take an HS256 bearer token signed
//     with admin.jwt_secret. With no secret configured they are open.
package auth

import (
	"net/http"
	"strings"
)

// Header names used by the gateway.
const (
	HeaderAuthorization = "Authorization"
	HeaderContentType   = "Content-Type"
)

// BearerToken extracts the token from an Authorization header value.
// A value without the "Bearer " prefix is returned as-is.
func BearerToken(value string) string {
	value = strings.TrimSpace(value)
	if len(value) > 7 && strings.EqualFold(value[:7], "bearer ") {
		return strings.TrimSpace(value[7:])
	}
	return value
}

// FromRequest returns the caller credential carried by r, or "".
func FromRequest(r *http.Request) string {
	return BearerToken(r.Header.Get(HeaderAuthorization))
}
