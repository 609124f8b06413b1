// Package auth identifies callers of the caregiver API. Callers are
// services holding a static bearer key; telephony webhooks authenticate
// by request signature instead and never carry a principal.
package auth

import (
	"context"
	"net/http"
	"strings"
)

// Principal is the authenticated caller of a caregiver API request.
type Principal struct {
	APIKey string
}

// Redacted returns a loggable form of the key, keeping only the tail.
func (p *Principal) Redacted() string {
	if p == nil || p.APIKey == "" {
		return ""
	}
	const tail = 4
	if len(p.APIKey) <= tail {
		return "..." + p.APIKey
	}
	return "..." + p.APIKey[len(p.APIKey)-tail:]
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(*Principal)
	return p, ok && p != nil
}

// ParseBearer extracts the bearer token from an Authorization header.
func ParseBearer(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(authz, prefix) {
		return "", false
	}
	token := strings.TrimSpace(authz[len(prefix):])
	return token, token != ""
}
