// Package identity carries the authenticated holder through request contexts.
package identity

import (
	"context"
	"net/http"
	"strings"

	"github.com/robertarktes/fleet-rental-holds/internal/domain"
)

const HolderHeader = "X-Holder-ID"

type holderKey struct{}

func WithHolder(ctx context.Context, holderID string) context.Context {
	return context.WithValue(ctx, holderKey{}, holderID)
}

func HolderFromContext(ctx context.Context) (string, error) {
	id, _ := ctx.Value(holderKey{}).(string)
	if id == "" {
		return "", domain.ErrUnauthenticated
	}
	return id, nil
}

// FromRequest reads the holder set by the gateway, falling back to a bearer
// token that carries the holder id.
func FromRequest(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(HolderHeader)); id != "" {
		return id
	}
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}
