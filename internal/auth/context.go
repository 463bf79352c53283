// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithOwner/OwnerFromContext for propagating the caller identity

package auth

import "context"

// ownerKey is the key type for storing the owner ID in context.Context.
type ownerKey struct{}

// WithOwner returns a new context with the authenticated owner ID attached.
func WithOwner(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerKey{}, ownerID)
}

// OwnerFromContext retrieves the owner ID from the context. Returns the
// empty string for anonymous requests.
func OwnerFromContext(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey{}).(string)
	return owner
}
