// Package identity resolves API tokens to client accounts.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/softcane/spot-optimizer/internal/domain"
	"github.com/softcane/spot-optimizer/internal/store"
)

// Client is the authenticated caller of an API request.
type Client struct {
	ID   int64
	Name string
}

// Resolver maps a bearer token to a client. Implementations return
// ErrUnauthorized for unknown or deactivated tokens.
type Resolver interface {
	Resolve(ctx context.Context, token string) (Client, error)
}

// ErrUnauthorized is returned for tokens that resolve to no active
// client.
var ErrUnauthorized = errors.New("unauthorized")

// StoreResolver resolves tokens against the clients table.
type StoreResolver struct {
	store *store.Store
}

// NewStoreResolver creates a resolver backed by the given store.
func NewStoreResolver(s *store.Store) *StoreResolver {
	return &StoreResolver{store: s}
}

// Resolve looks the token up. Inactive clients are indistinguishable
// from unknown tokens.
func (r *StoreResolver) Resolve(ctx context.Context, token string) (Client, error) {
	if token == "" {
		return Client{}, ErrUnauthorized
	}
	c, err := r.store.ResolveClientToken(ctx, token)
	if errors.Is(err, domain.ErrNotFound) {
		return Client{}, ErrUnauthorized
	}
	if err != nil {
		return Client{}, fmt.Errorf("resolve client token: %w", err)
	}
	return Client{ID: c.ID, Name: c.Name}, nil
}
