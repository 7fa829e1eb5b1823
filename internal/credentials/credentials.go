// Package credentials defines the boundary contract with the external
// settings/credential store. The concrete store (keychain, encrypted
// settings file, etc.) lives outside this repository's scope; the sync
// engine only depends on this interface.
package credentials

import "context"

// Pair is the client_id/client_secret credential pair used for the OAuth
// client-credentials grant against the remote API.
type Pair struct {
	ClientID     string
	ClientSecret string
}

// Empty reports whether either half of the pair is unset, which the
// orchestrator treats as "credentials missing" per spec.
func (p Pair) Empty() bool {
	return p.ClientID == "" || p.ClientSecret == ""
}

// Store is the get/set contract with the external settings collaborator.
// Implementations must never log credential values.
type Store interface {
	Get(ctx context.Context) (Pair, error)
	Set(ctx context.Context, p Pair) error
}

// StaticStore is an in-memory Store, used by tests and by callers that
// already hold resolved credentials (e.g. from process environment).
type StaticStore struct {
	pair Pair
}

// NewStaticStore creates a StaticStore wrapping a fixed credential pair.
func NewStaticStore(p Pair) *StaticStore {
	return &StaticStore{pair: p}
}

// Get returns the wrapped pair.
func (s *StaticStore) Get(context.Context) (Pair, error) {
	return s.pair, nil
}

// Set replaces the wrapped pair.
func (s *StaticStore) Set(_ context.Context, p Pair) error {
	s.pair = p
	return nil
}
