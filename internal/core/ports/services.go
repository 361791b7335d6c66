package ports

import "context"

// IdentityProvider resolves and verifies identity tokens. Calls may reach a
// remote provider, so the engine never invokes them while holding a session
// or slide lock.
type IdentityProvider interface {
	// ResolveIdentity maps a raw bearer token to a canonical identity
	// (an email for provider-backed tokens, the token itself for
	// anonymous ones). Returns "" when the token cannot be resolved.
	ResolveIdentity(ctx context.Context, token string) (string, error)

	// VerifyEmail checks that the token proves ownership of the given
	// email address.
	VerifyEmail(ctx context.Context, token, email string) (bool, error)
}

// Metrics records engine-level observations. A nil-safe no-op
// implementation backs tests; the prometheus collector backs production.
type Metrics interface {
	BoardOpened()
	BoardEvicted()
	MemberJoined()
	MemberLeft()
	MutationAccepted(kind string)
	MutationRejected(reason string)
	FanoutObserved(subscribers int)
	StorageWriteError()
}
