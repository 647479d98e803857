package types

import "context"

// Claims is the payload recovered from a verified bearer token
type Claims struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// TokenVerifier validates a bearer token and recovers its claims.
// Implementations return auth-classified errors for missing, expired,
// or otherwise invalid tokens.
type TokenVerifier interface {
	Verify(token string) (Claims, error)
}

// UserDirectory resolves user records. It is an external collaborator;
// the gateway never mutates it.
type UserDirectory interface {
	FindByID(ctx context.Context, id string) (*User, error)
	// FindMany resolves a set of user ids to public projections.
	// Ids that do not resolve are omitted, not errored.
	FindMany(ctx context.Context, ids []string) ([]PublicProfile, error)
}

// GroupDirectory resolves group membership. It is an external collaborator.
type GroupDirectory interface {
	GroupsForUser(ctx context.Context, userID string) ([]Group, error)
}
