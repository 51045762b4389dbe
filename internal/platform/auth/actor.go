package auth

import (
	"context"

	"github.com/google/uuid"
)

// ActorFromContext returns the authenticated staff member as a UUID.
func ActorFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(UserIDFromContext(ctx))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// ActorOr returns fallback when it is set, otherwise the authenticated actor.
func ActorOr(ctx context.Context, fallback *uuid.UUID) (uuid.UUID, bool) {
	if fallback != nil && *fallback != uuid.Nil {
		return *fallback, true
	}
	return ActorFromContext(ctx)
}
