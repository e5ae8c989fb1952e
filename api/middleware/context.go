package middleware

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	ctxPersonID  contextKey = "person_id"
	ctxOrganizer contextKey = "is_organizer"
)

// PersonIDFromContext returns the authenticated person's id, or nil for
// anonymous requests.
func PersonIDFromContext(ctx context.Context) *uuid.UUID {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(ctxPersonID).(uuid.UUID); ok && v != uuid.Nil {
		return &v
	}
	return nil
}

func IsOrganizerFromContext(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	v, _ := ctx.Value(ctxOrganizer).(bool)
	return v
}

// WithPersonID injects the authenticated person into the context.
func WithPersonID(ctx context.Context, personID uuid.UUID, organizer bool) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxPersonID, personID)
	return context.WithValue(ctx, ctxOrganizer, organizer)
}
