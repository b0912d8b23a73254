package service

import (
	"context"
	"strings"
)

const (
	ActorIntake    = "system:intake"
	ActorScheduler = "system:scheduler"
	ActorCLI       = "system:cli"
)

type actorKey struct{}

// WithActor tags ctx with the operator or subsystem issuing a command. The
// value ends up in the audit trail.
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, strings.TrimSpace(actorID))
}

func ActorFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	actor, _ := ctx.Value(actorKey{}).(string)
	return actor
}
