package shared

import "context"

// Role enumerates caller roles understood by the ledger core.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleCashier Role = "CASHIER"
)

// Actor identifies the authenticated caller of a mutating operation.
type Actor struct {
	ID   string
	Role Role
}

// CanSell reports whether the actor may run checkouts and exchanges.
func (a Actor) CanSell() bool {
	return a.Role == RoleAdmin || a.Role == RoleCashier
}

// IsAdmin reports whether the actor holds the ADMIN role.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context. The second return is
// false when no authenticated actor is present.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok && actor.ID != ""
}
