package auth

import "context"

type contextKey string

const identityKey contextKey = "identity"

// роли из access токенов хранилища
const (
	RoleAnon          = "anon"
	RoleAuthenticated = "authenticated"
)

// Identity вызывающий так, как его знает хранилище. Token пробрасывается как есть,
// чтобы хранилище применило свои политики RLS.
type Identity struct {
	UserID string
	Role   string
	Token  string
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext возвращает личность, выставленную JWT middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	if !ok || id.UserID == "" {
		return Identity{}, false
	}
	return id, true
}
