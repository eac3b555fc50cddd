package middleware

import "context"

type ctxKey string

const (
	UserIDKey ctxKey = "uid"
	RoleKey   ctxKey = "role"
)

func WithUser(ctx context.Context, uid, role string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, uid)
	return context.WithValue(ctx, RoleKey, role)
}

// UserID is empty for unauthenticated requests.
func UserID(ctx context.Context) string {
	v, _ := ctx.Value(UserIDKey).(string)
	return v
}

func IsAdmin(ctx context.Context) bool {
	v, _ := ctx.Value(RoleKey).(string)
	return v == "admin"
}
