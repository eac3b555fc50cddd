package middleware

import (
	"context"
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"process-calendar-api/internal/auth"
	"process-calendar-api/internal/logging"
)

// RequireAuth rejects requests without a valid bearer token and stores the
// caller in the request context.
func RequireAuth(iss *auth.Issuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := auth.BearerToken(r.Header.Get("Authorization"))
			if raw == "" {
				writeError(w, r, http.StatusUnauthorized, "Not authenticated")
				return
			}
			claims, err := iss.Parse(raw)
			if err != nil {
				writeError(w, r, http.StatusUnauthorized, "Invalid or expired token")
				return
			}
			ctx := WithUser(r.Context(), claims.UserID, claims.Role)
			ctx = logging.WithEntry(ctx, logging.FromContext(ctx).WithField("user_id", claims.UserID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UnaryAuth checks the bearer token in gRPC metadata. Methods in open
// skip the check.
func UnaryAuth(iss *auth.Issuer, open map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if open[info.FullMethod] {
			return next(ctx, req)
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}

		raw := ""
		if vals := md.Get("authorization"); len(vals) > 0 {
			raw = auth.BearerToken(vals[0])
		}
		if raw == "" {
			return nil, status.Error(codes.Unauthenticated, "no token")
		}

		claims, err := iss.Parse(raw)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "bad token")
		}
		return next(WithUser(ctx, claims.UserID, claims.Role), req)
	}
}
