package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"sales-dashboard/internal/auth"
	"sales-dashboard/internal/errors"
	"sales-dashboard/internal/observability"
)

type TokenVerifier interface {
	Verify(token string) auth.Verification
}

type claimsContextKey struct{}

// BearerToken extracts the token from an "Authorization: Bearer ..." header.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// RequireAuth rejects requests without a valid bearer token and stores the
// verified claims in the request context.
func RequireAuth(verifier TokenVerifier, logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := observability.GetRequestID(r.Context())

			token, ok := BearerToken(r)
			if !ok {
				observability.RecordAuth("bearer", "missing")
				errors.WriteError(w, logger, errors.Unauthorized("No token provided"), requestID)
				return
			}

			v := verifier.Verify(token)
			observability.RecordAuth("bearer", v.Status.String())

			switch v.Status {
			case auth.StatusValid:
				ctx := context.WithValue(r.Context(), claimsContextKey{}, v.Claims)
				if span := observability.GetSpan(ctx); span != nil {
					span.SetTag("user", v.Claims.Subject)
				}
				next.ServeHTTP(w, r.WithContext(ctx))
			case auth.StatusExpired:
				errors.WriteError(w, logger, errors.TokenExpired("Token expired"), requestID)
			default:
				logger.Debug("token rejected", "reason", v.Err, "request_id", requestID)
				errors.WriteError(w, logger, errors.Unauthorized("Invalid token"), requestID)
			}
		})
	}
}

func ClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*auth.Claims)
	return claims, ok && claims != nil
}
