package middleware

import (
	"context"
	"net/http"
	"strings"

	"LicensePlatform/pkg/errors"
	"LicensePlatform/pkg/logger"
	"LicensePlatform/services/license-service/internal/pkg/jwt"
)

type claimsKey struct{}

// TokenValidator проверяет административный токен
type TokenValidator interface {
	Validate(token string) (*jwt.Claims, error)
}

// AdminAuth требует Bearer токен оператора с одной из ролей roles
func AdminAuth(validator TokenValidator, log logger.Logger, roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := BearerToken(r.Header.Get("Authorization"))
			if raw == "" {
				errors.WriteJSON(w, errors.New(errors.ErrUnauthorized, "missing bearer token"))
				return
			}

			claims, err := validator.Validate(raw)
			if err != nil {
				log.Warn("Admin token rejected", logger.CtxField(r.Context()), logger.Error(err))
				errors.WriteJSON(w, errors.Wrap(err, errors.ErrUnauthorized, "invalid token"))
				return
			}

			if _, ok := allowed[claims.Role]; !ok {
				errors.WriteJSON(w, errors.New(errors.ErrForbidden, "role is not allowed"))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// BearerToken извлекает токен из значения заголовка Authorization
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// WithClaims кладет данные оператора в контекст
func WithClaims(ctx context.Context, claims *jwt.Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFrom возвращает данные оператора из контекста
func ClaimsFrom(ctx context.Context) (*jwt.Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*jwt.Claims)
	return claims, ok
}
