package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"LicensePlatform/pkg/logger"
	"LicensePlatform/pkg/ratelimit"
)

// RateLimit ограничивает частоту запросов по IP клиента.
// Если лимитер недоступен, запрос пропускается.
func RateLimit(limiter ratelimit.RateLimiter, limit int, window time.Duration, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "ip:" + ClientIP(r)

			exceeded, err := limiter.CheckRateLimit(r.Context(), key, limit, window)
			if err != nil {
				log.Error("Rate limit check failed",
					logger.CtxField(r.Context()),
					logger.Error(err),
					logger.String("key", key))
				next.ServeHTTP(w, r)
				return
			}

			if exceeded {
				log.Warn("Rate limit exceeded",
					logger.CtxField(r.Context()),
					logger.String("key", key),
					logger.Int("limit", limit),
					logger.String("window", window.String()),
					logger.String("path", r.URL.Path))

				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", retryAfter(window))
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":{"code":"TOO_MANY_REQUESTS","message":"too many requests"}}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP адрес клиента: первый адрес X-Forwarded-For, затем X-Real-IP, затем RemoteAddr
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if first := strings.TrimSpace(strings.Split(forwarded, ",")[0]); first != "" {
			return first
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func retryAfter(window time.Duration) string {
	seconds := int(window.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}
