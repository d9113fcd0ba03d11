package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/go-chi/chi/v5/middleware"
)

type ContextKey string

const OriginKey ContextKey = "origin"

// OriginMiddleware сохраняет адрес клиента в контексте. Адрес попадает
// в журнал только для аудита. Ставится после middleware.RealIP.
func OriginMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), OriginKey, r.RemoteAddr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetOriginFromContext извлекает адрес клиента из контекста
func GetOriginFromContext(ctx context.Context) string {
	origin, _ := ctx.Value(OriginKey).(string)
	return origin
}

// AccessLog пишет строку журнала на каждый обработанный запрос
func AccessLog(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := httpsnoop.CaptureMetrics(next, w, r)
			logger.Info("handled",
				"method", r.Method,
				"url", r.URL.Path,
				"status", m.Code,
				"duration", m.Duration,
				"bytes", m.Written,
				"request_id", middleware.GetReqID(r.Context()),
				"origin", r.RemoteAddr,
			)
		})
	}
}
