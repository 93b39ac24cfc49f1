package middleware

import (
	"log/slog"
	"net/http"

	"github.com/szczecha/saleor/pkg/logger"
)

// RequestLogger builds a request-scoped logger enriched with correlation_id,
// actor_id, trace_id, and span_id, and stores it in context. Handlers fetch
// it with logger.FromContext. Mount after RequestLogging (correlation ID) and
// Tracing (span context).
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			// Mutation endpoints attribute actions to a user or an app via
			// headers; pick up either for log enrichment.
			actor := r.Header.Get("X-User-ID")
			if actor == "" {
				actor = r.Header.Get("X-App-ID")
			}
			if actor != "" {
				ctx = logger.WithActorID(ctx, actor)
			}

			enriched := logger.WithContext(ctx, base)
			ctx = logger.NewContext(ctx, enriched)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
