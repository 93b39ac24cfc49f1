package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/szczecha/saleor/pkg/health"
	"github.com/szczecha/saleor/pkg/middleware"
)

const serviceName = "promotion-engine"

// RouterDeps bundles everything the HTTP surface needs.
type RouterDeps struct {
	Promotions *PromotionHandler
	Pricing    *PricingHandler
	Channels   *ChannelHandler
	Health     *health.Handler
	Logger     *slog.Logger
	CORS       middleware.CORSConfig
}

// NewRouter builds the service router with the full middleware chain.
func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.CORS(deps.CORS))
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.Tracing(serviceName))
	r.Use(middleware.RequestLogging(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.PrometheusMetrics(serviceName))

	r.Get("/health/live", deps.Health.LivenessHandler())
	r.Get("/health/ready", deps.Health.ReadinessHandler())
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/promotions", func(r chi.Router) {
			r.Post("/", deps.Promotions.Create)
			r.Get("/", deps.Promotions.List)

			r.Route("/rules/{ruleId}", func(r chi.Router) {
				r.Get("/", deps.Promotions.GetRule)
				r.Put("/", deps.Promotions.UpdateRule)
				r.Delete("/", deps.Promotions.DeleteRule)
			})

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", deps.Promotions.Get)
				r.Put("/", deps.Promotions.Update)
				r.Delete("/", deps.Promotions.Delete)
				r.Post("/rules", deps.Promotions.CreateRule)
				r.Get("/events", deps.Promotions.ListEvents)
			})
		})

		r.Get("/channels", deps.Channels.List)
		r.Post("/pricing/quote", deps.Pricing.Quote)
	})

	return r
}
