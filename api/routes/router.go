package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/groupbuyhq/fulfillment-backend/api/controllers"
	"github.com/groupbuyhq/fulfillment-backend/api/middleware"
	"github.com/groupbuyhq/fulfillment-backend/internal/allocation"
	"github.com/groupbuyhq/fulfillment-backend/internal/fulfillment"
	"github.com/groupbuyhq/fulfillment-backend/internal/orderstatus"
	"github.com/groupbuyhq/fulfillment-backend/internal/shipments"
	"github.com/groupbuyhq/fulfillment-backend/pkg/config"
	"github.com/groupbuyhq/fulfillment-backend/pkg/db"
	"github.com/groupbuyhq/fulfillment-backend/pkg/logger"
	"github.com/groupbuyhq/fulfillment-backend/pkg/redis"
)

// Params bundle the dependencies the router wires into handlers.
type Params struct {
	Config      *config.Config
	Logger      *logger.Logger
	DB          db.Pinger
	Redis       redis.Pinger
	Allocation  allocation.Service
	Fulfillment fulfillment.Service
	Shipments   shipments.Service
	OrderStatus orderstatus.Service
	Metrics     prometheus.Gatherer
}

func NewRouter(p Params) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(p.Logger),
		middleware.RequestID(p.Logger),
		middleware.Logging(p.Logger),
		middleware.WithActor(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(p.Config))
		r.Get("/ready", controllers.HealthReady(p.Config, p.DB, p.Redis, p.Logger))
	})

	if p.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(p.Metrics, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/allocations", controllers.Allocate(p.Allocation, p.Logger))

		r.Route("/orders/{orderId}", func(r chi.Router) {
			r.Post("/ship", controllers.ShipOrder(p.Fulfillment, p.Logger))
			r.Post("/status", controllers.TransitionOrderStatus(p.OrderStatus, p.Logger))
			r.Get("/status/history", controllers.OrderStatusHistory(p.OrderStatus, p.Logger))
		})

		r.Route("/shipments", func(r chi.Router) {
			r.Post("/", controllers.CreateShipment(p.Shipments, p.Logger))
			r.Post("/merge", controllers.MergeShipments(p.Shipments, p.Logger))
			r.Post("/mark-shipped", controllers.MarkShipmentsShipped(p.Shipments, p.Logger))
			r.Get("/{shipmentId}", controllers.GetShipment(p.Shipments, p.Logger))
		})
	})

	return r
}
