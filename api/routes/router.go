package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/littleweaver/brambling/api/controllers"
	webhookcontrollers "github.com/littleweaver/brambling/api/controllers/webhooks"
	"github.com/littleweaver/brambling/api/middleware"
	cartsvc "github.com/littleweaver/brambling/internal/cart"
	discountsvc "github.com/littleweaver/brambling/internal/discounts"
	"github.com/littleweaver/brambling/internal/events"
	"github.com/littleweaver/brambling/internal/ledger"
	ordersvc "github.com/littleweaver/brambling/internal/orders"
	paymentsvc "github.com/littleweaver/brambling/internal/payments"
	refundsvc "github.com/littleweaver/brambling/internal/refunds"
	transfersvc "github.com/littleweaver/brambling/internal/transfers"
	dwollawebhook "github.com/littleweaver/brambling/internal/webhooks/dwolla"
	stripewebhook "github.com/littleweaver/brambling/internal/webhooks/stripe"
	"github.com/littleweaver/brambling/pkg/config"
	"github.com/littleweaver/brambling/pkg/db"
	"github.com/littleweaver/brambling/pkg/logger"
	"github.com/littleweaver/brambling/pkg/redis"
)

// Deps is everything the HTTP surface needs wired in. cmd/api builds one.
type Deps struct {
	DB    db.Pinger
	Redis *redis.Client

	EventsRepo *events.Repository
	OrdersRepo *ordersvc.Repository
	LedgerRepo *ledger.Repository

	Orders    ordersvc.Service
	Cart      cartsvc.Service
	Discounts discountsvc.Service
	Payments  paymentsvc.Service
	Refunds   refundsvc.Service
	Transfers transfersvc.Service

	StripeWebhooks *stripewebhook.Service
	StripeGuard    *stripewebhook.IdempotencyGuard
	DwollaWebhooks *dwollawebhook.Service
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.DB, deps.Redis))
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(deps.StripeWebhooks, cfg.Stripe, deps.StripeGuard, logg))

		// Dwolla is optional. A nil *Service must not become a
		// non-nil interface inside the handler.
		var dwollaSvc webhookcontrollers.DwollaWebhookService
		if deps.DwollaWebhooks != nil {
			dwollaSvc = deps.DwollaWebhooks
		}
		r.Post("/dwolla", webhookcontrollers.DwollaWebhook(dwollaSvc, logg))
	})

	r.Route("/api/v1/events/{eventSlug}", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Get("/", controllers.EventFetch(deps.EventsRepo, logg))

		r.Get("/order", controllers.OrderFetch(deps.EventsRepo, deps.OrdersRepo, deps.Orders, logg))
		r.Post("/order/claim", controllers.OrderClaim(deps.EventsRepo, deps.Orders, logg))

		r.Post("/cart", controllers.CartAdd(deps.EventsRepo, deps.Orders, deps.Cart, logg))
		r.Delete("/cart/{itemId}", controllers.CartRemove(deps.EventsRepo, deps.Orders, deps.Cart, logg))

		r.Post("/discounts", controllers.DiscountApply(deps.EventsRepo, deps.Orders, deps.Discounts, logg))

		r.Post("/pay", controllers.PayOrder(deps.EventsRepo, deps.Orders, deps.Payments, logg))

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireOrganizer(logg))

			r.Post("/orders/{orderCode}/payments", controllers.ManualPayment(deps.EventsRepo, deps.OrdersRepo, deps.Payments, logg))
			r.Get("/orders/{orderCode}/transactions", controllers.OrderTransactions(deps.EventsRepo, deps.OrdersRepo, deps.LedgerRepo, logg))

			r.Get("/transactions", controllers.EventTransactions(deps.EventsRepo, deps.LedgerRepo, logg))
			r.Post("/transactions/{transactionId}/confirm", controllers.ConfirmTransaction(deps.EventsRepo, deps.Payments, logg))
			r.Get("/transactions/{transactionId}/refundable", controllers.RefundableAmount(deps.EventsRepo, deps.Refunds, logg))

			r.Post("/refunds", controllers.RefundCreate(deps.EventsRepo, deps.Refunds, logg))
			r.Post("/transfers", controllers.TransferItem(deps.EventsRepo, deps.OrdersRepo, deps.Transfers, logg))
		})
	})

	return r
}
