package controllers

import (
	"net/http"

	"github.com/littleweaver/brambling/api/middleware"
	"github.com/littleweaver/brambling/api/responses"
	"github.com/littleweaver/brambling/api/validators"
	discountsvc "github.com/littleweaver/brambling/internal/discounts"
	"github.com/littleweaver/brambling/internal/events"
	ordersvc "github.com/littleweaver/brambling/internal/orders"
	"github.com/littleweaver/brambling/pkg/logger"
)

type applyDiscountRequest struct {
	Code string `json:"code" validate:"required"`
	// Force re-applies a code the order already redeemed; organizers only.
	Force bool `json:"force,omitempty"`
	// IgnoreWindow skips the availability window; organizers only.
	IgnoreWindow bool `json:"ignore_window,omitempty"`
}

// DiscountApply redeems a discount code against the caller's order.
func DiscountApply(eventsRepo *events.Repository, orders ordersvc.Service, discounts discountsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		event, r, err := resolveEvent(r, eventsRepo, logg)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, r, err := resolveOrder(r, orders, event, logg)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req applyDiscountRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		opts := discountsvc.ApplyOptions{}
		if middleware.IsOrganizerFromContext(r.Context()) {
			opts.Force = req.Force
			opts.IgnoreWindow = req.IgnoreWindow
		}

		if err := discounts.AddDiscountByCode(r.Context(), event, order, req.Code, opts); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		summary, err := orders.Summary(r.Context(), order)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{
			"order_code": order.Code,
			"summary":    summary,
		})
	}
}
