package controllers

import (
	"net/http"

	"github.com/littleweaver/brambling/api/middleware"
	"github.com/littleweaver/brambling/api/responses"
	"github.com/littleweaver/brambling/api/validators"
	"github.com/littleweaver/brambling/internal/events"
	ordersvc "github.com/littleweaver/brambling/internal/orders"
	pkgerrors "github.com/littleweaver/brambling/pkg/errors"
	"github.com/littleweaver/brambling/pkg/logger"
)

// OrderFetch returns the caller's order with its units and money summary.
// Anonymous callers without an order code get a fresh empty order; the code
// in the response is what they hold on to.
func OrderFetch(eventsRepo *events.Repository, ordersRepo *ordersvc.Repository, svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		event, r, err := resolveEvent(r, eventsRepo, logg)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, r, err := resolveOrder(r, svc, event, logg)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items, err := ordersRepo.ListItems(r.Context(), order.ID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		summary, err := svc.Summary(r.Context(), order)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newOrderView(event, order, items, summary))
	}
}

type claimOrderRequest struct {
	Code string `json:"code" validate:"required"`
}

// OrderClaim attaches an anonymous order to the signed-in caller.
func OrderClaim(eventsRepo *events.Repository, svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		event, r, err := resolveEvent(r, eventsRepo, logg)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		personID := middleware.PersonIDFromContext(r.Context())
		if personID == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "sign in to claim an order"))
			return
		}

		var req claimOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.ClaimOrder(r.Context(), event, req.Code, *personID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newOrderView(event, order, nil, nil))
	}
}
