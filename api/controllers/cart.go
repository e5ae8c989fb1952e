package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/littleweaver/brambling/api/responses"
	"github.com/littleweaver/brambling/api/validators"
	cartsvc "github.com/littleweaver/brambling/internal/cart"
	"github.com/littleweaver/brambling/internal/events"
	ordersvc "github.com/littleweaver/brambling/internal/orders"
	"github.com/littleweaver/brambling/pkg/logger"
)

type cartAddRequest struct {
	ItemOptionID uuid.UUID `json:"item_option_id" validate:"required"`
}

// CartAdd reserves one unit of an item option in the caller's cart.
func CartAdd(eventsRepo *events.Repository, orders ordersvc.Service, cart cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
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

		var req cartAddRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		item, err := cart.AddToCart(r.Context(), event, order, req.ItemOptionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]any{
			"order_code": order.Code,
			"item":       newItemView(item),
		})
	}
}

// CartRemove releases one reserved unit back to inventory.
func CartRemove(eventsRepo *events.Repository, orders ordersvc.Service, cart cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
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

		itemID, err := validators.ParsePathUUID(r, "itemId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := cart.RemoveFromCart(r.Context(), event, order, itemID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{"removed": itemID})
	}
}
