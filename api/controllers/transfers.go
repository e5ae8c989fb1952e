package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/littleweaver/brambling/api/responses"
	"github.com/littleweaver/brambling/api/validators"
	"github.com/littleweaver/brambling/internal/events"
	ordersvc "github.com/littleweaver/brambling/internal/orders"
	transfersvc "github.com/littleweaver/brambling/internal/transfers"
	"github.com/littleweaver/brambling/pkg/logger"
)

type transferRequest struct {
	BoughtItemID uuid.UUID `json:"bought_item_id" validate:"required"`
	ToOrderCode  string    `json:"to_order_code" validate:"required"`
}

// TransferItem moves a purchased unit to another order in the same event.
// Organizer only.
func TransferItem(eventsRepo *events.Repository, ordersRepo *ordersvc.Repository, transfers transfersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		event, r, err := resolveEvent(r, eventsRepo, logg)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req transferRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		toOrder, err := ordersRepo.FindByEventAndCode(r.Context(), event.ID, req.ToOrderCode)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if toOrder == nil {
			responses.WriteError(r.Context(), logg, w, notFoundOrder())
			return
		}

		item, err := transfers.TransferItem(r.Context(), event, req.BoughtItemID, toOrder)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{
			"to_order_code": toOrder.Code,
			"item":          newItemView(item),
		})
	}
}
