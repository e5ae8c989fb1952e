package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/littleweaver/brambling/api/responses"
	"github.com/littleweaver/brambling/api/validators"
	"github.com/littleweaver/brambling/internal/events"
	refundsvc "github.com/littleweaver/brambling/internal/refunds"
	"github.com/littleweaver/brambling/pkg/logger"
)

type refundRequest struct {
	TransactionID uuid.UUID `json:"transaction_id" validate:"required"`
	// Exactly one of AmountCents or BoughtItemIDs drives the refund.
	AmountCents   *int        `json:"amount_cents,omitempty"`
	BoughtItemIDs []uuid.UUID `json:"bought_item_ids,omitempty"`
	DwollaPin     string      `json:"dwolla_pin,omitempty"`
}

// RefundCreate reverses part or all of a purchase. Organizer only.
func RefundCreate(eventsRepo *events.Repository, refunds refundsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		event, r, err := resolveEvent(r, eventsRepo, logg)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req refundRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		txn, err := refunds.Refund(r.Context(), event, refundsvc.RefundParams{
			TransactionID: req.TransactionID,
			AmountCents:   req.AmountCents,
			BoughtItemIDs: req.BoughtItemIDs,
			DwollaPin:     req.DwollaPin,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if txn == nil {
			// Computed amount was zero, nothing to reverse.
			responses.WriteSuccess(w, nil)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newTransactionView(txn))
	}
}

// RefundableAmount reports how many cents of a purchase remain unrefunded.
// Organizer only.
func RefundableAmount(eventsRepo *events.Repository, refunds refundsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, r, err := resolveEvent(r, eventsRepo, logg)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		txnID, err := validators.ParsePathUUID(r, "transactionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		amount, err := refunds.GetRefundableAmount(r.Context(), txnID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]int{"refundable_cents": amount})
	}
}
