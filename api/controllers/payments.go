package controllers

import (
	"net/http"

	"github.com/littleweaver/brambling/api/responses"
	"github.com/littleweaver/brambling/api/validators"
	"github.com/littleweaver/brambling/internal/events"
	ordersvc "github.com/littleweaver/brambling/internal/orders"
	paymentsvc "github.com/littleweaver/brambling/internal/payments"
	"github.com/littleweaver/brambling/pkg/enums"
	pkgerrors "github.com/littleweaver/brambling/pkg/errors"
	"github.com/littleweaver/brambling/pkg/logger"
)

type payOrderRequest struct {
	Method         string `json:"method" validate:"required,oneof=stripe dwolla"`
	Token          string `json:"token,omitempty"`
	DwollaPin      string `json:"dwolla_pin,omitempty"`
	DwollaSourceID string `json:"dwolla_source_id,omitempty"`
}

// PayOrder charges the caller's outstanding cart balance through a gateway
// and settles the cart.
func PayOrder(eventsRepo *events.Repository, orders ordersvc.Service, payments paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
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

		var req payOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		method := enums.PaymentMethod(req.Method)
		if method == enums.PaymentMethodStripe && req.Token == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "stripe token required"))
			return
		}

		txn, err := payments.ChargeOrder(r.Context(), event, order, paymentsvc.ChargeOrderParams{
			Method:         method,
			Token:          req.Token,
			DwollaPin:      req.DwollaPin,
			DwollaSourceID: req.DwollaSourceID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newTransactionView(txn))
	}
}

type manualPaymentRequest struct {
	Method string `json:"method" validate:"required,oneof=cash check fake"`
	// AmountCents defaults to the order's outstanding balance.
	AmountCents *int `json:"amount_cents,omitempty"`
}

// ManualPayment records money that moved outside any gateway. Organizer only.
func ManualPayment(eventsRepo *events.Repository, ordersRepo *ordersvc.Repository, payments paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		event, r, err := resolveEvent(r, eventsRepo, logg)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, r, err := resolveOrderByCode(r, ordersRepo, event, logg)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req manualPaymentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		txn, err := payments.RecordManualPayment(r.Context(), event, order, paymentsvc.ManualPaymentParams{
			Method:      enums.PaymentMethod(req.Method),
			AmountCents: req.AmountCents,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newTransactionView(txn))
	}
}

// ConfirmTransaction marks an unconfirmed ledger row as settled, e.g. a
// check that arrived in the mail. Organizer only.
func ConfirmTransaction(eventsRepo *events.Repository, payments paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
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

		txn, err := payments.ConfirmTransaction(r.Context(), txnID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newTransactionView(txn))
	}
}
