package controllers

import (
	"net/http"

	"github.com/littleweaver/brambling/api/responses"
	"github.com/littleweaver/brambling/internal/events"
	"github.com/littleweaver/brambling/internal/ledger"
	ordersvc "github.com/littleweaver/brambling/internal/orders"
	pkgerrors "github.com/littleweaver/brambling/pkg/errors"
	"github.com/littleweaver/brambling/pkg/logger"
)

func notFoundOrder() error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
}

// EventTransactions returns the event's full ledger, oldest first. Organizer
// only.
func EventTransactions(eventsRepo *events.Repository, repo *ledger.Repository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		event, r, err := resolveEvent(r, eventsRepo, logg)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := repo.ListByEvent(r.Context(), event.ID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		views := make([]transactionView, 0, len(rows))
		for i := range rows {
			views = append(views, newTransactionView(&rows[i]))
		}
		responses.WriteSuccess(w, views)
	}
}

// OrderTransactions returns one order's ledger rows. Organizer only.
func OrderTransactions(eventsRepo *events.Repository, ordersRepo *ordersvc.Repository, repo *ledger.Repository, logg *logger.Logger) http.HandlerFunc {
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

		rows, err := repo.ListByOrder(r.Context(), order.ID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		views := make([]transactionView, 0, len(rows))
		for i := range rows {
			views = append(views, newTransactionView(&rows[i]))
		}
		responses.WriteSuccess(w, views)
	}
}
