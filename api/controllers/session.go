package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/littleweaver/brambling/api/middleware"
	"github.com/littleweaver/brambling/internal/events"
	ordersvc "github.com/littleweaver/brambling/internal/orders"
	"github.com/littleweaver/brambling/pkg/db/models"
	pkgerrors "github.com/littleweaver/brambling/pkg/errors"
	"github.com/littleweaver/brambling/pkg/logger"
)

// orderCodeHeader carries the anonymous buyer's order code. Clients that
// have not signed in hold their order purely through this value.
const orderCodeHeader = "X-Order-Code"

func resolveEvent(r *http.Request, repo *events.Repository, logg *logger.Logger) (*models.Event, *http.Request, error) {
	slug := strings.TrimSpace(chi.URLParam(r, "eventSlug"))
	if slug == "" {
		return nil, r, pkgerrors.New(pkgerrors.CodeValidation, "event slug required")
	}
	event, err := repo.FindBySlug(r.Context(), slug)
	if err != nil {
		return nil, r, err
	}
	if logg != nil {
		r = r.WithContext(logg.WithEventSlug(r.Context(), event.Slug))
	}
	return event, r, nil
}

// resolveOrderByCode loads another buyer's order from the {orderCode} path
// parameter. Organizer routes use this instead of the caller's own session.
func resolveOrderByCode(r *http.Request, repo *ordersvc.Repository, event *models.Event, logg *logger.Logger) (*models.Order, *http.Request, error) {
	code := strings.TrimSpace(chi.URLParam(r, "orderCode"))
	if code == "" {
		return nil, r, pkgerrors.New(pkgerrors.CodeValidation, "order code required")
	}
	order, err := repo.FindByEventAndCode(r.Context(), event.ID, code)
	if err != nil {
		return nil, r, err
	}
	if order == nil {
		return nil, r, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if logg != nil {
		r = r.WithContext(logg.WithOrderCode(r.Context(), order.Code))
	}
	return order, r, nil
}

// resolveOrder finds or creates the caller's order for the event. Signed-in
// callers are keyed by person, anonymous ones by the order code header.
func resolveOrder(r *http.Request, svc ordersvc.Service, event *models.Event, logg *logger.Logger) (*models.Order, *http.Request, error) {
	personID := middleware.PersonIDFromContext(r.Context())
	code := strings.TrimSpace(r.Header.Get(orderCodeHeader))

	order, err := svc.ForRequest(r.Context(), event, personID, code)
	if err != nil {
		return nil, r, err
	}
	if logg != nil {
		r = r.WithContext(logg.WithOrderCode(r.Context(), order.Code))
	}
	return order, r, nil
}
