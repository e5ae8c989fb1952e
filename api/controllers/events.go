package controllers

import (
	"net/http"

	"github.com/littleweaver/brambling/api/responses"
	"github.com/littleweaver/brambling/internal/events"
	"github.com/littleweaver/brambling/pkg/logger"
)

// EventFetch returns the public view of one event.
func EventFetch(repo *events.Repository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		event, r, err := resolveEvent(r, repo, logg)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newEventView(event))
	}
}
