package webhooks

import (
	"context"
	"io"
	"net/http"

	stripeapi "github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/littleweaver/brambling/api/responses"
	"github.com/littleweaver/brambling/pkg/config"
	pkgerrors "github.com/littleweaver/brambling/pkg/errors"
	"github.com/littleweaver/brambling/pkg/logger"
)

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripeapi.Event) (string, error)
}

type stripeWebhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

// StripeWebhook receives charge lifecycle events. The signed payload only
// locates records; the service re-fetches the event from Stripe before
// trusting any of it.
func StripeWebhook(svc StripeWebhookService, cfg config.StripeConfig, guard stripeWebhookGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		event, err := webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), cfg.SigningSecret)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid stripe signature"))
			return
		}

		// The Redis guard is an advisory fast path for Stripe's retry storms;
		// the processed-events table inside the service is the real
		// exactly-once guarantee.
		if guard != nil {
			alreadySeen, err := guard.CheckAndMark(ctx, event.ID)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
				return
			}
			if alreadySeen {
				responses.WriteSuccess(w, map[string]string{"outcome": "replay"})
				return
			}
		}

		outcome, err := svc.HandleEvent(ctx, &event)
		if err != nil {
			if guard != nil {
				_ = guard.Delete(ctx, event.ID)
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{
				"stripe_event_id": event.ID,
				"outcome":         outcome,
			})
			logg.Info(ctx, "stripe webhook processed")
		}
		responses.WriteSuccess(w, map[string]string{"outcome": outcome})
	}
}
