package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/littleweaver/brambling/api/responses"
	pkgerrors "github.com/littleweaver/brambling/pkg/errors"
	"github.com/littleweaver/brambling/pkg/logger"
)

const dwollaSignatureHeader = "X-Dwolla-Signature"

type DwollaWebhookService interface {
	HandleWebhook(ctx context.Context, body []byte, signature string) (string, error)
}

// DwollaWebhook receives transaction status callbacks. Signature
// verification happens inside the service before anything touches the
// ledger.
func DwollaWebhook(svc DwollaWebhookService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		outcome, err := svc.HandleWebhook(ctx, body, r.Header.Get(dwollaSignatureHeader))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			logg.Info(logg.WithField(ctx, "outcome", outcome), "dwolla webhook processed")
		}
		responses.WriteSuccess(w, map[string]string{"outcome": outcome})
	}
}
