// Package dwollawebhook confirms pending Dwolla transactions from webhook
// deliveries. Dwolla settles asynchronously, so purchase rows start
// unconfirmed and this is the only place that flips them.
package dwollawebhook

import (
	"context"
	"encoding/json"

	"gorm.io/gorm"

	"github.com/littleweaver/brambling/pkg/db/models"
	"github.com/littleweaver/brambling/pkg/enums"
	pkgerrors "github.com/littleweaver/brambling/pkg/errors"
	"github.com/littleweaver/brambling/pkg/logger"
	"github.com/littleweaver/brambling/pkg/metrics"
)

// Outcome labels reported to the webhook counter.
const (
	OutcomeApplied   = "applied"
	OutcomeIgnored   = "ignored"
	OutcomeUnmatched = "unmatched"
)

// The only status that confirms a ledger row. Everything else Dwolla
// reports (pending, failed, cancelled, reclaimed) leaves it unconfirmed.
const statusProcessed = "processed"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// SignatureVerifier checks a delivery's HMAC signature.
type SignatureVerifier interface {
	VerifyWebhook(body []byte, signature string) bool
}

type ServiceParams struct {
	TransactionRunner txRunner
	Verifier          SignatureVerifier
	Logger            *logger.Logger
	Metrics           *metrics.LedgerMetrics
}

// Service applies Dwolla transaction status webhooks to the ledger.
type Service struct {
	txRunner txRunner
	verifier SignatureVerifier
	log      *logger.Logger
	metrics  *metrics.LedgerMetrics
}

func NewService(params ServiceParams) (*Service, error) {
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Verifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "signature verifier required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		txRunner: params.TransactionRunner,
		verifier: params.Verifier,
		log:      params.Logger,
		metrics:  params.Metrics,
	}, nil
}

// webhookPayload is the legacy Dwolla webhook envelope. Field names follow
// Dwolla's PascalCase wire format.
type webhookPayload struct {
	ID          string `json:"Id"`
	Type        string `json:"Type"`
	Subtype     string `json:"Subtype"`
	Transaction struct {
		ID     json.Number `json:"Id"`
		Status string      `json:"Status"`
	} `json:"Transaction"`
}

// HandleWebhook verifies and applies one raw delivery. Nothing is ever
// mutated before the signature checks out.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) (string, error) {
	if !s.verifier.VerifyWebhook(body, signature) {
		return "", pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid webhook signature")
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode webhook payload")
	}

	outcome := OutcomeIgnored
	defer func() { s.metrics.IncWebhook("dwolla", outcome) }()

	// Deliveries we cannot act on get distinct 404-class diagnostics so
	// Dwolla's logs show which gate rejected them.
	if payload.Type != "Transaction" {
		outcome = OutcomeUnmatched
		return "", pkgerrors.New(pkgerrors.CodeWebhookNotFound, "unexpected webhook type").
			WithDetails(map[string]string{"type": payload.Type})
	}
	if payload.Subtype != "Status" {
		outcome = OutcomeUnmatched
		return "", pkgerrors.New(pkgerrors.CodeWebhookNotFound, "unexpected webhook subtype").
			WithDetails(map[string]string{"subtype": payload.Subtype})
	}
	remoteID := payload.Transaction.ID.String()
	if remoteID == "" {
		outcome = OutcomeUnmatched
		return "", pkgerrors.New(pkgerrors.CodeWebhookNotFound, "transaction id missing from webhook")
	}

	confirmed := payload.Transaction.Status == statusProcessed

	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		var txn models.Transaction
		err := tx.WithContext(ctx).
			Where("remote_id = ?", remoteID).
			Where("method = ?", enums.PaymentMethodDwolla).
			First(&txn).Error
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeWebhookNotFound, "no transaction matches the webhook").
					WithDetails(map[string]string{"dwolla_transaction_id": remoteID})
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resolving transaction")
		}
		if txn.IsConfirmed == confirmed {
			return nil
		}
		err = tx.WithContext(ctx).
			Model(&models.Transaction{}).
			Where("id = ?", txn.ID).
			Update("is_confirmed", confirmed).Error
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating transaction")
		}
		outcome = OutcomeApplied
		return nil
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeWebhookNotFound) {
			outcome = OutcomeUnmatched
			s.log.Warn(s.log.WithField(ctx, "dwolla_transaction_id", remoteID), "dwolla webhook for unknown transaction")
		}
		return "", err
	}
	return outcome, nil
}
