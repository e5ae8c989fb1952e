// Package stripewebhook reconciles Stripe webhook deliveries against the
// transaction ledger. Deliveries are untrusted input: the payload is only used
// to locate local records, and the event is re-fetched from Stripe with the
// organizer's own credentials before anything is written.
package stripewebhook

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	dbpkg "github.com/littleweaver/brambling/pkg/db"
	"github.com/littleweaver/brambling/pkg/db/models"
	"github.com/littleweaver/brambling/pkg/enums"
	pkgerrors "github.com/littleweaver/brambling/pkg/errors"
	"github.com/littleweaver/brambling/pkg/fees"
	"github.com/littleweaver/brambling/pkg/logger"
	"github.com/littleweaver/brambling/pkg/metrics"
	"github.com/littleweaver/brambling/pkg/outbox"
	"github.com/littleweaver/brambling/pkg/outbox/payloads"
	pkgstripe "github.com/littleweaver/brambling/pkg/stripe"
)

// Outcome labels reported to the webhook counter.
const (
	OutcomeApplied   = "applied"
	OutcomeReplay    = "replay"
	OutcomeUnmatched = "unmatched"
	OutcomeIgnored   = "ignored"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// EventFetcher is the slice of the Stripe client the webhook needs: re-fetch
// an event by ID under the organizer's credentials.
type EventFetcher interface {
	FetchEvent(ctx context.Context, id string) (*stripe.Event, error)
	APIType() enums.StripeAPIType
}

// ClientFactory builds a Stripe client from the event's own credentials.
type ClientFactory func(event *models.Event) (EventFetcher, error)

// DefaultClientFactory wires the real per-event Stripe client.
func DefaultClientFactory(event *models.Event) (EventFetcher, error) {
	return pkgstripe.ForEvent(event)
}

type ServiceParams struct {
	TransactionRunner txRunner
	Outbox            outboxPublisher
	ClientFactory     ClientFactory
	Logger            *logger.Logger
	Metrics           *metrics.LedgerMetrics
}

// Service applies refund webhook events to the ledger exactly once.
type Service struct {
	txRunner  txRunner
	outbox    outboxPublisher
	clientFor ClientFactory
	log       *logger.Logger
	metrics   *metrics.LedgerMetrics
}

func NewService(params ServiceParams) (*Service, error) {
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox publisher required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	if params.ClientFactory == nil {
		params.ClientFactory = DefaultClientFactory
	}
	return &Service{
		txRunner:  params.TransactionRunner,
		outbox:    params.Outbox,
		clientFor: params.ClientFactory,
		log:       params.Logger,
		metrics:   params.Metrics,
	}, nil
}

// HandleEvent processes one signature-verified webhook delivery. The returned
// outcome is the counter label; an error means the delivery should be retried.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) (string, error) {
	if event == nil || event.Data == nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	outcome := OutcomeIgnored
	defer func() { s.metrics.IncWebhook("stripe", outcome) }()

	switch event.Type {
	case stripe.EventTypeChargeRefunded:
	default:
		// Everything else is acknowledged without touching the ledger.
		return outcome, nil
	}

	var charge stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode charge event")
	}
	if charge.ID == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "charge id missing")
	}

	// The payload is only a pointer into our own records. A charge we never
	// issued is someone else's traffic, not an error.
	purchase, danceEvent, err := s.resolveCharge(ctx, charge.ID)
	if err != nil {
		return "", err
	}
	if purchase == nil {
		s.log.Warn(s.log.WithField(ctx, "stripe_charge_id", charge.ID), "stripe webhook for unknown charge")
		outcome = OutcomeUnmatched
		return outcome, nil
	}

	client, err := s.clientFor(danceEvent)
	if err != nil {
		return "", err
	}
	trusted, err := client.FetchEvent(ctx, event.ID)
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal(trusted.Data.Raw, &charge); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode fetched charge")
	}

	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		applied, err := s.apply(ctx, tx, client.APIType(), trusted.ID, purchase, &charge)
		if err != nil {
			return err
		}
		if applied {
			outcome = OutcomeApplied
		} else {
			outcome = OutcomeReplay
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

func (s *Service) resolveCharge(ctx context.Context, chargeID string) (*models.Transaction, *models.Event, error) {
	var purchase models.Transaction
	var danceEvent models.Event
	found := false
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		err := tx.WithContext(ctx).
			Where("remote_id = ?", chargeID).
			Where("method = ?", enums.PaymentMethodStripe).
			Where("transaction_type = ?", enums.TransactionTypePurchase).
			First(&purchase).Error
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resolving charge")
		}
		err = tx.WithContext(ctx).First(&danceEvent, "id = ?", purchase.EventID).Error
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading event")
		}
		found = true
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, nil, nil
	}
	return &purchase, &danceEvent, nil
}

// apply records the delta between Stripe's refunded total and the ledger,
// guarded by the processed-events unique index. Returns false on a replay.
func (s *Service) apply(ctx context.Context, tx *gorm.DB, apiType enums.StripeAPIType, stripeEventID string, purchase *models.Transaction, charge *stripe.Charge) (bool, error) {
	// The unique index on (stripe_event_id, api_type) is the exactly-once
	// mechanism. DO NOTHING keeps a lost insert race from aborting the
	// transaction; zero rows affected means another delivery already won.
	mark := models.ProcessedStripeEvent{StripeEventID: stripeEventID, APIType: apiType}
	res := tx.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&mark)
	if res.Error != nil {
		if dbpkg.IsUniqueViolation(res.Error, "") {
			return false, nil
		}
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "marking event processed")
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	var locked models.Transaction
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&locked, "id = ?", purchase.ID).Error
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "locking purchase")
	}

	recorded, err := sumRefundColumn(ctx, tx, locked.ID, "amount_cents")
	if err != nil {
		return false, err
	}
	// Refund rows are negative; Stripe reports the cumulative refunded total.
	delta := int(charge.AmountRefunded) + recorded
	if delta <= 0 {
		return true, nil
	}
	refundable := locked.AmountCents + recorded

	appFee := fees.ProportionalShare(locked.ApplicationFeeCents, delta, locked.AmountCents)
	procFee := fees.ProportionalShare(locked.ProcessingFeeCents, delta, locked.AmountCents)
	if delta == refundable {
		refundedApp, err := sumRefundColumn(ctx, tx, locked.ID, "application_fee_cents")
		if err != nil {
			return false, err
		}
		refundedProc, err := sumRefundColumn(ctx, tx, locked.ID, "processing_fee_cents")
		if err != nil {
			return false, err
		}
		appFee = locked.ApplicationFeeCents + refundedApp
		procFee = locked.ProcessingFeeCents + refundedProc
	}

	refund := &models.Transaction{
		OrderID:              locked.OrderID,
		EventID:              locked.EventID,
		TransactionType:      enums.TransactionTypeRefund,
		AmountCents:          -delta,
		Method:               enums.PaymentMethodStripe,
		IsConfirmed:          true,
		RemoteID:             charge.ID,
		ApplicationFeeCents:  -appFee,
		ProcessingFeeCents:   -procFee,
		RelatedTransactionID: &locked.ID,
	}
	if err := tx.WithContext(ctx).Create(refund).Error; err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording webhook refund")
	}

	err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderRefunded,
		AggregateType: enums.AggregateTransaction,
		AggregateID:   refund.ID,
		Data: payloads.OrderRefundedEvent{
			OrderID:              refund.OrderID,
			EventID:              refund.EventID,
			TransactionID:        refund.ID,
			RelatedTransactionID: locked.ID,
			AmountCents:          refund.AmountCents,
			Method:               refund.Method.String(),
		},
		Version: 1,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func sumRefundColumn(ctx context.Context, tx *gorm.DB, originalID uuid.UUID, column string) (int, error) {
	var total struct{ Total int64 }
	err := tx.WithContext(ctx).
		Model(&models.Transaction{}).
		Select("COALESCE(SUM("+column+"), 0) AS total").
		Where("related_transaction_id = ?", originalID).
		Where("transaction_type = ?", enums.TransactionTypeRefund).
		Scan(&total).Error
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "summing recorded refunds")
	}
	return int(total.Total), nil
}
