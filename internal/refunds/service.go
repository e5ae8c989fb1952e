// Package refunds reverses money on the transaction ledger. A refund is a new
// negative row pointing at the purchase it reverses; the purchase row is never
// touched, so the ledger stays append-only.
package refunds

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/littleweaver/brambling/internal/cart"
	"github.com/littleweaver/brambling/pkg/db/models"
	"github.com/littleweaver/brambling/pkg/dwolla"
	"github.com/littleweaver/brambling/pkg/enums"
	pkgerrors "github.com/littleweaver/brambling/pkg/errors"
	"github.com/littleweaver/brambling/pkg/fees"
	"github.com/littleweaver/brambling/pkg/gateway"
	"github.com/littleweaver/brambling/pkg/metrics"
	"github.com/littleweaver/brambling/pkg/outbox"
	"github.com/littleweaver/brambling/pkg/outbox/payloads"
	pkgstripe "github.com/littleweaver/brambling/pkg/stripe"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// StripeGateway is the slice of the Stripe client refunds use.
type StripeGateway interface {
	Refund(ctx context.Context, params pkgstripe.RefundParams) (*gateway.RefundResult, error)
}

// StripeFactory builds a gateway client from the event's own credentials.
type StripeFactory func(event *models.Event) (StripeGateway, error)

// DwollaGateway is the slice of the Dwolla client refunds use.
type DwollaGateway interface {
	Refund(ctx context.Context, params dwolla.RefundParams) (*gateway.RefundResult, error)
}

// DefaultStripeFactory wires the real per-event Stripe client.
func DefaultStripeFactory(event *models.Event) (StripeGateway, error) {
	return pkgstripe.ForEvent(event)
}

// RefundParams describes one refund request. Exactly one of AmountCents or
// BoughtItemIDs drives the amount: an explicit amount leaves unit statuses
// alone, a unit list refunds those units' effective prices and marks them
// refunded.
type RefundParams struct {
	TransactionID uuid.UUID
	AmountCents   *int
	BoughtItemIDs []uuid.UUID
	DwollaPin     string
}

// Service reverses payments.
type Service interface {
	// GetRefundableAmount reports how many cents of the purchase remain
	// unrefunded.
	GetRefundableAmount(ctx context.Context, transactionID uuid.UUID) (int, error)
	// Refund writes a refund row against the purchase, moving money through
	// the original gateway first when the method requires one. A computed
	// amount of zero is a no-op returning (nil, nil).
	Refund(ctx context.Context, event *models.Event, params RefundParams) (*models.Transaction, error)
}

type service struct {
	tx        txRunner
	outbox    outboxPublisher
	stripeFor StripeFactory
	dwolla    DwollaGateway
	metrics   *metrics.LedgerMetrics
}

// NewService builds the refunds service.
func NewService(tx txRunner, publisher outboxPublisher, stripeFor StripeFactory, dwollaGW DwollaGateway, ledgerMetrics *metrics.LedgerMetrics) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if stripeFor == nil {
		stripeFor = DefaultStripeFactory
	}
	return &service{
		tx:        tx,
		outbox:    publisher,
		stripeFor: stripeFor,
		dwolla:    dwollaGW,
		metrics:   ledgerMetrics,
	}, nil
}

func (s *service) GetRefundableAmount(ctx context.Context, transactionID uuid.UUID) (int, error) {
	refundable := 0
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		original, err := loadPurchase(ctx, tx, transactionID, false)
		if err != nil {
			return err
		}
		refundable, err = refundableAmount(ctx, tx, original)
		return err
	})
	if err != nil {
		return 0, err
	}
	return refundable, nil
}

func (s *service) Refund(ctx context.Context, event *models.Event, params RefundParams) (*models.Transaction, error) {
	if event == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event required")
	}
	if params.TransactionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id required")
	}
	if (params.AmountCents == nil) == (len(params.BoughtItemIDs) == 0) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "provide exactly one of amount_cents or bought_item_ids")
	}
	if params.AmountCents != nil && *params.AmountCents < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must not be negative")
	}

	// Validate and size the refund before any money moves. The in-transaction
	// re-check below closes the race for manual methods; for gateway methods
	// the gateway's own idempotency on the charge is the last line.
	var plan *refundPlan
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		plan, err = s.planRefund(ctx, tx, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, nil
	}

	result := &gateway.RefundResult{}
	switch plan.original.Method {
	case enums.PaymentMethodStripe:
		gw, err := s.stripeFor(event)
		if err != nil {
			return nil, err
		}
		result, err = gw.Refund(ctx, pkgstripe.RefundParams{
			ChargeID:                  plan.original.RemoteID,
			AmountCents:               plan.amountCents,
			ApplicationFeeRefundCents: plan.applicationFeeCents,
			ProcessingFeeRefundCents:  plan.processingFeeCents,
		})
		if err != nil {
			return nil, err
		}

	case enums.PaymentMethodDwolla:
		if s.dwolla == nil {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "dwolla is not configured")
		}
		result, err = s.dwolla.Refund(ctx, dwolla.RefundParams{
			AccessToken:               event.DwollaAccessToken,
			Pin:                       params.DwollaPin,
			TransactionID:             plan.original.RemoteID,
			AmountCents:               plan.amountCents,
			ApplicationFeeRefundCents: plan.applicationFeeCents,
		})
		if err != nil {
			return nil, err
		}
	}

	var refund *models.Transaction
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		original, err := loadPurchase(ctx, tx, params.TransactionID, true)
		if err != nil {
			return err
		}
		refundable, err := refundableAmount(ctx, tx, original)
		if err != nil {
			return err
		}
		if plan.amountCents > refundable {
			return pkgerrors.New(pkgerrors.CodeRefundExceeds, "refund exceeds the remaining refundable amount").
				WithDetails(map[string]int{"refundable_cents": refundable})
		}

		refund = &models.Transaction{
			OrderID:              original.OrderID,
			EventID:              original.EventID,
			TransactionType:      enums.TransactionTypeRefund,
			AmountCents:          -plan.amountCents,
			Method:               original.Method,
			IsConfirmed:          true,
			RemoteID:             result.RemoteID,
			ApplicationFeeCents:  -plan.applicationFeeCents,
			ProcessingFeeCents:   -plan.processingFeeCents,
			RelatedTransactionID: &original.ID,
		}
		if err := tx.WithContext(ctx).Create(refund).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording refund")
		}

		if len(plan.itemIDs) > 0 {
			// The conditional update is the re-check: a unit another refund
			// already flipped no longer matches, so a concurrent item-driven
			// refund cannot reverse the same unit twice.
			res := tx.WithContext(ctx).
				Model(&models.BoughtItem{}).
				Where("id IN ?", plan.itemIDs).
				Where("status = ?", enums.BoughtItemStatusBought).
				Update("status", enums.BoughtItemStatusRefunded)
			if res.Error != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "marking units refunded")
			}
			if res.RowsAffected != int64(len(plan.itemIDs)) {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "bought item is no longer refundable")
			}
			if err := cart.LinkTransactionItems(ctx, tx, refund.ID, plan.itemIDs); err != nil {
				return err
			}
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderRefunded,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   refund.ID,
			Data: payloads.OrderRefundedEvent{
				OrderID:              refund.OrderID,
				EventID:              refund.EventID,
				TransactionID:        refund.ID,
				RelatedTransactionID: original.ID,
				AmountCents:          refund.AmountCents,
				Method:               refund.Method.String(),
			},
			Version: 1,
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncRefund(refund.Method.String())
	return refund, nil
}

// refundPlan is the fully-sized refund before any money moves.
type refundPlan struct {
	original            *models.Transaction
	amountCents         int
	applicationFeeCents int
	processingFeeCents  int
	itemIDs             []uuid.UUID
}

func (s *service) planRefund(ctx context.Context, tx *gorm.DB, params RefundParams) (*refundPlan, error) {
	original, err := loadPurchase(ctx, tx, params.TransactionID, false)
	if err != nil {
		return nil, err
	}
	refundable, err := refundableAmount(ctx, tx, original)
	if err != nil {
		return nil, err
	}

	plan := &refundPlan{original: original}
	if params.AmountCents != nil {
		plan.amountCents = *params.AmountCents
	} else {
		items, err := linkedItems(ctx, tx, original, params.BoughtItemIDs)
		if err != nil {
			return nil, err
		}
		for i := range items {
			plan.amountCents += effectivePriceCents(&items[i])
			plan.itemIDs = append(plan.itemIDs, items[i].ID)
		}
	}

	if plan.amountCents == 0 {
		return nil, nil
	}
	if plan.amountCents > refundable {
		return nil, pkgerrors.New(pkgerrors.CodeRefundExceeds, "refund exceeds the remaining refundable amount").
			WithDetails(map[string]int{"refundable_cents": refundable})
	}

	plan.applicationFeeCents = fees.ProportionalShare(original.ApplicationFeeCents, plan.amountCents, original.AmountCents)
	plan.processingFeeCents = fees.ProportionalShare(original.ProcessingFeeCents, plan.amountCents, original.AmountCents)
	if plan.amountCents == refundable {
		// The closing refund takes whatever cents rounding left behind so the
		// fee reversals sum exactly to the original fees.
		refundedAppFee, refundedProcFee, err := refundedFees(ctx, tx, original.ID)
		if err != nil {
			return nil, err
		}
		plan.applicationFeeCents = original.ApplicationFeeCents - refundedAppFee
		plan.processingFeeCents = original.ProcessingFeeCents - refundedProcFee
	}

	return plan, nil
}

// loadPurchase fetches the purchase row a refund reverses. Refund rows are not
// refundable themselves.
func loadPurchase(ctx context.Context, tx *gorm.DB, transactionID uuid.UUID, forUpdate bool) (*models.Transaction, error) {
	query := tx.WithContext(ctx)
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var original models.Transaction
	err := query.First(&original, "id = ?", transactionID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading transaction")
	}
	if original.TransactionType != enums.TransactionTypePurchase {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only purchase transactions can be refunded")
	}
	if !original.IsConfirmed {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "transaction is not confirmed yet")
	}
	return &original, nil
}

func refundableAmount(ctx context.Context, tx *gorm.DB, original *models.Transaction) (int, error) {
	refunded, err := sumRefunds(ctx, tx, original.ID, "amount_cents")
	if err != nil {
		return 0, err
	}
	// Refund rows carry negative amounts.
	return original.AmountCents + refunded, nil
}

func refundedFees(ctx context.Context, tx *gorm.DB, originalID uuid.UUID) (int, int, error) {
	appFee, err := sumRefunds(ctx, tx, originalID, "application_fee_cents")
	if err != nil {
		return 0, 0, err
	}
	procFee, err := sumRefunds(ctx, tx, originalID, "processing_fee_cents")
	if err != nil {
		return 0, 0, err
	}
	return -appFee, -procFee, nil
}

func sumRefunds(ctx context.Context, tx *gorm.DB, originalID uuid.UUID, column string) (int, error) {
	var total struct{ Total int64 }
	err := tx.WithContext(ctx).
		Model(&models.Transaction{}).
		Select("COALESCE(SUM("+column+"), 0) AS total").
		Where("related_transaction_id = ?", originalID).
		Where("transaction_type = ?", enums.TransactionTypeRefund).
		Scan(&total).Error
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "summing refunds")
	}
	return int(total.Total), nil
}

// linkedItems loads the requested units and insists every one of them is a
// bought unit covered by the original transaction.
func linkedItems(ctx context.Context, tx *gorm.DB, original *models.Transaction, itemIDs []uuid.UUID) ([]models.BoughtItem, error) {
	var covered []uuid.UUID
	err := tx.WithContext(ctx).
		Table("transaction_bought_items").
		Where("transaction_id = ?", original.ID).
		Pluck("bought_item_id", &covered).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading covered units")
	}
	coveredSet := make(map[uuid.UUID]bool, len(covered))
	for _, id := range covered {
		coveredSet[id] = true
	}

	var items []models.BoughtItem
	err = tx.WithContext(ctx).
		Preload("Discounts").
		Where("id IN ?", itemIDs).
		Find(&items).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading units")
	}
	if len(items) != len(itemIDs) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown bought item in refund request")
	}
	for i := range items {
		if !coveredSet[items[i].ID] {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "bought item was not paid by this transaction")
		}
		if items[i].Status != enums.BoughtItemStatusBought {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "bought item is not in a refundable status")
		}
	}
	return items, nil
}

// effectivePriceCents is what the buyer actually paid for the unit: the
// snapshot price less capped discount savings.
func effectivePriceCents(item *models.BoughtItem) int {
	price := item.Snapshot.PriceCents
	savings := 0
	for i := range item.Discounts {
		savings += item.Discounts[i].SavingsCents(price)
	}
	if savings > price {
		savings = price
	}
	return price - savings
}
