// Package payments turns cart balances into ledger rows. Gateway calls always
// happen before the database transaction opens; a gateway success followed by
// a DB failure is recoverable from the gateway's records, the reverse is not.
package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/littleweaver/brambling/internal/cart"
	"github.com/littleweaver/brambling/internal/orders"
	"github.com/littleweaver/brambling/pkg/db/models"
	"github.com/littleweaver/brambling/pkg/dwolla"
	"github.com/littleweaver/brambling/pkg/enums"
	pkgerrors "github.com/littleweaver/brambling/pkg/errors"
	"github.com/littleweaver/brambling/pkg/fees"
	"github.com/littleweaver/brambling/pkg/gateway"
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

// StripeGateway is the slice of the Stripe client charges use.
type StripeGateway interface {
	Charge(ctx context.Context, params pkgstripe.ChargeParams) (*gateway.ChargeResult, error)
}

// StripeFactory builds a gateway client from the event's own credentials.
type StripeFactory func(event *models.Event) (StripeGateway, error)

// DwollaGateway is the slice of the Dwolla client charges use.
type DwollaGateway interface {
	Charge(ctx context.Context, params dwolla.ChargeParams) (*gateway.ChargeResult, error)
}

// DefaultStripeFactory wires the real per-event Stripe client.
func DefaultStripeFactory(event *models.Event) (StripeGateway, error) {
	return pkgstripe.ForEvent(event)
}

// ChargeOrderParams carries the buyer-provided payment credentials.
type ChargeOrderParams struct {
	Method         enums.PaymentMethod
	Token          string
	DwollaPin      string
	DwollaSourceID string
}

// ManualPaymentParams records money that moved outside any gateway.
type ManualPaymentParams struct {
	Method      enums.PaymentMethod
	AmountCents *int
}

// Service records payments against orders.
type Service interface {
	ChargeOrder(ctx context.Context, event *models.Event, order *models.Order, params ChargeOrderParams) (*models.Transaction, error)
	RecordManualPayment(ctx context.Context, event *models.Event, order *models.Order, params ManualPaymentParams) (*models.Transaction, error)
	ConfirmTransaction(ctx context.Context, transactionID uuid.UUID) (*models.Transaction, error)
}

type service struct {
	tx        txRunner
	outbox    outboxPublisher
	stripeFor StripeFactory
	dwolla    DwollaGateway
	now       func() time.Time
}

// NewService builds the payments service.
func NewService(tx txRunner, publisher outboxPublisher, stripeFor StripeFactory, dwollaGW DwollaGateway) (Service, error) {
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
		now:       time.Now,
	}, nil
}

func (s *service) ChargeOrder(ctx context.Context, event *models.Event, order *models.Order, params ChargeOrderParams) (*models.Transaction, error) {
	if event == nil || order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event and order required")
	}
	if !params.Method.RequiresGateway() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "method does not settle through a gateway")
	}

	amount, err := s.balanceDue(ctx, event, order)
	if err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order has no balance to charge")
	}

	appFee, err := fees.ApplicationFee(event.ApplicationFeePercent, amount)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "computing application fee")
	}

	var result *gateway.ChargeResult
	confirmed := false
	switch params.Method {
	case enums.PaymentMethodStripe:
		gw, err := s.stripeFor(event)
		if err != nil {
			return nil, err
		}
		result, err = gw.Charge(ctx, pkgstripe.ChargeParams{
			Token:               params.Token,
			AmountCents:         amount,
			ApplicationFeeCents: appFee,
			Description:         event.Name,
			OrderCode:           order.Code,
		})
		if err != nil {
			return nil, err
		}
		confirmed = true

	case enums.PaymentMethodDwolla:
		if s.dwolla == nil {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "dwolla is not configured")
		}
		if event.DwollaUserID == "" {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "dwolla is not enabled for this event")
		}
		result, err = s.dwolla.Charge(ctx, dwolla.ChargeParams{
			AccessToken:         params.Token,
			Pin:                 params.DwollaPin,
			SourceID:            params.DwollaSourceID,
			DestinationID:       event.DwollaUserID,
			AmountCents:         amount,
			ApplicationFeeCents: appFee,
			Notes:               event.Name,
		})
		if err != nil {
			return nil, err
		}
		// Dwolla settles asynchronously; the webhook confirms it.
	}

	txn := &models.Transaction{
		OrderID:             order.ID,
		EventID:             event.ID,
		TransactionType:     enums.TransactionTypePurchase,
		AmountCents:         amount,
		Method:              params.Method,
		IsConfirmed:         confirmed,
		RemoteID:            result.RemoteID,
		ApplicationFeeCents: result.ApplicationFeeCents,
		ProcessingFeeCents:  result.ProcessingFeeCents,
	}
	if err := s.settleCart(ctx, order, txn); err != nil {
		return nil, err
	}
	return txn, nil
}

func (s *service) RecordManualPayment(ctx context.Context, event *models.Event, order *models.Order, params ManualPaymentParams) (*models.Transaction, error) {
	if event == nil || order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event and order required")
	}
	switch params.Method {
	case enums.PaymentMethodCash, enums.PaymentMethodCheck, enums.PaymentMethodFake:
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "method is not a manual payment method")
	}
	if params.Method == enums.PaymentMethodCheck && event.CheckPostmarkCutoff != nil && s.now().After(*event.CheckPostmarkCutoff) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "check payments are past the postmark cutoff")
	}

	amount := 0
	if params.AmountCents != nil {
		amount = *params.AmountCents
	} else {
		balance, err := s.balanceDue(ctx, event, order)
		if err != nil {
			return nil, err
		}
		amount = balance
	}
	if amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order has no balance to record")
	}

	txn := &models.Transaction{
		OrderID:         order.ID,
		EventID:         event.ID,
		TransactionType: enums.TransactionTypePurchase,
		AmountCents:     amount,
		Method:          params.Method,
		// Checks stay unconfirmed until the paper arrives.
		IsConfirmed: params.Method != enums.PaymentMethodCheck,
	}
	if err := s.settleCart(ctx, order, txn); err != nil {
		return nil, err
	}
	return txn, nil
}

func (s *service) ConfirmTransaction(ctx context.Context, transactionID uuid.UUID) (*models.Transaction, error) {
	if transactionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id required")
	}
	var txn models.Transaction
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		err := tx.WithContext(ctx).First(&txn, "id = ?", transactionID).Error
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading transaction")
		}
		if txn.IsConfirmed {
			return nil
		}
		err = tx.WithContext(ctx).
			Model(&models.Transaction{}).
			Where("id = ?", txn.ID).
			Update("is_confirmed", true).Error
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "confirming transaction")
		}
		txn.IsConfirmed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// settleCart writes the ledger row, promotes the cart and announces the
// payment, all in one transaction.
func (s *service) settleCart(ctx context.Context, order *models.Order, txn *models.Transaction) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).Create(txn).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording transaction")
		}
		items, err := cart.MarkPaid(ctx, tx, order, txn)
		if err != nil {
			return err
		}
		itemIDs := make([]uuid.UUID, len(items))
		for i := range items {
			itemIDs[i] = items[i].ID
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.OrderPaidEvent{
				OrderID:       order.ID,
				EventID:       txn.EventID,
				TransactionID: txn.ID,
				AmountCents:   txn.AmountCents,
				Method:        txn.Method.String(),
				BoughtItemIDs: itemIDs,
			},
			Version: 1,
		})
	})
}

// balanceDue sweeps the event's lapsed reservations and then computes the
// order's outstanding balance, in one transaction. Sweeping first means an
// expired cart reads as a zero balance here instead of getting settled.
func (s *service) balanceDue(ctx context.Context, event *models.Event, order *models.Order) (int, error) {
	balance := 0
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		expired, err := cart.SweepExpired(ctx, tx, event, s.now())
		if err != nil {
			return err
		}
		for _, exp := range expired {
			err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventCartExpired,
				AggregateType: enums.AggregateOrder,
				AggregateID:   exp.OrderID,
				Data: payloads.CartExpiredEvent{
					OrderID:       exp.OrderID,
					EventID:       event.ID,
					ReleasedUnits: exp.ReleasedUnits,
				},
				Version: 1,
			})
			if err != nil {
				return err
			}
		}

		summary, err := orders.ComputeSummary(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		balance = summary.NetBalanceCents
		return nil
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}
