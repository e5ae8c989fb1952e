// Package transfers moves purchased units between orders. A transfer retires
// the giver's unit, clones it onto the recipient and writes a paired set of
// transfer ledger rows so both orders' balances stay settled.
package transfers

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/littleweaver/brambling/internal/cart"
	"github.com/littleweaver/brambling/pkg/db/models"
	"github.com/littleweaver/brambling/pkg/enums"
	pkgerrors "github.com/littleweaver/brambling/pkg/errors"
	"github.com/littleweaver/brambling/pkg/outbox"
	"github.com/littleweaver/brambling/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service moves purchased units between orders.
type Service interface {
	// TransferItem moves one bought unit from its current order onto the
	// recipient order within the same event.
	TransferItem(ctx context.Context, event *models.Event, boughtItemID uuid.UUID, toOrder *models.Order) (*models.BoughtItem, error)
}

type service struct {
	tx     txRunner
	outbox outboxPublisher
}

// NewService builds the transfers service.
func NewService(tx txRunner, publisher outboxPublisher) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{tx: tx, outbox: publisher}, nil
}

func (s *service) TransferItem(ctx context.Context, event *models.Event, boughtItemID uuid.UUID, toOrder *models.Order) (*models.BoughtItem, error) {
	if event == nil || toOrder == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event and recipient order required")
	}
	if boughtItemID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "bought item id required")
	}
	if toOrder.EventID != event.ID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "recipient order belongs to a different event")
	}

	var clone *models.BoughtItem
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var original models.BoughtItem
		err := tx.WithContext(ctx).
			Preload("Discounts").
			First(&original, "id = ?", boughtItemID).Error
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "bought item not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading bought item")
		}
		if original.Status != enums.BoughtItemStatusBought {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "only bought units can be transferred")
		}
		if original.OrderID == toOrder.ID {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "unit already belongs to the recipient order")
		}

		var fromOrder models.Order
		err = tx.WithContext(ctx).First(&fromOrder, "id = ?", original.OrderID).Error
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading giver order")
		}
		if fromOrder.EventID != event.ID {
			return pkgerrors.New(pkgerrors.CodeValidation, "unit belongs to a different event")
		}

		value := effectivePriceCents(&original)

		err = tx.WithContext(ctx).
			Model(&models.BoughtItem{}).
			Where("id = ?", original.ID).
			Update("status", enums.BoughtItemStatusTransferred).Error
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "retiring giver unit")
		}

		clone = &models.BoughtItem{
			OrderID:      toOrder.ID,
			ItemOptionID: original.ItemOptionID,
			Status:       enums.BoughtItemStatusBought,
			Snapshot:     original.Snapshot,
			Added:        original.Added,
		}
		if err := tx.WithContext(ctx).Create(clone).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "cloning unit onto recipient")
		}

		// Discount snapshots ride along; the recipient holds the unit at the
		// price the giver actually paid.
		for i := range original.Discounts {
			snapshot := models.BoughtItemDiscount{
				BoughtItemID: clone.ID,
				DiscountID:   original.Discounts[i].DiscountID,
				Name:         original.Discounts[i].Name,
				Code:         original.Discounts[i].Code,
				DiscountType: original.Discounts[i].DiscountType,
				Amount:       original.Discounts[i].Amount,
			}
			if err := tx.WithContext(ctx).Create(&snapshot).Error; err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "copying discount snapshot")
			}
		}

		// Paired transfer rows keep both ledgers settled: the giver's paid
		// total drops by the unit's value, the recipient's rises by it.
		out := &models.Transaction{
			OrderID:         fromOrder.ID,
			EventID:         event.ID,
			TransactionType: enums.TransactionTypeTransfer,
			AmountCents:     -value,
			Method:          enums.PaymentMethodNone,
			IsConfirmed:     true,
		}
		if err := tx.WithContext(ctx).Create(out).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording giver transfer")
		}
		in := &models.Transaction{
			OrderID:              toOrder.ID,
			EventID:              event.ID,
			TransactionType:      enums.TransactionTypeTransfer,
			AmountCents:          value,
			Method:               enums.PaymentMethodNone,
			IsConfirmed:          true,
			RelatedTransactionID: &out.ID,
		}
		if err := tx.WithContext(ctx).Create(in).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording recipient transfer")
		}

		if err := cart.LinkTransactionItems(ctx, tx, out.ID, []uuid.UUID{original.ID}); err != nil {
			return err
		}
		if err := cart.LinkTransactionItems(ctx, tx, in.ID, []uuid.UUID{clone.ID}); err != nil {
			return err
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventItemsTransfer,
			AggregateType: enums.AggregateOrder,
			AggregateID:   toOrder.ID,
			Data: payloads.ItemsTransferredEvent{
				FromOrderID:  fromOrder.ID,
				ToOrderID:    toOrder.ID,
				EventID:      event.ID,
				BoughtItemID: clone.ID,
			},
			Version: 1,
		})
	})
	if err != nil {
		return nil, err
	}
	return clone, nil
}

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
