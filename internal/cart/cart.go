// Package cart manages time-boxed reservations against event inventory.
// Reservations are bought item rows in an in-cart status; capacity frees
// itself when those rows are deleted, so expiry is just deletion.
package cart

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/littleweaver/brambling/pkg/db/models"
	"github.com/littleweaver/brambling/pkg/enums"
	pkgerrors "github.com/littleweaver/brambling/pkg/errors"
)

// ExpiredCart reports one order whose reservation window lapsed in a sweep.
type ExpiredCart struct {
	OrderID       uuid.UUID
	ReleasedUnits int
}

// Items returns the order's current cart contents.
func Items(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) ([]models.BoughtItem, error) {
	var items []models.BoughtItem
	err := tx.WithContext(ctx).
		Where("order_id = ?", orderID).
		Where("status IN ?", enums.CartStatuses()).
		Order("added ASC").
		Find(&items).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading cart items")
	}
	return items, nil
}

// MarkPaid promotes the order's cart to bought, links the units to the
// transaction and closes the reservation window. Called inside the payment
// transaction.
func MarkPaid(ctx context.Context, tx *gorm.DB, order *models.Order, txn *models.Transaction) ([]models.BoughtItem, error) {
	items, err := Items(ctx, tx, order.ID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "cart is empty")
	}

	ids := make([]uuid.UUID, len(items))
	for i := range items {
		ids[i] = items[i].ID
		items[i].Status = enums.BoughtItemStatusBought
	}

	err = tx.WithContext(ctx).
		Model(&models.BoughtItem{}).
		Where("id IN ?", ids).
		Update("status", enums.BoughtItemStatusBought).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marking cart paid")
	}

	if err := LinkTransactionItems(ctx, tx, txn.ID, ids); err != nil {
		return nil, err
	}

	err = tx.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", order.ID).
		Update("cart_start_time", nil).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "closing cart window")
	}
	order.CartStartTime = nil

	return items, nil
}

// LinkTransactionItems records which units a ledger row covered.
func LinkTransactionItems(ctx context.Context, tx *gorm.DB, transactionID uuid.UUID, boughtItemIDs []uuid.UUID) error {
	for _, itemID := range boughtItemIDs {
		row := map[string]any{
			"transaction_id": transactionID,
			"bought_item_id": itemID,
		}
		if err := tx.WithContext(ctx).Table("transaction_bought_items").Create(row).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "linking transaction items")
		}
	}
	return nil
}

// SweepExpired deletes lapsed reservations for one event and reopens their
// capacity. The deadline is the event's own cart timeout.
func SweepExpired(ctx context.Context, tx *gorm.DB, event *models.Event, now time.Time) ([]ExpiredCart, error) {
	timeout := event.CartTimeout()
	if timeout <= 0 {
		return nil, nil
	}
	deadline := now.Add(-timeout)

	var orders []models.Order
	err := tx.WithContext(ctx).
		Where("event_id = ?", event.ID).
		Where("cart_start_time IS NOT NULL").
		Where("cart_start_time <= ?", deadline).
		Find(&orders).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "finding expired carts")
	}

	expired := make([]ExpiredCart, 0, len(orders))
	for i := range orders {
		released, err := releaseCart(ctx, tx, &orders[i])
		if err != nil {
			return nil, err
		}
		expired = append(expired, ExpiredCart{OrderID: orders[i].ID, ReleasedUnits: released})
	}
	return expired, nil
}

func releaseCart(ctx context.Context, tx *gorm.DB, order *models.Order) (int, error) {
	items, err := Items(ctx, tx, order.ID)
	if err != nil {
		return 0, err
	}

	ids := make([]uuid.UUID, len(items))
	for i := range items {
		ids[i] = items[i].ID
	}

	if len(ids) > 0 {
		// Snapshots go first; sqlite in tests has no cascading deletes.
		err = tx.WithContext(ctx).
			Where("bought_item_id IN ?", ids).
			Delete(&models.BoughtItemDiscount{}).Error
		if err != nil {
			return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "releasing discount snapshots")
		}
		err = tx.WithContext(ctx).
			Where("id IN ?", ids).
			Delete(&models.BoughtItem{}).Error
		if err != nil {
			return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "releasing cart items")
		}
	}

	err = tx.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", order.ID).
		Update("cart_start_time", nil).Error
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "clearing cart window")
	}
	order.CartStartTime = nil

	return len(ids), nil
}
