package discounts

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/littleweaver/brambling/pkg/db/models"
	pkgerrors "github.com/littleweaver/brambling/pkg/errors"
)

// Repository manages discount rows and their redemption records.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds the repository to the provided DB handle.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx scopes the repository to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// FindByEventAndCode loads a discount by its per-event code.
func (r *Repository) FindByEventAndCode(ctx context.Context, eventID uuid.UUID, code string) (*models.Discount, error) {
	var discount models.Discount
	err := r.db.WithContext(ctx).
		First(&discount, "event_id = ? AND code = ?", eventID, code).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading discount")
	}
	return &discount, nil
}

// OptionScope returns the item option IDs the discount covers.
func (r *Repository) OptionScope(ctx context.Context, discountID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Table("discount_item_options").
		Where("discount_id = ?", discountID).
		Pluck("item_option_id", &ids).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading discount scope")
	}
	return ids, nil
}

// OrderDiscountExists reports whether the order already redeemed the code.
func (r *Repository) OrderDiscountExists(ctx context.Context, orderID, discountID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.OrderDiscount{}).
		Where("order_id = ? AND discount_id = ?", orderID, discountID).
		Count(&count).Error
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "checking discount redemption")
	}
	return count > 0, nil
}

// CreateOrderDiscount records one redemption of the code for the order. The
// unique index on (order_id, discount_id) is the concurrency guard.
func (r *Repository) CreateOrderDiscount(ctx context.Context, orderID, discountID uuid.UUID) error {
	row := models.OrderDiscount{OrderID: orderID, DiscountID: discountID}
	return r.db.WithContext(ctx).Create(&row).Error
}

// ListOrderDiscounts returns the discounts redeemed for an order.
func (r *Repository) ListOrderDiscounts(ctx context.Context, orderID uuid.UUID) ([]models.Discount, error) {
	var rows []models.Discount
	err := r.db.WithContext(ctx).
		Joins("JOIN order_discounts ON order_discounts.discount_id = discounts.id").
		Where("order_discounts.order_id = ?", orderID).
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing order discounts")
	}
	return rows, nil
}
