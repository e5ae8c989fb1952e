package discounts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/littleweaver/brambling/pkg/db"
	"github.com/littleweaver/brambling/pkg/db/models"
	"github.com/littleweaver/brambling/pkg/enums"
	pkgerrors "github.com/littleweaver/brambling/pkg/errors"
)

// Distinct rejection reasons surfaced in DISCOUNT_INVALID error details so a
// buyer-facing form can tell a typo apart from an expired code.
const (
	ReasonNotFound    = "not_found"
	ReasonOutOfWindow = "out_of_window"
	ReasonAlreadyUsed = "already_used"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ApplyOptions tweaks organizer-driven applications. Force re-applies a code
// the order already redeemed; IgnoreWindow skips the availability window.
// They are independent switches, never implied by one another.
type ApplyOptions struct {
	Force        bool
	IgnoreWindow bool
}

// Service applies discount codes to orders.
type Service interface {
	AddDiscountByCode(ctx context.Context, event *models.Event, order *models.Order, code string, opts ApplyOptions) error
}

type service struct {
	tx   txRunner
	repo *Repository
	now  func() time.Time
}

// NewService builds the discounts service.
func NewService(tx txRunner, repo *Repository) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("discounts repository required")
	}
	return &service{tx: tx, repo: repo, now: time.Now}, nil
}

func invalid(reason, message string) error {
	return pkgerrors.New(pkgerrors.CodeDiscountInvalid, message).
		WithDetails(map[string]string{"reason": reason})
}

func (s *service) AddDiscountByCode(ctx context.Context, event *models.Event, order *models.Order, code string, opts ApplyOptions) error {
	if event == nil || order == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "event and order required")
	}
	if code == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "discount code required")
	}

	discount, err := s.repo.FindByEventAndCode(ctx, event.ID, code)
	if err != nil {
		return err
	}
	if discount == nil {
		return invalid(ReasonNotFound, "unknown discount code")
	}
	if !opts.IgnoreWindow && !discount.AvailableAt(s.now()) {
		return invalid(ReasonOutOfWindow, "discount code is not currently available")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		redeemed, err := repo.OrderDiscountExists(ctx, order.ID, discount.ID)
		if err != nil {
			return err
		}
		switch {
		case !redeemed:
			if err := repo.CreateOrderDiscount(ctx, order.ID, discount.ID); err != nil {
				if dbpkg.IsUniqueViolation(err, "") {
					return invalid(ReasonAlreadyUsed, "discount code already applied to this order")
				}
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording discount redemption")
			}
		case !opts.Force:
			return invalid(ReasonAlreadyUsed, "discount code already applied to this order")
			// Force falls through and re-snapshots onto any cart items the
			// first pass missed.
		}

		return ApplyToCartItems(ctx, tx, discount, order.ID)
	})
}

// ApplyToCartItems snapshots the discount's terms onto every in-cart bought
// item within the discount's option scope. Items already carrying this
// discount are skipped, so the call is idempotent.
func ApplyToCartItems(ctx context.Context, tx *gorm.DB, discount *models.Discount, orderID uuid.UUID) error {
	scope, err := NewRepository(tx).OptionScope(ctx, discount.ID)
	if err != nil {
		return err
	}
	if len(scope) == 0 {
		return nil
	}

	var items []models.BoughtItem
	err = tx.WithContext(ctx).
		Where("order_id = ?", orderID).
		Where("status IN ?", enums.CartStatuses()).
		Where("item_option_id IN ?", scope).
		Find(&items).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading cart items for discount")
	}

	for i := range items {
		if err := ApplyToBoughtItem(ctx, tx, discount, &items[i]); err != nil {
			return err
		}
	}
	return nil
}

// ApplyToBoughtItem snapshots the discount onto one bought item if the item's
// option is in scope. A duplicate snapshot is a silent no-op.
func ApplyToBoughtItem(ctx context.Context, tx *gorm.DB, discount *models.Discount, item *models.BoughtItem) error {
	if item.ItemOptionID == nil {
		return nil
	}

	var inScope int64
	err := tx.WithContext(ctx).
		Table("discount_item_options").
		Where("discount_id = ? AND item_option_id = ?", discount.ID, *item.ItemOptionID).
		Count(&inScope).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "checking discount scope")
	}
	if inScope == 0 {
		return nil
	}

	var existing int64
	err = tx.WithContext(ctx).
		Model(&models.BoughtItemDiscount{}).
		Where("bought_item_id = ? AND discount_id = ?", item.ID, discount.ID).
		Count(&existing).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "checking discount snapshot")
	}
	if existing > 0 {
		return nil
	}

	snapshot := models.BoughtItemDiscount{
		BoughtItemID: item.ID,
		DiscountID:   discount.ID,
		Name:         discount.Name,
		Code:         discount.Code,
		DiscountType: discount.DiscountType,
		Amount:       discount.Amount,
	}
	if err := tx.WithContext(ctx).Create(&snapshot).Error; err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "snapshotting discount")
	}
	return nil
}
