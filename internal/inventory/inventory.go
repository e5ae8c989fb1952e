// Package inventory derives remaining capacity for item options. Counts are
// always computed from bought item rows; nothing is ever decremented in place,
// so a crashed process can never leak capacity.
package inventory

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/littleweaver/brambling/pkg/db/models"
	"github.com/littleweaver/brambling/pkg/enums"
	pkgerrors "github.com/littleweaver/brambling/pkg/errors"
)

// activeStatuses are the statuses that consume capacity. Refunded and
// transferred units have released their claim.
func activeStatuses() []enums.BoughtItemStatus {
	return []enums.BoughtItemStatus{
		enums.BoughtItemStatusReserved,
		enums.BoughtItemStatusUnpaid,
		enums.BoughtItemStatusBought,
	}
}

// LockOption loads the item option under a row lock so concurrent
// reservations against the same option serialize.
func LockOption(ctx context.Context, tx *gorm.DB, optionID uuid.UUID) (*models.ItemOption, error) {
	var option models.ItemOption
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&option, "id = ?", optionID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "item option not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading item option")
	}
	return &option, nil
}

// CountActive returns how many units of the option currently consume capacity.
func CountActive(ctx context.Context, tx *gorm.DB, optionID uuid.UUID) (int64, error) {
	var count int64
	err := tx.WithContext(ctx).
		Model(&models.BoughtItem{}).
		Where("item_option_id = ?", optionID).
		Where("status IN ?", activeStatuses()).
		Count(&count).Error
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "counting active bought items")
	}
	return count, nil
}

// Remaining reports how many units of the option can still be sold. A nil
// result means the option is uncapped.
func Remaining(ctx context.Context, tx *gorm.DB, option *models.ItemOption) (*int, error) {
	if option == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "item option required")
	}
	if option.TotalNumber == nil {
		return nil, nil
	}
	active, err := CountActive(ctx, tx, option.ID)
	if err != nil {
		return nil, err
	}
	remaining := *option.TotalNumber - int(active)
	if remaining < 0 {
		remaining = 0
	}
	return &remaining, nil
}
