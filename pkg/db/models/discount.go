package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/littleweaver/brambling/pkg/enums"
)

// Discount is a redeemable code scoped to specific item options of an event.
// Amount is cents for flat discounts and a whole percentage for percent
// discounts.
type Discount struct {
	ID             uuid.UUID          `gorm:"type:uuid;primaryKey"`
	EventID        uuid.UUID          `gorm:"column:event_id;type:uuid;not null;uniqueIndex:ux_discounts_event_code"`
	Name           string             `gorm:"column:name;not null"`
	Code           string             `gorm:"column:code;not null;uniqueIndex:ux_discounts_event_code"`
	DiscountType   enums.DiscountType `gorm:"column:discount_type;not null"`
	Amount         int                `gorm:"column:amount;not null"`
	AvailableStart *time.Time         `gorm:"column:available_start"`
	AvailableEnd   *time.Time         `gorm:"column:available_end"`

	ItemOptions []ItemOption `gorm:"many2many:discount_item_options"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// AvailableAt reports whether the redemption window is open at the given
// time. Nil bounds are unbounded.
func (d *Discount) AvailableAt(at time.Time) bool {
	if d == nil {
		return false
	}
	if d.AvailableStart != nil && at.Before(*d.AvailableStart) {
		return false
	}
	if d.AvailableEnd != nil && at.After(*d.AvailableEnd) {
		return false
	}
	return true
}

// OrderDiscount records that a code was redeemed once for an order. The
// unique index is the real concurrency guard against double application.
type OrderDiscount struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	OrderID    uuid.UUID `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_order_discounts"`
	DiscountID uuid.UUID `gorm:"column:discount_id;type:uuid;not null;uniqueIndex:ux_order_discounts"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

// BoughtItemDiscount is the snapshot of a discount's terms at the moment it
// was applied to one bought item. Name, code, type and amount are copied, not
// referenced, so later edits or deletion of the Discount never move
// historical totals.
type BoughtItemDiscount struct {
	ID           uuid.UUID          `gorm:"type:uuid;primaryKey"`
	BoughtItemID uuid.UUID          `gorm:"column:bought_item_id;type:uuid;not null;uniqueIndex:ux_bought_item_discounts"`
	DiscountID   uuid.UUID          `gorm:"column:discount_id;type:uuid;not null;uniqueIndex:ux_bought_item_discounts"`
	Name         string             `gorm:"column:name;not null"`
	Code         string             `gorm:"column:code;not null"`
	DiscountType enums.DiscountType `gorm:"column:discount_type;not null"`
	Amount       int                `gorm:"column:amount;not null"`
	CreatedAt    time.Time          `gorm:"column:created_at;autoCreateTime"`
}

// SavingsCents returns the raw savings this snapshot grants against the given
// item price. Percent amounts round down to whole cents. Callers cap the
// per-item sum at the item price; the snapshot itself stays exact.
func (d *BoughtItemDiscount) SavingsCents(priceCents int) int {
	switch d.DiscountType {
	case enums.DiscountTypeFlat:
		return d.Amount
	case enums.DiscountTypePercent:
		return priceCents * d.Amount / 100
	default:
		return 0
	}
}
