package models

import (
	"time"

	"github.com/google/uuid"
)

// Item is a sellable product within an event (a pass, a shirt, ...).
type Item struct {
	ID          uuid.UUID    `gorm:"type:uuid;primaryKey"`
	EventID     uuid.UUID    `gorm:"column:event_id;type:uuid;not null;index"`
	Name        string       `gorm:"column:name;not null"`
	Description string       `gorm:"column:description"`
	Options     []ItemOption `gorm:"foreignKey:ItemID"`
	CreatedAt   time.Time    `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time    `gorm:"column:updated_at;autoUpdateTime"`
}

// ItemOption is one purchasable variant of an Item with its own price and
// capacity. TotalNumber nil means unlimited. Remaining capacity is always
// derived from active bought items, never decremented in place.
type ItemOption struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey"`
	ItemID         uuid.UUID  `gorm:"column:item_id;type:uuid;not null;index"`
	Name           string     `gorm:"column:name;not null"`
	PriceCents     int        `gorm:"column:price_cents;not null"`
	TotalNumber    *int       `gorm:"column:total_number"`
	AvailableStart *time.Time `gorm:"column:available_start"`
	AvailableEnd   *time.Time `gorm:"column:available_end"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// AvailableAt reports whether the purchase window is open at the given time.
func (o *ItemOption) AvailableAt(at time.Time) bool {
	if o == nil {
		return false
	}
	if o.AvailableStart != nil && at.Before(*o.AvailableStart) {
		return false
	}
	if o.AvailableEnd != nil && at.After(*o.AvailableEnd) {
		return false
	}
	return true
}
