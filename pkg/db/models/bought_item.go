package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/littleweaver/brambling/pkg/enums"
)

// PurchaseSnapshot is the immutable copy of item/option reference data taken
// when a unit enters a cart. It keeps historical orders intact when the
// originating Item or ItemOption is later edited or deleted.
type PurchaseSnapshot struct {
	ItemName        string `gorm:"column:item_name;not null"`
	ItemDescription string `gorm:"column:item_description"`
	ItemOptionName  string `gorm:"column:item_option_name;not null"`
	PriceCents      int    `gorm:"column:price_cents;not null"`
}

// BoughtItem is one reserved or purchased unit of an ItemOption within an
// Order. ItemOptionID is nulled if the option is deleted; the embedded
// snapshot carries everything summaries and refunds need.
type BoughtItem struct {
	ID           uuid.UUID              `gorm:"type:uuid;primaryKey"`
	OrderID      uuid.UUID              `gorm:"column:order_id;type:uuid;not null;index"`
	ItemOptionID *uuid.UUID             `gorm:"column:item_option_id;type:uuid;index;constraint:OnDelete:SET NULL"`
	AttendeeID   *uuid.UUID             `gorm:"column:attendee_id;type:uuid"`
	Status       enums.BoughtItemStatus `gorm:"column:status;not null;default:'reserved';index"`
	Snapshot     PurchaseSnapshot       `gorm:"embedded"`
	Added        time.Time              `gorm:"column:added;autoCreateTime"`

	Discounts []BoughtItemDiscount `gorm:"foreignKey:BoughtItemID"`
}
