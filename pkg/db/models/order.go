package models

import (
	"time"

	"github.com/google/uuid"
)

// Order is one buyer's registration for one event. PersonID is nil for
// anonymous orders, which are keyed by the session-held Code instead; a
// partial unique index holds each person to one order per event.
// CartStartTime non-nil means the order has an active unpaid reservation.
type Order struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey"`
	EventID          uuid.UUID  `gorm:"column:event_id;type:uuid;not null;uniqueIndex:ux_orders_event_code;uniqueIndex:ux_orders_event_person,where:person_id IS NOT NULL"`
	PersonID         *uuid.UUID `gorm:"column:person_id;type:uuid;index;uniqueIndex:ux_orders_event_person,where:person_id IS NOT NULL"`
	Email            string     `gorm:"column:email"`
	Code             string     `gorm:"column:code;not null;uniqueIndex:ux_orders_event_code"`
	CartStartTime    *time.Time `gorm:"column:cart_start_time"`
	ProvidingHousing bool       `gorm:"column:providing_housing;not null;default:false"`
	SurveyCompleted  bool       `gorm:"column:survey_completed;not null;default:false"`

	BoughtItems []BoughtItem `gorm:"foreignKey:OrderID"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
