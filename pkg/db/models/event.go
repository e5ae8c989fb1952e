package models

import (
	"time"

	"github.com/google/uuid"
)

// Event is one dance event taking registrations. Organizer payment
// credentials live on the row so gateway calls can be made with the event's
// own account rather than a process-global key.
type Event struct {
	ID                  uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Name                string     `gorm:"column:name;not null"`
	Slug                string     `gorm:"column:slug;not null;uniqueIndex"`
	Currency            string     `gorm:"column:currency;not null;default:'usd'"`
	CartTimeoutMinutes  int        `gorm:"column:cart_timeout_minutes;not null;default:15"`
	CheckPostmarkCutoff *time.Time `gorm:"column:check_postmark_cutoff"`
	IsFrozen            bool       `gorm:"column:is_frozen;not null;default:false"`

	// ApplicationFeePercent is the organizer platform fee, e.g. "2.5".
	ApplicationFeePercent string `gorm:"column:application_fee_percent;not null;default:'0'"`

	StripeAccessToken    string `gorm:"column:stripe_access_token"`
	StripePublishableKey string `gorm:"column:stripe_publishable_key"`
	DwollaUserID         string `gorm:"column:dwolla_user_id"`
	DwollaAccessToken    string `gorm:"column:dwolla_access_token"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// CartTimeout returns the reservation window as a duration.
func (e *Event) CartTimeout() time.Duration {
	if e == nil || e.CartTimeoutMinutes <= 0 {
		return 0
	}
	return time.Duration(e.CartTimeoutMinutes) * time.Minute
}
