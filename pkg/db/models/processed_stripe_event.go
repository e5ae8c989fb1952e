package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/littleweaver/brambling/pkg/enums"
)

// ProcessedStripeEvent marks a Stripe webhook event as applied to the ledger.
// The (stripe_event_id, api_type) unique index is the at-most-once guarantee;
// any in-memory or Redis pre-check is advisory only.
type ProcessedStripeEvent struct {
	ID            uuid.UUID           `gorm:"type:uuid;primaryKey"`
	StripeEventID string              `gorm:"column:stripe_event_id;not null;uniqueIndex:ux_processed_stripe_events"`
	APIType       enums.StripeAPIType `gorm:"column:api_type;not null;uniqueIndex:ux_processed_stripe_events"`
	CreatedAt     time.Time           `gorm:"column:created_at;autoCreateTime"`
}
