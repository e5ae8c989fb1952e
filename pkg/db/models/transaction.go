package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/littleweaver/brambling/pkg/enums"
)

// Transaction is one append-only ledger row. Refund amounts are negative and
// point at the purchase they reverse through RelatedTransactionID. The
// bought_items association records which units the money covered.
type Transaction struct {
	ID                   uuid.UUID             `gorm:"type:uuid;primaryKey"`
	OrderID              uuid.UUID             `gorm:"column:order_id;type:uuid;not null;index"`
	EventID              uuid.UUID             `gorm:"column:event_id;type:uuid;not null;index"`
	TransactionType      enums.TransactionType `gorm:"column:transaction_type;not null"`
	AmountCents          int                   `gorm:"column:amount_cents;not null"`
	Method               enums.PaymentMethod   `gorm:"column:method;not null"`
	IsConfirmed          bool                  `gorm:"column:is_confirmed;not null;default:false"`
	RemoteID             string                `gorm:"column:remote_id;index"`
	ApplicationFeeCents  int                   `gorm:"column:application_fee_cents;not null;default:0"`
	ProcessingFeeCents   int                   `gorm:"column:processing_fee_cents;not null;default:0"`
	RelatedTransactionID *uuid.UUID            `gorm:"column:related_transaction_id;type:uuid;index"`

	BoughtItems []BoughtItem `gorm:"many2many:transaction_bought_items"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
