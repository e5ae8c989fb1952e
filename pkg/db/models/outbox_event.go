package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/littleweaver/brambling/pkg/enums"
)

// OutboxEvent is a queued domain event written in the same transaction as
// the ledger change it describes and published asynchronously.
type OutboxEvent struct {
	ID            uuid.UUID                 `gorm:"type:uuid;primaryKey"`
	EventType     enums.OutboxEventType     `gorm:"column:event_type;not null"`
	AggregateType enums.OutboxAggregateType `gorm:"column:aggregate_type;not null"`
	AggregateID   uuid.UUID                 `gorm:"column:aggregate_id;type:uuid;not null;index"`
	Payload       json.RawMessage           `gorm:"column:payload;type:jsonb;not null"`
	AttemptCount  int                       `gorm:"column:attempt_count;not null;default:0"`
	LastError     *string                   `gorm:"column:last_error"`
	PublishedAt   *time.Time                `gorm:"column:published_at;index"`
	CreatedAt     time.Time                 `gorm:"column:created_at;autoCreateTime;index"`
}
