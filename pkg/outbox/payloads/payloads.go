// Package payloads defines the versioned event bodies written to the outbox.
package payloads

import "github.com/google/uuid"

// OrderPaidEvent announces a confirmed or pending purchase transaction.
type OrderPaidEvent struct {
	OrderID       uuid.UUID   `json:"order_id"`
	EventID       uuid.UUID   `json:"event_id"`
	TransactionID uuid.UUID   `json:"transaction_id"`
	AmountCents   int         `json:"amount_cents"`
	Method        string      `json:"method"`
	BoughtItemIDs []uuid.UUID `json:"bought_item_ids"`
}

// OrderRefundedEvent announces a refund transaction hitting the ledger.
type OrderRefundedEvent struct {
	OrderID              uuid.UUID `json:"order_id"`
	EventID              uuid.UUID `json:"event_id"`
	TransactionID        uuid.UUID `json:"transaction_id"`
	RelatedTransactionID uuid.UUID `json:"related_transaction_id"`
	AmountCents          int       `json:"amount_cents"`
	Method               string    `json:"method"`
}

// CartExpiredEvent announces that a sweep released an order's reservations.
type CartExpiredEvent struct {
	OrderID       uuid.UUID `json:"order_id"`
	EventID       uuid.UUID `json:"event_id"`
	ReleasedUnits int       `json:"released_units"`
}

// ItemsTransferredEvent announces a unit moving between orders.
type ItemsTransferredEvent struct {
	FromOrderID  uuid.UUID `json:"from_order_id"`
	ToOrderID    uuid.UUID `json:"to_order_id"`
	EventID      uuid.UUID `json:"event_id"`
	BoughtItemID uuid.UUID `json:"bought_item_id"`
}
