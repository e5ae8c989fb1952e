package enums

// OutboxEventType names the domain events emitted through the outbox.
type OutboxEventType string

const (
	EventOrderPaid     OutboxEventType = "order.paid"
	EventOrderRefunded OutboxEventType = "order.refunded"
	EventCartExpired   OutboxEventType = "cart.expired"
	EventItemsTransfer OutboxEventType = "order.items_transferred"
)

// IsValid reports whether the value is known.
func (t OutboxEventType) IsValid() bool {
	switch t {
	case EventOrderPaid, EventOrderRefunded, EventCartExpired, EventItemsTransfer:
		return true
	}
	return false
}

// OutboxAggregateType names the aggregate an outbox event refers to.
type OutboxAggregateType string

const (
	AggregateOrder       OutboxAggregateType = "order"
	AggregateTransaction OutboxAggregateType = "transaction"
)
