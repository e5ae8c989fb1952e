package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/littleweaver/brambling/pkg/db/models"
	pkgerrors "github.com/littleweaver/brambling/pkg/errors"
)

// Repository manages order rows.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds the repository to the provided DB handle.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx scopes the repository to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// FindByEventAndCode loads an order by its per-event code. Returns nil when
// no order matches.
func (r *Repository) FindByEventAndCode(ctx context.Context, eventID uuid.UUID, code string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		First(&order, "event_id = ? AND code = ?", eventID, code).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order by code")
	}
	return &order, nil
}

// FindByEventAndPerson loads the person's order for the event, if any.
func (r *Repository) FindByEventAndPerson(ctx context.Context, eventID, personID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		First(&order, "event_id = ? AND person_id = ?", eventID, personID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order by person")
	}
	return &order, nil
}

// Create inserts a new order row.
func (r *Repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

// ListItems returns the order's units with their discount snapshots, oldest
// first.
func (r *Repository) ListItems(ctx context.Context, orderID uuid.UUID) ([]models.BoughtItem, error) {
	var items []models.BoughtItem
	err := r.db.WithContext(ctx).
		Preload("Discounts").
		Where("order_id = ?", orderID).
		Order("added ASC").
		Find(&items).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing order items")
	}
	return items, nil
}

// EventsWithOpenCarts returns events that have at least one open reservation
// window. The background sweeper iterates exactly these.
func (r *Repository) EventsWithOpenCarts(ctx context.Context) ([]models.Event, error) {
	var events []models.Event
	err := r.db.WithContext(ctx).
		Model(&models.Event{}).
		Distinct("events.*").
		Joins("JOIN orders ON orders.event_id = events.id").
		Where("orders.cart_start_time IS NOT NULL").
		Find(&events).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing events with open carts")
	}
	return events, nil
}
