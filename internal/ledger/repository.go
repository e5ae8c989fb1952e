// Package ledger is the read side of the transaction log. Writes only ever
// happen through the payments, refunds, transfers, and webhook services.
package ledger

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/littleweaver/brambling/pkg/db/models"
	pkgerrors "github.com/littleweaver/brambling/pkg/errors"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// ListByOrder returns the order's transactions oldest first, refund and
// transfer rows included.
func (r *Repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Transaction, error) {
	var rows []models.Transaction
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list order transactions")
	}
	return rows, nil
}

// ListByEvent returns every transaction for the event, oldest first. This is
// the organizer's reconciliation view.
func (r *Repository) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.Transaction, error) {
	var rows []models.Transaction
	err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list event transactions")
	}
	return rows, nil
}
