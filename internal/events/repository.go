package events

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/littleweaver/brambling/pkg/db/models"
	pkgerrors "github.com/littleweaver/brambling/pkg/errors"
)

// Repository reads events. Events are administered out of band; the API only
// ever resolves them.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) FindBySlug(ctx context.Context, slug string) (*models.Event, error) {
	var event models.Event
	err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "event not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find event by slug")
	}
	return &event, nil
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	var event models.Event
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "event not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find event by id")
	}
	return &event, nil
}
