package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/littleweaver/brambling/internal/discounts"
	"github.com/littleweaver/brambling/internal/inventory"
	"github.com/littleweaver/brambling/pkg/db/models"
	"github.com/littleweaver/brambling/pkg/enums"
	pkgerrors "github.com/littleweaver/brambling/pkg/errors"
	"github.com/littleweaver/brambling/pkg/metrics"
	"github.com/littleweaver/brambling/pkg/outbox"
	"github.com/littleweaver/brambling/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service owns cart mutations. Every mutating call sweeps the event's lapsed
// reservations first, so capacity is correct even if the background sweeper
// is behind.
type Service interface {
	AddToCart(ctx context.Context, event *models.Event, order *models.Order, itemOptionID uuid.UUID) (*models.BoughtItem, error)
	RemoveFromCart(ctx context.Context, event *models.Event, order *models.Order, boughtItemID uuid.UUID) error
	SweepEvent(ctx context.Context, event *models.Event) (int, error)
}

type service struct {
	tx      txRunner
	repo    *discounts.Repository
	outbox  outboxPublisher
	metrics *metrics.LedgerMetrics
	now     func() time.Time
}

// NewService builds the cart service.
func NewService(tx txRunner, discountRepo *discounts.Repository, publisher outboxPublisher, m *metrics.LedgerMetrics) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if discountRepo == nil {
		return nil, fmt.Errorf("discounts repository required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{
		tx:      tx,
		repo:    discountRepo,
		outbox:  publisher,
		metrics: m,
		now:     time.Now,
	}, nil
}

func (s *service) AddToCart(ctx context.Context, event *models.Event, order *models.Order, itemOptionID uuid.UUID) (*models.BoughtItem, error) {
	if event == nil || order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event and order required")
	}
	if event.IsFrozen {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "registration is frozen for this event")
	}
	if itemOptionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "item option id required")
	}

	now := s.now()
	var created *models.BoughtItem
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.sweepInTx(ctx, tx, event, now); err != nil {
			return err
		}

		option, err := inventory.LockOption(ctx, tx, itemOptionID)
		if err != nil {
			return err
		}

		var item models.Item
		if err := tx.WithContext(ctx).First(&item, "id = ?", option.ItemID).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading item")
		}
		if item.EventID != event.ID {
			return pkgerrors.New(pkgerrors.CodeValidation, "item option belongs to a different event")
		}
		if !option.AvailableAt(now) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "item option is not currently available")
		}

		remaining, err := inventory.Remaining(ctx, tx, option)
		if err != nil {
			return err
		}
		if remaining != nil && *remaining <= 0 {
			return pkgerrors.New(pkgerrors.CodeSoldOut, "item option is sold out").
				WithDetails(map[string]string{"item_option_id": option.ID.String()})
		}

		unit := models.BoughtItem{
			OrderID:      order.ID,
			ItemOptionID: &option.ID,
			Status:       enums.BoughtItemStatusReserved,
			Snapshot: models.PurchaseSnapshot{
				ItemName:        item.Name,
				ItemDescription: item.Description,
				ItemOptionName:  option.Name,
				PriceCents:      option.PriceCents,
			},
			Added: now,
		}
		if err := tx.WithContext(ctx).Create(&unit).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reserving unit")
		}

		// Codes already redeemed for the order cover later additions too.
		applied, err := s.repo.WithTx(tx).ListOrderDiscounts(ctx, order.ID)
		if err != nil {
			return err
		}
		for i := range applied {
			if err := discounts.ApplyToBoughtItem(ctx, tx, &applied[i], &unit); err != nil {
				return err
			}
		}

		if order.CartStartTime == nil {
			err := tx.WithContext(ctx).
				Model(&models.Order{}).
				Where("id = ?", order.ID).
				Update("cart_start_time", now).Error
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "opening cart window")
			}
			start := now
			order.CartStartTime = &start
		}

		created = &unit
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *service) RemoveFromCart(ctx context.Context, event *models.Event, order *models.Order, boughtItemID uuid.UUID) error {
	if event == nil || order == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "event and order required")
	}
	if boughtItemID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "bought item id required")
	}

	now := s.now()
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.sweepInTx(ctx, tx, event, now); err != nil {
			return err
		}

		var unit models.BoughtItem
		err := tx.WithContext(ctx).
			First(&unit, "id = ? AND order_id = ?", boughtItemID, order.ID).Error
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading cart item")
		}
		if !unit.Status.InCart() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "item is no longer in the cart")
		}

		err = tx.WithContext(ctx).
			Where("bought_item_id = ?", unit.ID).
			Delete(&models.BoughtItemDiscount{}).Error
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "removing discount snapshots")
		}
		if err := tx.WithContext(ctx).Delete(&unit).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "removing cart item")
		}

		left, err := Items(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if len(left) == 0 {
			err := tx.WithContext(ctx).
				Model(&models.Order{}).
				Where("id = ?", order.ID).
				Update("cart_start_time", nil).Error
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "closing cart window")
			}
			order.CartStartTime = nil
		}
		return nil
	})
}

// SweepEvent expires lapsed carts for one event in its own transaction.
// Used by the background sweeper; request paths sweep inline instead.
func (s *service) SweepEvent(ctx context.Context, event *models.Event) (int, error) {
	if event == nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "event required")
	}
	now := s.now()
	released := 0
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		released = 0
		expired, err := SweepExpired(ctx, tx, event, now)
		if err != nil {
			return err
		}
		for _, exp := range expired {
			released += exp.ReleasedUnits
			if err := s.emitExpired(ctx, tx, event.ID, exp); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.metrics.IncCartSweep()
	s.metrics.AddExpiredItems(released)
	return released, nil
}

func (s *service) sweepInTx(ctx context.Context, tx *gorm.DB, event *models.Event, now time.Time) error {
	expired, err := SweepExpired(ctx, tx, event, now)
	if err != nil {
		return err
	}
	released := 0
	for _, exp := range expired {
		released += exp.ReleasedUnits
		if err := s.emitExpired(ctx, tx, event.ID, exp); err != nil {
			return err
		}
	}
	s.metrics.AddExpiredItems(released)
	return nil
}

func (s *service) emitExpired(ctx context.Context, tx *gorm.DB, eventID uuid.UUID, exp ExpiredCart) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventCartExpired,
		AggregateType: enums.AggregateOrder,
		AggregateID:   exp.OrderID,
		Data: payloads.CartExpiredEvent{
			OrderID:       exp.OrderID,
			EventID:       eventID,
			ReleasedUnits: exp.ReleasedUnits,
		},
		Version: 1,
	})
}
