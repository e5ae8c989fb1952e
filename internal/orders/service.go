package orders

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	dbpkg "github.com/littleweaver/brambling/pkg/db"
	"github.com/littleweaver/brambling/pkg/db/models"
	"github.com/littleweaver/brambling/pkg/enums"
	pkgerrors "github.com/littleweaver/brambling/pkg/errors"
)

// codeAlphabet omits ambiguous glyphs; codes get read over the phone at the
// door.
const (
	codeAlphabet = "abcdefghijkmnopqrstuvwxyz23456789"
	codeLength   = 8
	codeRetries  = 5
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service resolves and claims orders.
type Service interface {
	// ForRequest finds or lazily creates the caller's order for the event.
	// Signed-in callers are keyed by person, anonymous ones by the
	// session-held code.
	ForRequest(ctx context.Context, event *models.Event, personID *uuid.UUID, sessionCode string) (*models.Order, error)
	// ClaimOrder attaches an anonymous order to a person.
	ClaimOrder(ctx context.Context, event *models.Event, code string, personID uuid.UUID) (*models.Order, error)
	// Summary computes the money view of an order from snapshots and the
	// transaction ledger.
	Summary(ctx context.Context, order *models.Order) (*OrderSummary, error)
}

// OrderSummary is the derived money view of one order.
type OrderSummary struct {
	GrossCents      int `json:"gross_cents"`
	SavingsCents    int `json:"savings_cents"`
	NetCents        int `json:"net_cents"`
	TotalPaidCents  int `json:"total_paid_cents"`
	NetBalanceCents int `json:"net_balance_cents"`
	UnitCount       int `json:"unit_count"`
}

type service struct {
	tx   txRunner
	repo *Repository
}

// NewService builds the orders service.
func NewService(tx txRunner, repo *Repository) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	return &service{tx: tx, repo: repo}, nil
}

func (s *service) ForRequest(ctx context.Context, event *models.Event, personID *uuid.UUID, sessionCode string) (*models.Order, error) {
	if event == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event required")
	}

	if personID != nil {
		order, err := s.repo.FindByEventAndPerson(ctx, event.ID, *personID)
		if err != nil {
			return nil, err
		}
		if order != nil {
			return order, nil
		}
	} else if sessionCode != "" {
		order, err := s.repo.FindByEventAndCode(ctx, event.ID, sessionCode)
		if err != nil {
			return nil, err
		}
		// A session code pointing at someone else's claimed order is stale.
		if order != nil && order.PersonID == nil {
			return order, nil
		}
	}

	return s.create(ctx, event, personID)
}

func (s *service) create(ctx context.Context, event *models.Event, personID *uuid.UUID) (*models.Order, error) {
	var created *models.Order
	for attempt := 0; attempt < codeRetries; attempt++ {
		code, err := randomCode(codeLength)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generating order code")
		}
		order := &models.Order{
			EventID:  event.ID,
			PersonID: personID,
			Code:     code,
		}
		err = s.repo.Create(ctx, order)
		if err == nil {
			created = order
			break
		}
		if !dbpkg.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating order")
		}
	}
	if created == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "could not allocate an order code")
	}
	return created, nil
}

func (s *service) ClaimOrder(ctx context.Context, event *models.Event, code string, personID uuid.UUID) (*models.Order, error) {
	if event == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event required")
	}
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order code required")
	}
	if personID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "person id required")
	}

	var claimed *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByEventAndCode(ctx, event.ID, code)
		if err != nil {
			return err
		}
		if order == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		if order.PersonID != nil {
			if *order.PersonID == personID {
				claimed = order
				return nil
			}
			return pkgerrors.New(pkgerrors.CodeConflict, "order already claimed")
		}

		// A person holds at most one order per event. If the claimant
		// already has one, the anonymous order is merged into it and
		// disappears rather than becoming a duplicate.
		existing, err := repo.FindByEventAndPerson(ctx, event.ID, personID)
		if err != nil {
			return err
		}
		if existing != nil {
			if err := mergeOrders(ctx, tx, order, existing); err != nil {
				return err
			}
			merged, err := repo.FindByEventAndCode(ctx, event.ID, existing.Code)
			if err != nil {
				return err
			}
			claimed = merged
			return nil
		}

		err = tx.WithContext(ctx).
			Model(&models.Order{}).
			Where("id = ?", order.ID).
			Update("person_id", personID).Error
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "claiming order")
		}
		order.PersonID = &personID
		claimed = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// mergeOrders folds the source order into the destination and deletes the
// source row. Units and ledger rows move wholesale; discount redemptions the
// destination already holds are dropped instead of violating the unique index.
func mergeOrders(ctx context.Context, tx *gorm.DB, src, dst *models.Order) error {
	err := tx.WithContext(ctx).
		Model(&models.BoughtItem{}).
		Where("order_id = ?", src.ID).
		Update("order_id", dst.ID).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "moving units")
	}

	err = tx.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("order_id = ?", src.ID).
		Update("order_id", dst.ID).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "moving ledger rows")
	}

	var discountIDs []uuid.UUID
	err = tx.WithContext(ctx).
		Model(&models.OrderDiscount{}).
		Where("order_id = ?", src.ID).
		Pluck("discount_id", &discountIDs).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading redemptions")
	}
	for _, id := range discountIDs {
		redemption := models.OrderDiscount{OrderID: dst.ID, DiscountID: id}
		err = tx.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&redemption).Error
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "moving redemptions")
		}
	}
	err = tx.WithContext(ctx).
		Where("order_id = ?", src.ID).
		Delete(&models.OrderDiscount{}).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "clearing redemptions")
	}

	if dst.CartStartTime == nil && src.CartStartTime != nil {
		err = tx.WithContext(ctx).
			Model(&models.Order{}).
			Where("id = ?", dst.ID).
			Update("cart_start_time", src.CartStartTime).Error
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "carrying the reservation window")
		}
	}

	err = tx.WithContext(ctx).Delete(&models.Order{}, "id = ?", src.ID).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "removing the merged order")
	}
	return nil
}

func (s *service) Summary(ctx context.Context, order *models.Order) (*OrderSummary, error) {
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order required")
	}
	summary := &OrderSummary{}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		computed, err := ComputeSummary(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		*summary = *computed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// ComputeSummary derives an order's totals entirely from bought item
// snapshots and confirmed ledger rows. Per-item savings are capped at the
// item's price so over-stacked discounts can never drive a total negative.
func ComputeSummary(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*OrderSummary, error) {
	var items []models.BoughtItem
	err := tx.WithContext(ctx).
		Preload("Discounts").
		Where("order_id = ?", orderID).
		Where("status IN ?", []enums.BoughtItemStatus{
			enums.BoughtItemStatusReserved,
			enums.BoughtItemStatusUnpaid,
			enums.BoughtItemStatusBought,
		}).
		Find(&items).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order items")
	}

	summary := &OrderSummary{UnitCount: len(items)}
	for i := range items {
		price := items[i].Snapshot.PriceCents
		savings := 0
		for j := range items[i].Discounts {
			savings += items[i].Discounts[j].SavingsCents(price)
		}
		if savings > price {
			savings = price
		}
		summary.GrossCents += price
		summary.SavingsCents += savings
	}
	summary.NetCents = summary.GrossCents - summary.SavingsCents

	var paid sql.NullInt64
	err = tx.WithContext(ctx).
		Model(&models.Transaction{}).
		Select("SUM(amount_cents)").
		Where("order_id = ?", orderID).
		Where("is_confirmed = ?", true).
		Scan(&paid).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "summing payments")
	}
	if paid.Valid {
		summary.TotalPaidCents = int(paid.Int64)
	}
	summary.NetBalanceCents = summary.NetCents - summary.TotalPaidCents

	return summary, nil
}

func randomCode(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(out), nil
}
