package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/littleweaver/brambling/pkg/db/models"
	"github.com/littleweaver/brambling/pkg/enums"
)

func TestRemainingCountsOnlyActiveStatuses(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()

	event, option := seedEventWithOption(t, db, 5)
	order := seedOrder(t, db, event.ID)

	for _, status := range []enums.BoughtItemStatus{
		enums.BoughtItemStatusReserved,
		enums.BoughtItemStatusUnpaid,
		enums.BoughtItemStatusBought,
		enums.BoughtItemStatusRefunded,
		enums.BoughtItemStatusTransferred,
	} {
		seedBoughtItem(t, db, order.ID, option.ID, status)
	}

	remaining, err := Remaining(ctx, db, option)
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if remaining == nil {
		t.Fatal("expected capped option to report a count")
	}
	// 5 total, 3 active (reserved/unpaid/bought); refunded and transferred
	// have released their units.
	if *remaining != 2 {
		t.Fatalf("expected 2 remaining, got %d", *remaining)
	}
}

func TestRemainingUncappedOption(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()

	event, _ := seedEventWithOption(t, db, 1)
	uncapped := &models.ItemOption{ID: uuid.New(), ItemID: uuid.New(), Name: "Uncapped", PriceCents: 1000}
	if err := db.Create(uncapped).Error; err != nil {
		t.Fatalf("seed option: %v", err)
	}
	order := seedOrder(t, db, event.ID)
	seedBoughtItem(t, db, order.ID, uncapped.ID, enums.BoughtItemStatusBought)

	remaining, err := Remaining(ctx, db, uncapped)
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if remaining != nil {
		t.Fatalf("expected nil for uncapped option, got %d", *remaining)
	}
}

func TestRemainingNeverNegative(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()

	event, option := seedEventWithOption(t, db, 1)
	order := seedOrder(t, db, event.ID)
	seedBoughtItem(t, db, order.ID, option.ID, enums.BoughtItemStatusBought)
	seedBoughtItem(t, db, order.ID, option.ID, enums.BoughtItemStatusBought)

	remaining, err := Remaining(ctx, db, option)
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if remaining == nil || *remaining != 0 {
		t.Fatalf("expected clamped zero, got %v", remaining)
	}
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:inventory_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	tables := []any{
		&models.Event{},
		&models.Item{},
		&models.ItemOption{},
		&models.Order{},
		&models.BoughtItem{},
	}
	if err := db.AutoMigrate(tables...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedEventWithOption(t *testing.T, db *gorm.DB, total int) (*models.Event, *models.ItemOption) {
	t.Helper()
	event := &models.Event{ID: uuid.New(), Name: "Test Event", Slug: "test-" + uuid.NewString()}
	if err := db.Create(event).Error; err != nil {
		t.Fatalf("seed event: %v", err)
	}
	item := &models.Item{ID: uuid.New(), EventID: event.ID, Name: "Pass"}
	if err := db.Create(item).Error; err != nil {
		t.Fatalf("seed item: %v", err)
	}
	option := &models.ItemOption{ID: uuid.New(), ItemID: item.ID, Name: "Full", PriceCents: 5000, TotalNumber: &total}
	if err := db.Create(option).Error; err != nil {
		t.Fatalf("seed option: %v", err)
	}
	return event, option
}

func seedOrder(t *testing.T, db *gorm.DB, eventID uuid.UUID) *models.Order {
	t.Helper()
	order := &models.Order{ID: uuid.New(), EventID: eventID, Code: uuid.NewString()[:8]}
	if err := db.Create(order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order
}

func seedBoughtItem(t *testing.T, db *gorm.DB, orderID, optionID uuid.UUID, status enums.BoughtItemStatus) *models.BoughtItem {
	t.Helper()
	item := &models.BoughtItem{
		ID:           uuid.New(),
		OrderID:      orderID,
		ItemOptionID: &optionID,
		Status:       status,
		Snapshot: models.PurchaseSnapshot{
			ItemName:       "Pass",
			ItemOptionName: "Full",
			PriceCents:     5000,
		},
		Added: time.Now(),
	}
	if err := db.Create(item).Error; err != nil {
		t.Fatalf("seed bought item: %v", err)
	}
	return item
}
