package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/littleweaver/brambling/pkg/db/models"
	"github.com/littleweaver/brambling/pkg/enums"
	pkgerrors "github.com/littleweaver/brambling/pkg/errors"
)

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func newTestService(t *testing.T, db *gorm.DB) Service {
	t.Helper()
	svc, err := NewService(gormTxRunner{db: db}, NewRepository(db))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestForRequestCreatesAndFindsByPerson(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	event := seedEvent(t, db)
	person := uuid.New()

	svc := newTestService(t, db)

	order, err := svc.ForRequest(ctx, event, &person, "")
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	if len(order.Code) != codeLength {
		t.Fatalf("unexpected code %q", order.Code)
	}

	again, err := svc.ForRequest(ctx, event, &person, "")
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	if again.ID != order.ID {
		t.Fatal("expected the same order on repeat requests")
	}
}

func TestForRequestAnonymousBySessionCode(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	event := seedEvent(t, db)

	svc := newTestService(t, db)

	order, err := svc.ForRequest(ctx, event, nil, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	again, err := svc.ForRequest(ctx, event, nil, order.Code)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if again.ID != order.ID {
		t.Fatal("expected session code to resolve the same order")
	}

	// A stale session code for a claimed order yields a fresh one.
	person := uuid.New()
	if _, err := svc.ClaimOrder(ctx, event, order.Code, person); err != nil {
		t.Fatalf("claim: %v", err)
	}
	fresh, err := svc.ForRequest(ctx, event, nil, order.Code)
	if err != nil {
		t.Fatalf("stale lookup: %v", err)
	}
	if fresh.ID == order.ID {
		t.Fatal("expected a fresh order for a stale session code")
	}
}

func TestClaimOrder(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	event := seedEvent(t, db)
	svc := newTestService(t, db)

	order, err := svc.ForRequest(ctx, event, nil, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	owner := uuid.New()
	claimed, err := svc.ClaimOrder(ctx, event, order.Code, owner)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.PersonID == nil || *claimed.PersonID != owner {
		t.Fatal("expected order to carry the claiming person")
	}

	// Claiming again with the same person is idempotent.
	if _, err := svc.ClaimOrder(ctx, event, order.Code, owner); err != nil {
		t.Fatalf("reclaim by owner: %v", err)
	}

	// Someone else cannot take it.
	_, err = svc.ClaimOrder(ctx, event, order.Code, uuid.New())
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestClaimOrderMergesIntoExistingOrder(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	event := seedEvent(t, db)
	svc := newTestService(t, db)

	person := uuid.New()
	existing, err := svc.ForRequest(ctx, event, &person, "")
	if err != nil {
		t.Fatalf("existing order: %v", err)
	}

	anon, err := svc.ForRequest(ctx, event, nil, "")
	if err != nil {
		t.Fatalf("anonymous order: %v", err)
	}
	unit := seedBoughtItem(t, db, anon.ID, 3000, enums.BoughtItemStatusBought)
	payment := models.Transaction{
		OrderID:         anon.ID,
		EventID:         event.ID,
		TransactionType: enums.TransactionTypePurchase,
		AmountCents:     3000,
		Method:          enums.PaymentMethodStripe,
		IsConfirmed:     true,
	}
	if err := db.Create(&payment).Error; err != nil {
		t.Fatalf("seed payment: %v", err)
	}

	// One redemption only the anonymous order holds, one both orders share.
	shared := uuid.New()
	for _, redemption := range []models.OrderDiscount{
		{OrderID: anon.ID, DiscountID: uuid.New()},
		{OrderID: anon.ID, DiscountID: shared},
		{OrderID: existing.ID, DiscountID: shared},
	} {
		if err := db.Create(&redemption).Error; err != nil {
			t.Fatalf("seed redemption: %v", err)
		}
	}

	claimed, err := svc.ClaimOrder(ctx, event, anon.Code, person)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.ID != existing.ID {
		t.Fatal("claiming with an existing order must merge into it")
	}

	var orders int64
	if err := db.Model(&models.Order{}).Where("event_id = ?", event.ID).Count(&orders).Error; err != nil {
		t.Fatalf("count orders: %v", err)
	}
	if orders != 1 {
		t.Fatalf("the merged order must disappear, got %d orders", orders)
	}

	var movedUnit models.BoughtItem
	if err := db.First(&movedUnit, "id = ?", unit.ID).Error; err != nil {
		t.Fatalf("reload unit: %v", err)
	}
	if movedUnit.OrderID != existing.ID {
		t.Fatal("units must move to the surviving order")
	}

	var movedTxn models.Transaction
	if err := db.First(&movedTxn, "id = ?", payment.ID).Error; err != nil {
		t.Fatalf("reload payment: %v", err)
	}
	if movedTxn.OrderID != existing.ID {
		t.Fatal("ledger rows must move to the surviving order")
	}

	var redemptions int64
	if err := db.Model(&models.OrderDiscount{}).Where("order_id = ?", existing.ID).Count(&redemptions).Error; err != nil {
		t.Fatalf("count redemptions: %v", err)
	}
	if redemptions != 2 {
		t.Fatalf("expected the shared redemption deduplicated, got %d", redemptions)
	}
}

func TestSummaryCapsSavingsAndIgnoresUnconfirmed(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	event := seedEvent(t, db)
	order := &models.Order{ID: uuid.New(), EventID: event.ID, Code: "summary1"}
	if err := db.Create(order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}

	// 5000c item with discounts stacking past its price, 2000c item with one
	// modest discount.
	big := seedBoughtItem(t, db, order.ID, 5000, enums.BoughtItemStatusBought)
	seedSnapshotDiscount(t, db, big.ID, enums.DiscountTypeFlat, 4000)
	seedSnapshotDiscount(t, db, big.ID, enums.DiscountTypePercent, 50)
	small := seedBoughtItem(t, db, order.ID, 2000, enums.BoughtItemStatusBought)
	seedSnapshotDiscount(t, db, small.ID, enums.DiscountTypePercent, 25)

	// Refunded items drop out entirely.
	seedBoughtItem(t, db, order.ID, 9999, enums.BoughtItemStatusRefunded)

	for _, txn := range []models.Transaction{
		{OrderID: order.ID, EventID: event.ID, TransactionType: enums.TransactionTypePurchase, AmountCents: 2500, Method: enums.PaymentMethodStripe, IsConfirmed: true},
		{OrderID: order.ID, EventID: event.ID, TransactionType: enums.TransactionTypePurchase, AmountCents: 1000, Method: enums.PaymentMethodCheck, IsConfirmed: false},
	} {
		if err := db.Create(&txn).Error; err != nil {
			t.Fatalf("seed transaction: %v", err)
		}
	}

	svc := newTestService(t, db)
	summary, err := svc.Summary(ctx, order)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}

	if summary.GrossCents != 7000 {
		t.Fatalf("gross: expected 7000, got %d", summary.GrossCents)
	}
	// Big item savings cap at 5000 despite 4000+2500 in snapshots; small item
	// saves 500.
	if summary.SavingsCents != 5500 {
		t.Fatalf("savings: expected 5500, got %d", summary.SavingsCents)
	}
	if summary.NetCents != 1500 {
		t.Fatalf("net: expected 1500, got %d", summary.NetCents)
	}
	// Unconfirmed check payment does not count.
	if summary.TotalPaidCents != 2500 {
		t.Fatalf("paid: expected 2500, got %d", summary.TotalPaidCents)
	}
	if summary.NetBalanceCents != -1000 {
		t.Fatalf("balance: expected -1000, got %d", summary.NetBalanceCents)
	}
}

func TestSummaryStableAfterCatalogDeletion(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	event := seedEvent(t, db)
	order := &models.Order{ID: uuid.New(), EventID: event.ID, Code: "summary2"}
	if err := db.Create(order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}

	item := &models.Item{ID: uuid.New(), EventID: event.ID, Name: "Pass"}
	if err := db.Create(item).Error; err != nil {
		t.Fatalf("seed item: %v", err)
	}
	option := &models.ItemOption{ID: uuid.New(), ItemID: item.ID, Name: "Full", PriceCents: 5000}
	if err := db.Create(option).Error; err != nil {
		t.Fatalf("seed option: %v", err)
	}
	unit := &models.BoughtItem{
		ID:           uuid.New(),
		OrderID:      order.ID,
		ItemOptionID: &option.ID,
		Status:       enums.BoughtItemStatusBought,
		Snapshot: models.PurchaseSnapshot{
			ItemName:       item.Name,
			ItemOptionName: option.Name,
			PriceCents:     option.PriceCents,
		},
		Added: time.Now(),
	}
	if err := db.Create(unit).Error; err != nil {
		t.Fatalf("seed unit: %v", err)
	}

	svc := newTestService(t, db)
	before, err := svc.Summary(ctx, order)
	if err != nil {
		t.Fatalf("summary before: %v", err)
	}

	// Organizer deletes the catalog rows; historical money must not move.
	if err := db.Model(unit).Update("item_option_id", nil).Error; err != nil {
		t.Fatalf("detach option: %v", err)
	}
	if err := db.Delete(option).Error; err != nil {
		t.Fatalf("delete option: %v", err)
	}
	if err := db.Delete(item).Error; err != nil {
		t.Fatalf("delete item: %v", err)
	}

	after, err := svc.Summary(ctx, order)
	if err != nil {
		t.Fatalf("summary after: %v", err)
	}
	if *after != *before {
		t.Fatalf("summary moved after deletion: before %+v after %+v", before, after)
	}
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:orders_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	tables := []any{
		&models.Event{},
		&models.Item{},
		&models.ItemOption{},
		&models.Order{},
		&models.OrderDiscount{},
		&models.BoughtItem{},
		&models.BoughtItemDiscount{},
		&models.Transaction{},
	}
	if err := db.AutoMigrate(tables...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedEvent(t *testing.T, db *gorm.DB) *models.Event {
	t.Helper()
	event := &models.Event{ID: uuid.New(), Name: "Test Event", Slug: "test-" + uuid.NewString()}
	if err := db.Create(event).Error; err != nil {
		t.Fatalf("seed event: %v", err)
	}
	return event
}

func seedBoughtItem(t *testing.T, db *gorm.DB, orderID uuid.UUID, priceCents int, status enums.BoughtItemStatus) *models.BoughtItem {
	t.Helper()
	item := &models.BoughtItem{
		ID:      uuid.New(),
		OrderID: orderID,
		Status:  status,
		Snapshot: models.PurchaseSnapshot{
			ItemName:       "Pass",
			ItemOptionName: "Full",
			PriceCents:     priceCents,
		},
		Added: time.Now(),
	}
	if err := db.Create(item).Error; err != nil {
		t.Fatalf("seed bought item: %v", err)
	}
	return item
}

func seedSnapshotDiscount(t *testing.T, db *gorm.DB, boughtItemID uuid.UUID, kind enums.DiscountType, amount int) {
	t.Helper()
	snapshot := &models.BoughtItemDiscount{
		ID:           uuid.New(),
		BoughtItemID: boughtItemID,
		DiscountID:   uuid.New(),
		Name:         "Snapshot",
		Code:         "snap-" + uuid.NewString()[:6],
		DiscountType: kind,
		Amount:       amount,
	}
	if err := db.Create(snapshot).Error; err != nil {
		t.Fatalf("seed snapshot discount: %v", err)
	}
}
