package payments

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/littleweaver/brambling/pkg/db/models"
	"github.com/littleweaver/brambling/pkg/dwolla"
	"github.com/littleweaver/brambling/pkg/enums"
	pkgerrors "github.com/littleweaver/brambling/pkg/errors"
	"github.com/littleweaver/brambling/pkg/gateway"
	"github.com/littleweaver/brambling/pkg/outbox"
	pkgstripe "github.com/littleweaver/brambling/pkg/stripe"
)

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type capturingPublisher struct {
	events []outbox.DomainEvent
}

func (p *capturingPublisher) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	p.events = append(p.events, event)
	return nil
}

type fakeStripe struct {
	charges []pkgstripe.ChargeParams
	err     error
}

func (f *fakeStripe) Charge(ctx context.Context, params pkgstripe.ChargeParams) (*gateway.ChargeResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.charges = append(f.charges, params)
	return &gateway.ChargeResult{
		RemoteID:            "ch_" + uuid.NewString()[:8],
		ApplicationFeeCents: params.ApplicationFeeCents,
		ProcessingFeeCents:  59,
	}, nil
}

type fakeDwolla struct {
	charges []dwolla.ChargeParams
}

func (f *fakeDwolla) Charge(ctx context.Context, params dwolla.ChargeParams) (*gateway.ChargeResult, error) {
	f.charges = append(f.charges, params)
	return &gateway.ChargeResult{
		RemoteID:            "12345678",
		ApplicationFeeCents: params.ApplicationFeeCents,
	}, nil
}

func newTestService(t *testing.T, db *gorm.DB, stripeGW *fakeStripe, dwollaGW DwollaGateway) (*service, *capturingPublisher) {
	t.Helper()
	publisher := &capturingPublisher{}
	factory := func(event *models.Event) (StripeGateway, error) { return stripeGW, nil }
	svc, err := NewService(gormTxRunner{db: db}, publisher, factory, dwollaGW)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc.(*service), publisher
}

func TestChargeOrderStripeSettlesCart(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	event := seedEvent(t, db)
	order := seedOrder(t, db, event.ID)
	item := seedCartItem(t, db, order.ID, 5000)
	stripeGW := &fakeStripe{}
	svc, publisher := newTestService(t, db, stripeGW, nil)

	txn, err := svc.ChargeOrder(ctx, event, order, ChargeOrderParams{
		Method: enums.PaymentMethodStripe,
		Token:  "tok_visa",
	})
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if !txn.IsConfirmed {
		t.Fatal("stripe charges settle synchronously and must be confirmed")
	}
	if txn.AmountCents != 5000 {
		t.Fatalf("expected the balance 5000, charged %d", txn.AmountCents)
	}
	// 2.5% of 5000, floored.
	if txn.ApplicationFeeCents != 125 {
		t.Fatalf("expected application fee 125, got %d", txn.ApplicationFeeCents)
	}
	if len(stripeGW.charges) != 1 || stripeGW.charges[0].OrderCode != order.Code {
		t.Fatalf("gateway saw %+v", stripeGW.charges)
	}

	var bought models.BoughtItem
	if err := db.First(&bought, "id = ?", item.ID).Error; err != nil {
		t.Fatalf("reload item: %v", err)
	}
	if bought.Status != enums.BoughtItemStatusBought {
		t.Fatalf("expected bought, got %s", bought.Status)
	}

	var links int64
	if err := db.Table("transaction_bought_items").Where("transaction_id = ?", txn.ID).Count(&links).Error; err != nil {
		t.Fatalf("count links: %v", err)
	}
	if links != 1 {
		t.Fatalf("expected the unit linked to the transaction, got %d links", links)
	}

	if len(publisher.events) != 1 || publisher.events[0].EventType != enums.EventOrderPaid {
		t.Fatalf("expected one order.paid event, got %+v", publisher.events)
	}
}

func TestChargeOrderDwollaStaysUnconfirmed(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	event := seedEvent(t, db)
	order := seedOrder(t, db, event.ID)
	seedCartItem(t, db, order.ID, 3000)
	dwollaGW := &fakeDwolla{}
	svc, _ := newTestService(t, db, &fakeStripe{}, dwollaGW)

	txn, err := svc.ChargeOrder(ctx, event, order, ChargeOrderParams{
		Method:    enums.PaymentMethodDwolla,
		Token:     "access-token",
		DwollaPin: "1234",
	})
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if txn.IsConfirmed {
		t.Fatal("dwolla settles through the webhook; the row must start unconfirmed")
	}
	if len(dwollaGW.charges) != 1 || dwollaGW.charges[0].DestinationID != event.DwollaUserID {
		t.Fatalf("gateway saw %+v", dwollaGW.charges)
	}

	// Unconfirmed money does not count toward the balance.
	var reloaded models.Transaction
	if err := db.First(&reloaded, "id = ?", txn.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.IsConfirmed {
		t.Fatal("persisted row must be unconfirmed")
	}
}

func TestChargeOrderEmptyBalance(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	event := seedEvent(t, db)
	order := seedOrder(t, db, event.ID)
	svc, _ := newTestService(t, db, &fakeStripe{}, nil)

	_, err := svc.ChargeOrder(ctx, event, order, ChargeOrderParams{
		Method: enums.PaymentMethodStripe,
		Token:  "tok_visa",
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected STATE_CONFLICT for an empty cart, got %v", err)
	}
}

func TestChargeOrderSweepsExpiredCartFirst(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	event := seedEvent(t, db)
	event.CartTimeoutMinutes = 15
	order := seedOrder(t, db, event.ID)
	stale := time.Now().Add(-2 * time.Hour)
	if err := db.Model(&models.Order{}).Where("id = ?", order.ID).Update("cart_start_time", stale).Error; err != nil {
		t.Fatalf("age cart: %v", err)
	}
	item := seedCartItem(t, db, order.ID, 5000)
	stripeGW := &fakeStripe{}
	svc, publisher := newTestService(t, db, stripeGW, nil)

	_, err := svc.ChargeOrder(ctx, event, order, ChargeOrderParams{
		Method: enums.PaymentMethodStripe,
		Token:  "tok_visa",
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected STATE_CONFLICT for a lapsed cart, got %v", err)
	}
	if len(stripeGW.charges) != 0 {
		t.Fatalf("a lapsed cart must never reach the gateway, saw %+v", stripeGW.charges)
	}

	// The request-path sweep released the reservation itself.
	var remaining int64
	if err := db.Model(&models.BoughtItem{}).Where("id = ?", item.ID).Count(&remaining).Error; err != nil {
		t.Fatalf("count units: %v", err)
	}
	if remaining != 0 {
		t.Fatal("expired reservation must be released before charging")
	}
	if len(publisher.events) != 1 || publisher.events[0].EventType != enums.EventCartExpired {
		t.Fatalf("expected one cart.expired event, got %+v", publisher.events)
	}
}

func TestChargeOrderGatewayFailureLeavesCartUntouched(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	event := seedEvent(t, db)
	order := seedOrder(t, db, event.ID)
	item := seedCartItem(t, db, order.ID, 5000)
	stripeGW := &fakeStripe{err: pkgerrors.New(pkgerrors.CodeGateway, "card declined")}
	svc, publisher := newTestService(t, db, stripeGW, nil)

	_, err := svc.ChargeOrder(ctx, event, order, ChargeOrderParams{
		Method: enums.PaymentMethodStripe,
		Token:  "tok_chargeDeclined",
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeGateway) {
		t.Fatalf("expected GATEWAY, got %v", err)
	}

	var bought models.BoughtItem
	if err := db.First(&bought, "id = ?", item.ID).Error; err != nil {
		t.Fatalf("reload item: %v", err)
	}
	if bought.Status != enums.BoughtItemStatusReserved {
		t.Fatalf("declined charge must not promote the cart, got %s", bought.Status)
	}
	var ledger int64
	if err := db.Model(&models.Transaction{}).Count(&ledger).Error; err != nil {
		t.Fatalf("count transactions: %v", err)
	}
	if ledger != 0 {
		t.Fatalf("declined charge must not write a ledger row, found %d", ledger)
	}
	if len(publisher.events) != 0 {
		t.Fatalf("declined charge must not emit events, got %+v", publisher.events)
	}
}

func TestRecordManualPayment(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	event := seedEvent(t, db)
	order := seedOrder(t, db, event.ID)
	seedCartItem(t, db, order.ID, 4000)
	svc, _ := newTestService(t, db, &fakeStripe{}, nil)

	txn, err := svc.RecordManualPayment(ctx, event, order, ManualPaymentParams{Method: enums.PaymentMethodCash})
	if err != nil {
		t.Fatalf("record cash: %v", err)
	}
	if !txn.IsConfirmed || txn.AmountCents != 4000 {
		t.Fatalf("cash confirms immediately for the full balance, got %+v", txn)
	}
}

func TestRecordManualPaymentCheckUnconfirmed(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	event := seedEvent(t, db)
	order := seedOrder(t, db, event.ID)
	seedCartItem(t, db, order.ID, 4000)
	svc, _ := newTestService(t, db, &fakeStripe{}, nil)

	partial := 1500
	txn, err := svc.RecordManualPayment(ctx, event, order, ManualPaymentParams{
		Method:      enums.PaymentMethodCheck,
		AmountCents: &partial,
	})
	if err != nil {
		t.Fatalf("record check: %v", err)
	}
	if txn.IsConfirmed {
		t.Fatal("check payments wait for the paper")
	}
	if txn.AmountCents != 1500 {
		t.Fatalf("expected the explicit amount, got %d", txn.AmountCents)
	}

	confirmed, err := svc.ConfirmTransaction(ctx, txn.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !confirmed.IsConfirmed {
		t.Fatal("confirm must flip the flag")
	}

	// Confirming twice is a no-op.
	if _, err := svc.ConfirmTransaction(ctx, txn.ID); err != nil {
		t.Fatalf("re-confirm: %v", err)
	}
}

func TestRecordManualPaymentCheckPastCutoff(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	event := seedEvent(t, db)
	cutoff := time.Now().Add(-24 * time.Hour)
	event.CheckPostmarkCutoff = &cutoff
	if err := db.Model(&models.Event{}).Where("id = ?", event.ID).Update("check_postmark_cutoff", cutoff).Error; err != nil {
		t.Fatalf("set cutoff: %v", err)
	}
	order := seedOrder(t, db, event.ID)
	seedCartItem(t, db, order.ID, 4000)
	svc, _ := newTestService(t, db, &fakeStripe{}, nil)

	_, err := svc.RecordManualPayment(ctx, event, order, ManualPaymentParams{Method: enums.PaymentMethodCheck})
	if !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected STATE_CONFLICT past the postmark cutoff, got %v", err)
	}
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:payments_" + uuid.NewString() + "?mode=memory&cache=shared"
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
		&models.BoughtItemDiscount{},
		&models.Transaction{},
	}
	if err := db.AutoMigrate(tables...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := db.Exec(`CREATE TABLE IF NOT EXISTS transaction_bought_items (
		transaction_id TEXT NOT NULL,
		bought_item_id TEXT NOT NULL,
		PRIMARY KEY (transaction_id, bought_item_id)
	)`).Error; err != nil {
		t.Fatalf("create join table: %v", err)
	}
	return db
}

func seedEvent(t *testing.T, db *gorm.DB) *models.Event {
	t.Helper()
	event := &models.Event{
		ID:                    uuid.New(),
		Name:                  "Test Event",
		Slug:                  "test-" + uuid.NewString(),
		ApplicationFeePercent: "2.5",
		DwollaUserID:          "812-111-1111",
	}
	if err := db.Create(event).Error; err != nil {
		t.Fatalf("seed event: %v", err)
	}
	return event
}

func seedOrder(t *testing.T, db *gorm.DB, eventID uuid.UUID) *models.Order {
	t.Helper()
	start := time.Now()
	order := &models.Order{
		ID:            uuid.New(),
		EventID:       eventID,
		Code:          uuid.NewString()[:8],
		CartStartTime: &start,
	}
	if err := db.Create(order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order
}

func seedCartItem(t *testing.T, db *gorm.DB, orderID uuid.UUID, priceCents int) *models.BoughtItem {
	t.Helper()
	item := &models.BoughtItem{
		ID:      uuid.New(),
		OrderID: orderID,
		Status:  enums.BoughtItemStatusReserved,
		Snapshot: models.PurchaseSnapshot{
			ItemName:   "Pass",
			PriceCents: priceCents,
		},
		Added: time.Now(),
	}
	if err := db.Create(item).Error; err != nil {
		t.Fatalf("seed cart item: %v", err)
	}
	return item
}
