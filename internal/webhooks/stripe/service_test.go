package stripewebhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/littleweaver/brambling/pkg/db/models"
	"github.com/littleweaver/brambling/pkg/enums"
	"github.com/littleweaver/brambling/pkg/logger"
	"github.com/littleweaver/brambling/pkg/outbox"
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

// fakeFetcher plays Stripe's side: HandleEvent must trust only what the fetch
// returns, never the delivered payload.
type fakeFetcher struct {
	events  map[string]*stripe.Event
	fetches int
}

func (f *fakeFetcher) FetchEvent(ctx context.Context, id string) (*stripe.Event, error) {
	f.fetches++
	event, ok := f.events[id]
	if !ok {
		return nil, fmt.Errorf("no such event %s", id)
	}
	return event, nil
}

func (f *fakeFetcher) APIType() enums.StripeAPIType {
	return enums.StripeAPITypeTest
}

func refundedEvent(id, chargeID string, amountRefunded int64) *stripe.Event {
	raw, _ := json.Marshal(map[string]any{
		"id":              chargeID,
		"amount_refunded": amountRefunded,
	})
	return &stripe.Event{
		ID:   id,
		Type: stripe.EventTypeChargeRefunded,
		Data: &stripe.EventData{Raw: raw},
	}
}

func newTestService(t *testing.T, db *gorm.DB, fetcher *fakeFetcher) (*Service, *capturingPublisher) {
	t.Helper()
	publisher := &capturingPublisher{}
	svc, err := NewService(ServiceParams{
		TransactionRunner: gormTxRunner{db: db},
		Outbox:            publisher,
		ClientFactory:     func(event *models.Event) (EventFetcher, error) { return fetcher, nil },
		Logger:            logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, publisher
}

func TestHandleEventAppliesRefundOnce(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	event := seedEvent(t, db)
	order := seedOrder(t, db, event.ID)
	purchase := seedPurchase(t, db, event.ID, order.ID, "ch_123", 10000, 250)

	delivery := refundedEvent("evt_1", "ch_123", 3000)
	fetcher := &fakeFetcher{events: map[string]*stripe.Event{"evt_1": delivery}}
	svc, publisher := newTestService(t, db, fetcher)

	outcome, err := svc.HandleEvent(ctx, delivery)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %s", outcome)
	}
	if fetcher.fetches != 1 {
		t.Fatalf("the event must be re-fetched before writing, fetches=%d", fetcher.fetches)
	}

	var refunds []models.Transaction
	if err := db.Where("transaction_type = ?", enums.TransactionTypeRefund).Find(&refunds).Error; err != nil {
		t.Fatalf("load refunds: %v", err)
	}
	if len(refunds) != 1 {
		t.Fatalf("expected one refund row, got %d", len(refunds))
	}
	if refunds[0].AmountCents != -3000 {
		t.Fatalf("expected -3000, got %d", refunds[0].AmountCents)
	}
	// floor(250 * 3000 / 10000) = 75.
	if refunds[0].ApplicationFeeCents != -75 {
		t.Fatalf("expected fee share -75, got %d", refunds[0].ApplicationFeeCents)
	}
	if refunds[0].RelatedTransactionID == nil || *refunds[0].RelatedTransactionID != purchase.ID {
		t.Fatal("refund must point at the purchase")
	}
	if len(publisher.events) != 1 || publisher.events[0].EventType != enums.EventOrderRefunded {
		t.Fatalf("expected one order.refunded, got %+v", publisher.events)
	}

	// Redelivery of the same event is a replay: no new rows, no new events.
	outcome, err = svc.HandleEvent(ctx, delivery)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if outcome != OutcomeReplay {
		t.Fatalf("expected replay, got %s", outcome)
	}
	var count int64
	if err := db.Model(&models.Transaction{}).Where("transaction_type = ?", enums.TransactionTypeRefund).Count(&count).Error; err != nil {
		t.Fatalf("count refunds: %v", err)
	}
	if count != 1 {
		t.Fatalf("replay must not write, got %d refund rows", count)
	}
	if len(publisher.events) != 1 {
		t.Fatalf("replay must not emit, got %d events", len(publisher.events))
	}
}

func TestHandleEventLostInsertRaceIsReplay(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	event := seedEvent(t, db)
	order := seedOrder(t, db, event.ID)
	seedPurchase(t, db, event.ID, order.ID, "ch_789", 5000, 0)

	// A concurrent delivery already claimed the event id. Colliding with the
	// unique index must read as a replay, never as a retryable failure.
	mark := models.ProcessedStripeEvent{
		ID:            uuid.New(),
		StripeEventID: "evt_raced",
		APIType:       enums.StripeAPITypeTest,
	}
	if err := db.Create(&mark).Error; err != nil {
		t.Fatalf("seed processed event: %v", err)
	}

	delivery := refundedEvent("evt_raced", "ch_789", 5000)
	fetcher := &fakeFetcher{events: map[string]*stripe.Event{"evt_raced": delivery}}
	svc, publisher := newTestService(t, db, fetcher)

	outcome, err := svc.HandleEvent(ctx, delivery)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if outcome != OutcomeReplay {
		t.Fatalf("expected replay, got %s", outcome)
	}

	var count int64
	if err := db.Model(&models.Transaction{}).Where("transaction_type = ?", enums.TransactionTypeRefund).Count(&count).Error; err != nil {
		t.Fatalf("count refunds: %v", err)
	}
	if count != 0 {
		t.Fatalf("a lost race must not write, got %d refund rows", count)
	}
	if len(publisher.events) != 0 {
		t.Fatalf("a lost race must not emit, got %+v", publisher.events)
	}
}

func TestHandleEventRecordsDeltaAndFeeRemainder(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	event := seedEvent(t, db)
	order := seedOrder(t, db, event.ID)
	seedPurchase(t, db, event.ID, order.ID, "ch_456", 9999, 100)

	first := refundedEvent("evt_a", "ch_456", 3333)
	second := refundedEvent("evt_b", "ch_456", 9999)
	fetcher := &fakeFetcher{events: map[string]*stripe.Event{"evt_a": first, "evt_b": second}}
	svc, _ := newTestService(t, db, fetcher)

	if _, err := svc.HandleEvent(ctx, first); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := svc.HandleEvent(ctx, second); err != nil {
		t.Fatalf("second: %v", err)
	}

	var totals struct{ Amount, App int64 }
	err := db.Model(&models.Transaction{}).
		Select("COALESCE(SUM(amount_cents), 0) AS amount, COALESCE(SUM(application_fee_cents), 0) AS app").
		Where("transaction_type = ?", enums.TransactionTypeRefund).
		Scan(&totals).Error
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	// Cumulative totals are reconciled into deltas: -3333 then -6666.
	if totals.Amount != -9999 {
		t.Fatalf("expected the full amount reversed, got %d", totals.Amount)
	}
	// The closing delta picks up the fee cent that flooring left behind.
	if totals.App != -100 {
		t.Fatalf("fee reversals must sum to the original fee, got %d", totals.App)
	}
}

func TestHandleEventUnknownCharge(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	delivery := refundedEvent("evt_x", "ch_unknown", 500)
	fetcher := &fakeFetcher{events: map[string]*stripe.Event{"evt_x": delivery}}
	svc, publisher := newTestService(t, db, fetcher)

	outcome, err := svc.HandleEvent(ctx, delivery)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if outcome != OutcomeUnmatched {
		t.Fatalf("expected unmatched, got %s", outcome)
	}
	if fetcher.fetches != 0 {
		t.Fatal("unmatched charges must not hit the gateway")
	}
	if len(publisher.events) != 0 {
		t.Fatalf("unmatched charges must not emit, got %+v", publisher.events)
	}
}

func TestHandleEventIgnoresOtherTypes(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	fetcher := &fakeFetcher{}
	svc, _ := newTestService(t, db, fetcher)

	outcome, err := svc.HandleEvent(ctx, &stripe.Event{
		ID:   "evt_y",
		Type: stripe.EventTypeChargeSucceeded,
		Data: &stripe.EventData{Raw: []byte(`{}`)},
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if outcome != OutcomeIgnored {
		t.Fatalf("expected ignored, got %s", outcome)
	}
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:stripewebhook_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	tables := []any{
		&models.Event{},
		&models.Order{},
		&models.Transaction{},
		&models.ProcessedStripeEvent{},
	}
	if err := db.AutoMigrate(tables...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedEvent(t *testing.T, db *gorm.DB) *models.Event {
	t.Helper()
	event := &models.Event{
		ID:                uuid.New(),
		Name:              "Test Event",
		Slug:              "test-" + uuid.NewString(),
		StripeAccessToken: "sk_test_xyz",
	}
	if err := db.Create(event).Error; err != nil {
		t.Fatalf("seed event: %v", err)
	}
	return event
}

func seedOrder(t *testing.T, db *gorm.DB, eventID uuid.UUID) *models.Order {
	t.Helper()
	order := &models.Order{ID: uuid.New(), EventID: eventID, Code: uuid.NewString()[:8]}
	if err := db.Create(order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order
}

func seedPurchase(t *testing.T, db *gorm.DB, eventID, orderID uuid.UUID, chargeID string, amount, appFee int) *models.Transaction {
	t.Helper()
	txn := &models.Transaction{
		ID:                  uuid.New(),
		OrderID:             orderID,
		EventID:             eventID,
		TransactionType:     enums.TransactionTypePurchase,
		AmountCents:         amount,
		Method:              enums.PaymentMethodStripe,
		IsConfirmed:         true,
		RemoteID:            chargeID,
		ApplicationFeeCents: appFee,
	}
	if err := db.Create(txn).Error; err != nil {
		t.Fatalf("seed purchase: %v", err)
	}
	return txn
}
