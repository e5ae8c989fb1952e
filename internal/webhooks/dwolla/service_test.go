package dwollawebhook

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/littleweaver/brambling/pkg/db/models"
	"github.com/littleweaver/brambling/pkg/dwolla"
	"github.com/littleweaver/brambling/pkg/enums"
	pkgerrors "github.com/littleweaver/brambling/pkg/errors"
	"github.com/littleweaver/brambling/pkg/logger"
)

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func newTestService(t *testing.T, db *gorm.DB, verifier SignatureVerifier) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		TransactionRunner: gormTxRunner{db: db},
		Verifier:          verifier,
		Logger:            logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func statusPayload(transactionID, status string) []byte {
	return []byte(fmt.Sprintf(
		`{"Id":"whk-1","Type":"Transaction","Subtype":"Status","Transaction":{"Id":%s,"Status":%q}}`,
		transactionID, status,
	))
}

func TestHandleWebhookConfirmsProcessed(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	client := newDwollaClient(t)
	txn := seedPending(t, db, "12345678")
	svc := newTestService(t, db, client)

	body := statusPayload("12345678", "processed")
	outcome, err := svc.HandleWebhook(ctx, body, sign(client, body))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %s", outcome)
	}

	var reloaded models.Transaction
	if err := db.First(&reloaded, "id = ?", txn.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !reloaded.IsConfirmed {
		t.Fatal("processed status must confirm the transaction")
	}

	// Redelivery finds nothing to change.
	outcome, err = svc.HandleWebhook(ctx, body, sign(client, body))
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if outcome != OutcomeIgnored {
		t.Fatalf("expected ignored on redelivery, got %s", outcome)
	}
}

func TestHandleWebhookFailedStatusUnconfirms(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	client := newDwollaClient(t)
	txn := seedPending(t, db, "555")
	if err := db.Model(&models.Transaction{}).Where("id = ?", txn.ID).Update("is_confirmed", true).Error; err != nil {
		t.Fatalf("preconfirm: %v", err)
	}
	svc := newTestService(t, db, client)

	body := statusPayload("555", "failed")
	outcome, err := svc.HandleWebhook(ctx, body, sign(client, body))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %s", outcome)
	}

	var reloaded models.Transaction
	if err := db.First(&reloaded, "id = ?", txn.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.IsConfirmed {
		t.Fatal("failed status must unconfirm the transaction")
	}
}

func TestHandleWebhookBadSignatureMutatesNothing(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	client := newDwollaClient(t)
	txn := seedPending(t, db, "999")
	svc := newTestService(t, db, client)

	body := statusPayload("999", "processed")
	_, err := svc.HandleWebhook(ctx, body, "not-a-signature")
	if !pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized) {
		t.Fatalf("expected UNAUTHORIZED, got %v", err)
	}

	var reloaded models.Transaction
	if err := db.First(&reloaded, "id = ?", txn.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.IsConfirmed {
		t.Fatal("an unsigned delivery must not touch the ledger")
	}
}

func TestHandleWebhookUnknownTransaction(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	client := newDwollaClient(t)
	svc := newTestService(t, db, client)

	body := statusPayload("424242", "processed")
	_, err := svc.HandleWebhook(ctx, body, sign(client, body))
	if !pkgerrors.IsCode(err, pkgerrors.CodeWebhookNotFound) {
		t.Fatalf("expected WEBHOOK_NOT_FOUND, got %v", err)
	}
}

func TestHandleWebhookRejectsUnrecognizedEnvelopes(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	client := newDwollaClient(t)
	svc := newTestService(t, db, client)

	for name, body := range map[string][]byte{
		"wrong type":    []byte(`{"Id":"whk-2","Type":"Account","Subtype":"Status"}`),
		"wrong subtype": []byte(`{"Id":"whk-3","Type":"Transaction","Subtype":"Created"}`),
		"missing id":    []byte(`{"Id":"whk-4","Type":"Transaction","Subtype":"Status","Transaction":{"Status":"processed"}}`),
	} {
		_, err := svc.HandleWebhook(ctx, body, sign(client, body))
		if !pkgerrors.IsCode(err, pkgerrors.CodeWebhookNotFound) {
			t.Fatalf("%s: expected WEBHOOK_NOT_FOUND, got %v", name, err)
		}
	}
}

func TestHandleWebhookIntermediateStatusUnconfirms(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	client := newDwollaClient(t)
	txn := seedPending(t, db, "777")
	if err := db.Model(&models.Transaction{}).Where("id = ?", txn.ID).Update("is_confirmed", true).Error; err != nil {
		t.Fatalf("preconfirm: %v", err)
	}
	svc := newTestService(t, db, client)

	// Confirmation tracks the reported status exactly, so anything other
	// than processed clears it.
	body := statusPayload("777", "pending")
	outcome, err := svc.HandleWebhook(ctx, body, sign(client, body))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %s", outcome)
	}

	var reloaded models.Transaction
	if err := db.First(&reloaded, "id = ?", txn.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.IsConfirmed {
		t.Fatal("a non-processed status must leave the transaction unconfirmed")
	}
}

func newDwollaClient(t *testing.T) *dwolla.Client {
	t.Helper()
	client, err := dwolla.NewClient("app-key", "app-secret")
	if err != nil {
		t.Fatalf("new dwolla client: %v", err)
	}
	return client
}

// sign produces the signature Dwolla would attach, using the same HMAC the
// verifier checks.
func sign(client *dwolla.Client, body []byte) string {
	return client.SignWebhook(body)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:dwollawebhook_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	tables := []any{&models.Event{}, &models.Order{}, &models.Transaction{}}
	if err := db.AutoMigrate(tables...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedPending(t *testing.T, db *gorm.DB, remoteID string) *models.Transaction {
	t.Helper()
	event := &models.Event{ID: uuid.New(), Name: "Test Event", Slug: "test-" + uuid.NewString()}
	if err := db.Create(event).Error; err != nil {
		t.Fatalf("seed event: %v", err)
	}
	order := &models.Order{ID: uuid.New(), EventID: event.ID, Code: uuid.NewString()[:8]}
	if err := db.Create(order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	txn := &models.Transaction{
		ID:              uuid.New(),
		OrderID:         order.ID,
		EventID:         event.ID,
		TransactionType: enums.TransactionTypePurchase,
		AmountCents:     5000,
		Method:          enums.PaymentMethodDwolla,
		IsConfirmed:     false,
		RemoteID:        remoteID,
	}
	if err := db.Create(txn).Error; err != nil {
		t.Fatalf("seed transaction: %v", err)
	}
	return txn
}
