package ledger

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/littleweaver/brambling/pkg/db/models"
	"github.com/littleweaver/brambling/pkg/enums"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Transaction{}))
	return db
}

func TestListByOrderReturnsOldestFirst(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	repo := NewRepository(db)

	eventID := uuid.New()
	orderID := uuid.New()
	otherOrder := uuid.New()

	purchase := models.Transaction{
		ID:              uuid.New(),
		OrderID:         orderID,
		EventID:         eventID,
		TransactionType: enums.TransactionTypePurchase,
		AmountCents:     5000,
		Method:          enums.PaymentMethodStripe,
		IsConfirmed:     true,
	}
	require.NoError(t, db.Create(&purchase).Error)

	refund := models.Transaction{
		ID:                   uuid.New(),
		OrderID:              orderID,
		EventID:              eventID,
		TransactionType:      enums.TransactionTypeRefund,
		AmountCents:          -2000,
		Method:               enums.PaymentMethodStripe,
		IsConfirmed:          true,
		RelatedTransactionID: &purchase.ID,
	}
	require.NoError(t, db.Create(&refund).Error)

	unrelated := models.Transaction{
		ID:              uuid.New(),
		OrderID:         otherOrder,
		EventID:         eventID,
		TransactionType: enums.TransactionTypePurchase,
		AmountCents:     1000,
		Method:          enums.PaymentMethodCash,
	}
	require.NoError(t, db.Create(&unrelated).Error)

	rows, err := repo.ListByOrder(context.Background(), orderID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, purchase.ID, rows[0].ID)
	assert.Equal(t, refund.ID, rows[1].ID)

	all, err := repo.ListByEvent(context.Background(), eventID)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
