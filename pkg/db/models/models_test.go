package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// The models must AutoMigrate on sqlite, which has no gen_random_uuid().
// UUID assignment is client-side in the BeforeCreate hooks; the Postgres
// column default lives in the SQL migrations only.
func TestModelsMigrateOnSqlite(t *testing.T) {
	t.Parallel()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&Event{},
		&Item{},
		&ItemOption{},
		&Order{},
		&BoughtItem{},
		&Discount{},
		&OrderDiscount{},
		&BoughtItemDiscount{},
		&Transaction{},
		&ProcessedStripeEvent{},
		&OutboxEvent{},
	))

	event := Event{Name: "Winter Waltz", Slug: "winter-waltz"}
	require.NoError(t, db.Create(&event).Error)
	assert.NotEqual(t, uuid.Nil, event.ID)

	order := Order{EventID: event.ID, Code: "WW-0001"}
	require.NoError(t, db.Create(&order).Error)
	assert.NotEqual(t, uuid.Nil, order.ID)
}
