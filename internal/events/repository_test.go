package events

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
	pkgerrors "github.com/littleweaver/brambling/pkg/errors"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Event{}))
	return db
}

func TestFindBySlug(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	repo := NewRepository(db)

	event := models.Event{ID: uuid.New(), Name: "Spring Fling", Slug: "spring-fling"}
	require.NoError(t, db.Create(&event).Error)

	found, err := repo.FindBySlug(context.Background(), "spring-fling")
	require.NoError(t, err)
	assert.Equal(t, event.ID, found.ID)

	_, err = repo.FindBySlug(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestFindByID(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	repo := NewRepository(db)

	event := models.Event{ID: uuid.New(), Name: "Fall Ball", Slug: "fall-ball"}
	require.NoError(t, db.Create(&event).Error)

	found, err := repo.FindByID(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Equal(t, "fall-ball", found.Slug)

	_, err = repo.FindByID(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}
