package migrate

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/littleweaver/brambling/pkg/config"
	"github.com/littleweaver/brambling/pkg/db"
	"github.com/littleweaver/brambling/pkg/db/models"
	"github.com/littleweaver/brambling/pkg/enums"
	"github.com/littleweaver/brambling/pkg/logger"
)

const demoEventSlug = "brambling-demo"

// MaybeSeedDemo inserts a small demo event when the feature flag is enabled.
// Seeding is keyed on the event slug, so re-running it is a no-op.
func MaybeSeedDemo(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.SeedDemo {
		return nil
	}

	var count int64
	if err := client.DB().WithContext(ctx).
		Model(&models.Event{}).
		Where("slug = ?", demoEventSlug).
		Count(&count).Error; err != nil {
		return fmt.Errorf("checking demo event: %w", err)
	}
	if count > 0 {
		return nil
	}

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		return seedDemoEvent(tx)
	})
	if err != nil {
		return fmt.Errorf("seeding demo event: %w", err)
	}

	logg.Info(ctx, "demo event seeded")
	return nil
}

func seedDemoEvent(tx *gorm.DB) error {
	event := models.Event{
		Name:                  "Brambling Demo Weekend",
		Slug:                  demoEventSlug,
		CartTimeoutMinutes:    15,
		ApplicationFeePercent: "2.5",
	}
	if err := tx.Create(&event).Error; err != nil {
		return err
	}

	capacity := 150
	pass := models.Item{
		EventID:     event.ID,
		Name:        "Weekend Pass",
		Description: "Full weekend of workshops and dances",
		Options: []models.ItemOption{
			{Name: "Early Bird", PriceCents: 7500, TotalNumber: &capacity},
			{Name: "Regular", PriceCents: 9500},
		},
	}
	if err := tx.Create(&pass).Error; err != nil {
		return err
	}

	shirtRun := 40
	shirt := models.Item{
		EventID: event.ID,
		Name:    "T-Shirt",
		Options: []models.ItemOption{
			{Name: "Unisex M", PriceCents: 2000, TotalNumber: &shirtRun},
			{Name: "Unisex L", PriceCents: 2000, TotalNumber: &shirtRun},
		},
	}
	if err := tx.Create(&shirt).Error; err != nil {
		return err
	}

	windowEnd := time.Now().AddDate(0, 2, 0)
	discount := models.Discount{
		EventID:      event.ID,
		Name:         "Volunteer thanks",
		Code:         "VOLUNTEER",
		DiscountType: enums.DiscountTypeFlat,
		Amount:       1500,
		AvailableEnd: &windowEnd,
		ItemOptions:  pass.Options,
	}
	return tx.Create(&discount).Error
}
