package cron

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/littleweaver/brambling/pkg/db/models"
	"github.com/littleweaver/brambling/pkg/logger"
)

type cartSweeper interface {
	SweepEvent(ctx context.Context, event *models.Event) (int, error)
}

type openCartFinder interface {
	EventsWithOpenCarts(ctx context.Context) ([]models.Event, error)
}

type CartSweepJobParams struct {
	Logger  *logger.Logger
	Orders  openCartFinder
	Sweeper cartSweeper
}

// NewCartSweepJob builds the job that expires lapsed cart reservations. The
// in-request sweep already covers active events; this job catches events
// nobody is browsing.
func NewCartSweepJob(params CartSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Sweeper == nil {
		return nil, fmt.Errorf("cart sweeper required")
	}
	return &cartSweepJob{
		logg:    params.Logger,
		orders:  params.Orders,
		sweeper: params.Sweeper,
	}, nil
}

type cartSweepJob struct {
	logg    *logger.Logger
	orders  openCartFinder
	sweeper cartSweeper
}

func (j *cartSweepJob) Name() string { return "cart-sweep" }

// Run sweeps every event that currently has an open cart window. One event's
// failure never blocks the others; errors are aggregated.
func (j *cartSweepJob) Run(ctx context.Context) error {
	events, err := j.orders.EventsWithOpenCarts(ctx)
	if err != nil {
		return fmt.Errorf("finding events with open carts: %w", err)
	}

	var errs error
	released := 0
	for i := range events {
		n, err := j.sweeper.SweepEvent(ctx, &events[i])
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("sweeping event %s: %w", events[i].Slug, err))
			continue
		}
		released += n
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"events_swept":   len(events),
		"units_released": released,
	})
	j.logg.Info(logCtx, "cart sweep complete")
	return errs
}
