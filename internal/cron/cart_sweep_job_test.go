package cron

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"

	"github.com/littleweaver/brambling/pkg/db/models"
	"github.com/littleweaver/brambling/pkg/logger"
)

type fakeOpenCartFinder struct {
	events []models.Event
	err    error
}

func (f *fakeOpenCartFinder) EventsWithOpenCarts(ctx context.Context) ([]models.Event, error) {
	return f.events, f.err
}

type fakeSweeper struct {
	swept   []string
	failOn  string
	perCall int
}

func (f *fakeSweeper) SweepEvent(ctx context.Context, event *models.Event) (int, error) {
	f.swept = append(f.swept, event.Slug)
	if event.Slug == f.failOn {
		return 0, errors.New("boom")
	}
	return f.perCall, nil
}

func newCartSweepJob(t *testing.T, finder *fakeOpenCartFinder, sweeper *fakeSweeper) Job {
	t.Helper()
	job, err := NewCartSweepJob(CartSweepJobParams{
		Logger:  logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Orders:  finder,
		Sweeper: sweeper,
	})
	if err != nil {
		t.Fatalf("NewCartSweepJob: %v", err)
	}
	return job
}

func TestCartSweepJobSweepsEveryEvent(t *testing.T) {
	finder := &fakeOpenCartFinder{events: []models.Event{
		{ID: uuid.New(), Slug: "spring-fling"},
		{ID: uuid.New(), Slug: "fall-ball"},
	}}
	sweeper := &fakeSweeper{perCall: 3}
	job := newCartSweepJob(t, finder, sweeper)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sweeper.swept) != 2 {
		t.Fatalf("expected both events swept, got %v", sweeper.swept)
	}
}

func TestCartSweepJobContinuesPastFailures(t *testing.T) {
	finder := &fakeOpenCartFinder{events: []models.Event{
		{ID: uuid.New(), Slug: "broken"},
		{ID: uuid.New(), Slug: "healthy"},
	}}
	sweeper := &fakeSweeper{failOn: "broken"}
	job := newCartSweepJob(t, finder, sweeper)

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("expected the aggregated error")
	}
	if len(sweeper.swept) != 2 {
		t.Fatalf("a failing event must not block the rest, swept %v", sweeper.swept)
	}
}

func TestCartSweepJobPropagatesFinderError(t *testing.T) {
	finder := &fakeOpenCartFinder{err: errors.New("db down")}
	job := newCartSweepJob(t, finder, &fakeSweeper{})

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
