package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"

	"github.com/HSouheill/mlm_ledger/models"
	"github.com/HSouheill/mlm_ledger/utils"
)

// PeriodHandler consumes the PeriodElapsed event.
type PeriodHandler interface {
	HandlePeriodElapsed(ctx context.Context, evt models.PeriodElapsed) (*models.AccrualBatchSummary, error)
}

// AccrualScheduler fires PeriodElapsed for the month that just ended, once a month.
type AccrualScheduler struct {
	scheduler gocron.Scheduler
	handler   PeriodHandler
	day       int
	now       func() time.Time
	log       logrus.FieldLogger
}

func NewAccrualScheduler(handler PeriodHandler, day int, deps Deps) (*AccrualScheduler, error) {
	deps = deps.withDefaults()
	if day < 1 || day > 28 {
		return nil, fmt.Errorf("%w: accrual day %d must be within 1..28", models.ErrValidation, day)
	}
	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &AccrualScheduler{
		scheduler: sched,
		handler:   handler,
		day:       day,
		now:       deps.Now,
		log:       deps.Logger.WithField("component", "scheduler"),
	}, nil
}

// Start registers the monthly job and starts the scheduler.
func (a *AccrualScheduler) Start(ctx context.Context) error {
	_, err := a.scheduler.NewJob(
		gocron.MonthlyJob(1, gocron.NewDaysOfTheMonth(a.day), gocron.NewAtTimes(gocron.NewAtTime(0, 5, 0))),
		gocron.NewTask(func() { a.Fire(ctx) }),
		gocron.WithName("period-elapsed"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule accrual job: %w", err)
	}
	a.scheduler.Start()
	a.log.WithField("day", a.day).Info("accrual scheduler started")
	return nil
}

// Fire emits PeriodElapsed for the previous month.
func (a *AccrualScheduler) Fire(ctx context.Context) {
	period := utils.PreviousPeriod(a.now())
	logger := a.log.WithField("period", period)
	summary, err := a.handler.HandlePeriodElapsed(ctx, models.PeriodElapsed{Period: period})
	if err != nil {
		logger.WithError(err).Error("scheduled accrual run failed")
		return
	}
	logger.WithFields(logrus.Fields{
		"batchId":   summary.BatchID,
		"completed": summary.Completed,
		"failed":    summary.Failed,
	}).Info("scheduled accrual run finished")
}

func (a *AccrualScheduler) Shutdown() error {
	return a.scheduler.Shutdown()
}
