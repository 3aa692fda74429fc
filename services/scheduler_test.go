package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HSouheill/mlm_ledger/models"
)

type periodRecorder struct {
	periods []string
	err     error
}

func (p *periodRecorder) HandlePeriodElapsed(_ context.Context, evt models.PeriodElapsed) (*models.AccrualBatchSummary, error) {
	p.periods = append(p.periods, evt.Period)
	if p.err != nil {
		return nil, p.err
	}
	return &models.AccrualBatchSummary{Period: evt.Period}, nil
}

func TestSchedulerFiresPreviousPeriod(t *testing.T) {
	rec := &periodRecorder{}
	now := func() time.Time { return time.Date(2024, time.January, 1, 0, 5, 0, 0, time.UTC) }
	s, err := NewAccrualScheduler(rec, 1, Deps{Now: now})
	require.NoError(t, err)

	s.Fire(context.Background())
	rec.err = errors.New("store down")
	s.Fire(context.Background())
	assert.Equal(t, []string{"2023-12", "2023-12"}, rec.periods)
}

func TestSchedulerDayRange(t *testing.T) {
	for _, day := range []int{0, 29, -1} {
		_, err := NewAccrualScheduler(&periodRecorder{}, day, Deps{})
		assert.ErrorIs(t, err, models.ErrValidation, "day %d", day)
	}
}

func TestSchedulerStarts(t *testing.T) {
	s, err := NewAccrualScheduler(&periodRecorder{}, 28, Deps{})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Shutdown())
}

func TestEventServiceValidatesPeriod(t *testing.T) {
	h := newHarness(t)
	_, err := h.events.HandlePeriodElapsed(context.Background(), models.PeriodElapsed{Period: "2024"})
	assert.ErrorIs(t, err, models.ErrValidation)
}
