package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sahilchouksey/study-textbook-api/database"
	"github.com/sahilchouksey/study-textbook-api/database/dbtest"
	"github.com/sahilchouksey/study-textbook-api/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetStatusServesCachedSnapshot(t *testing.T) {
	store := dbtest.NewStore(t)
	ctx := context.Background()
	textbook := dbtest.CreateTextbook(t, store, "status")
	tracker := NewProgressTracker(store, newFakeStatusCache(), 2*time.Second)

	first, err := tracker.GetStatus(ctx, textbook.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, first.ProcessingStatus)
	assert.Zero(t, first.MaxStalenessMs, "fresh reads are not stale")

	require.NoError(t, store.StartProcessing(ctx, textbook.ID))
	require.NoError(t, store.AdvanceProcessing(ctx, textbook.ID, 40))

	cached, err := tracker.GetStatus(ctx, textbook.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, cached.ProcessingStatus)
	assert.EqualValues(t, 2000, cached.MaxStalenessMs)

	tracker.Invalidate(ctx, textbook.ID)
	fresh, err := tracker.GetStatus(ctx, textbook.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, fresh.ProcessingStatus)
	assert.Equal(t, 40, fresh.ProcessingProgress)
}

func TestGetStatusWithoutCache(t *testing.T) {
	store := dbtest.NewStore(t)
	ctx := context.Background()
	textbook := dbtest.CreateTextbook(t, store, "uncached")
	tracker := NewProgressTracker(store, nil, 0)

	_, err := store.EnsureJob(ctx, textbook.ID, model.StageExtraction, textbook.PDFLocation)
	require.NoError(t, err)
	require.NoError(t, store.StartProcessing(ctx, textbook.ID))
	require.NoError(t, store.FailProcessing(ctx, textbook.ID, "bad pdf"))

	status, err := tracker.GetStatus(ctx, textbook.ID)
	require.NoError(t, err)
	assert.True(t, status.Settled)
	require.NotNil(t, status.ProcessingError)
	assert.Equal(t, "bad pdf", *status.ProcessingError)
	require.Len(t, status.Stages, 1)
	assert.Equal(t, model.StageExtraction, status.Stages[0].Stage)
}

func TestGetStatusUnknownTextbook(t *testing.T) {
	tracker := NewProgressTracker(dbtest.NewStore(t), newFakeStatusCache(), time.Second)
	_, err := tracker.GetStatus(context.Background(), uuid.New())
	assert.ErrorIs(t, err, database.ErrTextbookNotFound)
}

func TestPollUntilSettledReportsChanges(t *testing.T) {
	snapshots := []*TextbookStatus{
		{ProcessingStatus: model.StatusProcessing, ProcessingProgress: 10},
		{ProcessingStatus: model.StatusProcessing, ProcessingProgress: 10},
		{ProcessingStatus: model.StatusProcessing, ProcessingProgress: 60},
		{ProcessingStatus: model.StatusCompleted, ProcessingProgress: 100, AIProcessingStatus: model.StatusCompleted, AIProcessingProgress: 100, Settled: true},
	}
	i := 0
	fetch := func(ctx context.Context) (*TextbookStatus, error) {
		s := snapshots[i]
		if i < len(snapshots)-1 {
			i++
		}
		return s, nil
	}

	var seen []int
	final, err := PollUntilSettled(context.Background(), fetch, time.Millisecond, func(s *TextbookStatus) error {
		seen = append(seen, s.ProcessingProgress)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, final.Settled)
	assert.Equal(t, []int{10, 60, 100}, seen)
}

func TestPollUntilSettledStops(t *testing.T) {
	pending := &TextbookStatus{ProcessingStatus: model.StatusProcessing}
	fetch := func(ctx context.Context) (*TextbookStatus, error) { return pending, nil }

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := PollUntilSettled(ctx, fetch, time.Millisecond, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	boom := errors.New("boom")
	_, err = PollUntilSettled(context.Background(), func(ctx context.Context) (*TextbookStatus, error) {
		return nil, boom
	}, time.Millisecond, nil)
	assert.ErrorIs(t, err, boom)

	stop := errors.New("client went away")
	_, err = PollUntilSettled(context.Background(), fetch, time.Millisecond, func(*TextbookStatus) error { return stop })
	assert.ErrorIs(t, err, stop)
}
