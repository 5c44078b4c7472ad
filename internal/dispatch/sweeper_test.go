package dispatch

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/brightsend/campaign-dispatcher/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// recordingCampaignPublisher records process-campaign jobs.
type recordingCampaignPublisher struct {
	jobs []model.CampaignJob
	err  error
}

func (p *recordingCampaignPublisher) PublishJSON(ctx context.Context, data interface{}, metadata map[string]string) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.jobs = append(p.jobs, data.(model.CampaignJob))
	return "msg-id", nil
}

func TestScheduleSweeper_Scheduled(t *testing.T) {
	ctx := context.Background()

	t.Run("promotes due campaigns and leaves future ones", func(t *testing.T) {
		fakeRedis := newFakeRedisAdapter()
		publisher := &recordingCampaignPublisher{}
		sweeper := NewScheduleSweeper(fakeRedis, publisher, ScheduleSweeperConfig{})

		now := time.Now()
		require.NoError(t, fakeRedis.ZAdd(ScheduledSetKey, float64(now.Add(-time.Minute).UnixMilli()), "11"))
		require.NoError(t, fakeRedis.ZAdd(ScheduledSetKey, float64(now.Add(-time.Second).UnixMilli()), "12"))
		require.NoError(t, fakeRedis.ZAdd(ScheduledSetKey, float64(now.Add(time.Hour).UnixMilli()), "13"))

		sweeper.Sweep(ctx)

		require.Len(t, publisher.jobs, 2)
		assert.Equal(t, int64(11), publisher.jobs[0].CampaignID)
		assert.Equal(t, int64(12), publisher.jobs[1].CampaignID)

		// Future campaign stays scheduled
		remaining, err := fakeRedis.ZCard(ScheduledSetKey)
		require.NoError(t, err)
		assert.Equal(t, int64(1), remaining)
	})

	t.Run("keeps campaign scheduled when publish fails", func(t *testing.T) {
		fakeRedis := newFakeRedisAdapter()
		publisher := &recordingCampaignPublisher{err: errors.New("redis down")}
		sweeper := NewScheduleSweeper(fakeRedis, publisher, ScheduleSweeperConfig{})

		require.NoError(t, fakeRedis.ZAdd(ScheduledSetKey, float64(time.Now().Add(-time.Minute).UnixMilli()), "21"))

		sweeper.Sweep(ctx)

		remaining, err := fakeRedis.ZCard(ScheduledSetKey)
		require.NoError(t, err)
		assert.Equal(t, int64(1), remaining, "failed launch must stay scheduled")

		// Next sweep with a healthy queue picks it up.
		publisher.err = nil
		sweeper.Sweep(ctx)
		require.Len(t, publisher.jobs, 1)
		assert.Equal(t, int64(21), publisher.jobs[0].CampaignID)
	})

	t.Run("republishes rather than loses a campaign when removal fails", func(t *testing.T) {
		fakeRedis := newFakeRedisAdapter()
		publisher := &recordingCampaignPublisher{}
		sweeper := NewScheduleSweeper(fakeRedis, publisher, ScheduleSweeperConfig{})

		require.NoError(t, fakeRedis.ZAdd(ScheduledSetKey, float64(time.Now().Add(-time.Minute).UnixMilli()), "41"))

		// First sweep publishes but cannot remove the member, as a crash
		// between the two steps would leave it.
		fakeRedis.zremErr = errors.New("connection lost")
		sweeper.Sweep(ctx)
		require.Len(t, publisher.jobs, 1)

		remaining, err := fakeRedis.ZCard(ScheduledSetKey)
		require.NoError(t, err)
		assert.Equal(t, int64(1), remaining)

		// The next sweep publishes the same campaign again and clears it.
		// The duplicate job is absorbed by the processing lock downstream.
		fakeRedis.zremErr = nil
		sweeper.Sweep(ctx)
		require.Len(t, publisher.jobs, 2)
		assert.Equal(t, int64(41), publisher.jobs[0].CampaignID)
		assert.Equal(t, int64(41), publisher.jobs[1].CampaignID)

		remaining, err = fakeRedis.ZCard(ScheduledSetKey)
		require.NoError(t, err)
		assert.Equal(t, int64(0), remaining)
	})

	t.Run("drops malformed entries instead of looping", func(t *testing.T) {
		fakeRedis := newFakeRedisAdapter()
		publisher := &recordingCampaignPublisher{}
		sweeper := NewScheduleSweeper(fakeRedis, publisher, ScheduleSweeperConfig{})

		require.NoError(t, fakeRedis.ZAdd(ScheduledSetKey, float64(time.Now().Add(-time.Minute).UnixMilli()), "not-a-number"))

		sweeper.Sweep(ctx)

		assert.Empty(t, publisher.jobs)
		remaining, err := fakeRedis.ZCard(ScheduledSetKey)
		require.NoError(t, err)
		assert.Equal(t, int64(0), remaining)
	})
}

func TestScheduleSweeper_Pending(t *testing.T) {
	ctx := context.Background()

	t.Run("launches pending campaigns up to the batch cap", func(t *testing.T) {
		fakeRedis := newFakeRedisAdapter()
		publisher := &recordingCampaignPublisher{}
		sweeper := NewScheduleSweeper(fakeRedis, publisher, ScheduleSweeperConfig{QueuedBatch: 3})

		for i := 1; i <= 5; i++ {
			require.NoError(t, fakeRedis.RPush(PendingListKey, strconv.Itoa(i)))
		}

		sweeper.Sweep(ctx)

		require.Len(t, publisher.jobs, 3)
		assert.Equal(t, int64(1), publisher.jobs[0].CampaignID)
		assert.Equal(t, int64(3), publisher.jobs[2].CampaignID)

		left, err := fakeRedis.LLen(PendingListKey)
		require.NoError(t, err)
		assert.Equal(t, int64(2), left)
	})

	t.Run("pushes campaign back when publish fails", func(t *testing.T) {
		fakeRedis := newFakeRedisAdapter()
		publisher := &recordingCampaignPublisher{err: errors.New("redis down")}
		sweeper := NewScheduleSweeper(fakeRedis, publisher, ScheduleSweeperConfig{})

		require.NoError(t, fakeRedis.RPush(PendingListKey, "31"))

		sweeper.Sweep(ctx)

		left, err := fakeRedis.LLen(PendingListKey)
		require.NoError(t, err)
		assert.Equal(t, int64(1), left)
	})

	t.Run("empty list is a no-op", func(t *testing.T) {
		fakeRedis := newFakeRedisAdapter()
		publisher := &recordingCampaignPublisher{}
		sweeper := NewScheduleSweeper(fakeRedis, publisher, ScheduleSweeperConfig{})

		sweeper.Sweep(ctx)

		assert.Empty(t, publisher.jobs)
	})
}

func TestScheduleSweeper_StartStop(t *testing.T) {
	fakeRedis := newFakeRedisAdapter()
	sweeper := NewScheduleSweeper(fakeRedis, &recordingCampaignPublisher{}, ScheduleSweeperConfig{Interval: 10 * time.Millisecond})

	sweeper.Start()
	time.Sleep(30 * time.Millisecond)
	sweeper.Stop()
	// Stop is idempotent
	sweeper.Stop()
}

func TestCompletionSweeper(t *testing.T) {
	ctx := context.Background()

	sendingCampaign := func(totalBatches int, started time.Time) *model.Campaign {
		return &model.Campaign{
			ID:                77,
			Status:            model.CampaignStatusSending,
			TotalBatches:      totalBatches,
			ProcessingStarted: &started,
		}
	}

	t.Run("completes campaign when all batches reported", func(t *testing.T) {
		campaigns := new(MockCampaignStore)
		c := sendingCampaign(3, time.Now())
		campaigns.On("ListByStatus", ctx, model.CampaignStatusSending).Return([]*model.Campaign{c}, nil)
		campaigns.On("CountBatches", ctx, int64(77)).Return(int64(3), nil)
		campaigns.On("MarkCompleted", ctx, int64(77)).Return(true, nil)

		sweeper := NewCompletionSweeper(campaigns, CompletionSweeperConfig{})
		sweeper.Sweep(ctx)

		campaigns.AssertExpectations(t)
	})

	t.Run("leaves campaign with outstanding batches alone", func(t *testing.T) {
		campaigns := new(MockCampaignStore)
		c := sendingCampaign(3, time.Now())
		campaigns.On("ListByStatus", ctx, model.CampaignStatusSending).Return([]*model.Campaign{c}, nil)
		campaigns.On("CountBatches", ctx, int64(77)).Return(int64(2), nil)

		sweeper := NewCompletionSweeper(campaigns, CompletionSweeperConfig{})
		sweeper.Sweep(ctx)

		campaigns.AssertNotCalled(t, "MarkCompleted", mock.Anything, mock.Anything)
	})

	t.Run("force-completes campaign past the sending timeout", func(t *testing.T) {
		campaigns := new(MockCampaignStore)
		c := sendingCampaign(3, time.Now().Add(-2*time.Hour))
		campaigns.On("ListByStatus", ctx, model.CampaignStatusSending).Return([]*model.Campaign{c}, nil)
		campaigns.On("CountBatches", ctx, int64(77)).Return(int64(1), nil)
		campaigns.On("MarkCompleted", ctx, int64(77)).Return(true, nil)

		sweeper := NewCompletionSweeper(campaigns, CompletionSweeperConfig{SendingTimeout: time.Hour})
		sweeper.Sweep(ctx)

		campaigns.AssertExpectations(t)
	})

	t.Run("list failure aborts the sweep", func(t *testing.T) {
		campaigns := new(MockCampaignStore)
		campaigns.On("ListByStatus", ctx, model.CampaignStatusSending).Return(nil, errors.New("connection refused"))

		sweeper := NewCompletionSweeper(campaigns, CompletionSweeperConfig{})
		sweeper.Sweep(ctx)

		campaigns.AssertNotCalled(t, "MarkCompleted", mock.Anything, mock.Anything)
	})
}
