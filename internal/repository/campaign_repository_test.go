package repository

import (
	"context"
	"testing"
	"time"

	"github.com/brightsend/campaign-dispatcher/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDraftCampaign() *model.Campaign {
	return &model.Campaign{
		Name:       "Spring Sale",
		Subject:    "Big savings inside",
		TemplateID: 1,
		SegmentIDs: []string{"vip", "recent-buyers"},
		Operator:   model.OperatorAnd,
		CustomVariables: map[string]interface{}{
			"promo": "SPRING25",
		},
		Status: model.CampaignStatusDraft,
	}
}

func createCampaign(t *testing.T, repo *CampaignRepository, status model.CampaignStatus) *model.Campaign {
	t.Helper()
	c := newDraftCampaign()
	c.Status = status
	created, err := repo.Create(context.Background(), c)
	require.NoError(t, err)
	require.NotZero(t, created.ID)
	return created
}

func TestCampaignRepository_CreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCampaignRepository(db.DB)
	ctx := context.Background()

	created := createCampaign(t, repo, model.CampaignStatusDraft)

	got, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Spring Sale", got.Name)
	assert.Equal(t, []string{"vip", "recent-buyers"}, got.SegmentIDs)
	assert.Equal(t, model.OperatorAnd, got.Operator)
	assert.Equal(t, "SPRING25", got.CustomVariables["promo"])
	assert.Equal(t, model.CampaignStatusDraft, got.Status)
	assert.Empty(t, got.Batches)
}

func TestCampaignRepository_Get_NotFound(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCampaignRepository(db.DB)

	_, err := repo.Get(context.Background(), 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCampaignRepository_List(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCampaignRepository(db.DB)
	ctx := context.Background()

	createCampaign(t, repo, model.CampaignStatusDraft)
	createCampaign(t, repo, model.CampaignStatusSending)
	createCampaign(t, repo, model.CampaignStatusCompleted)

	all, total, err := repo.List(ctx, model.CampaignFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, all, 3)

	sending, total, err := repo.List(ctx, model.CampaignFilter{
		Statuses: []model.CampaignStatus{model.CampaignStatusSending},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, sending, 1)
	assert.Equal(t, model.CampaignStatusSending, sending[0].Status)

	paged, total, err := repo.List(ctx, model.CampaignFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, paged, 2)
}

func TestCampaignRepository_MarkQueued(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCampaignRepository(db.DB)
	ctx := context.Background()

	t.Run("queues a draft campaign", func(t *testing.T) {
		c := createCampaign(t, repo, model.CampaignStatusDraft)

		applied, err := repo.MarkQueued(ctx, c.ID, nil)
		require.NoError(t, err)
		assert.True(t, applied)

		got, err := repo.Get(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, model.CampaignStatusQueued, got.Status)
	})

	t.Run("re-queue updates the schedule", func(t *testing.T) {
		c := createCampaign(t, repo, model.CampaignStatusQueued)
		at := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)

		applied, err := repo.MarkQueued(ctx, c.ID, &at)
		require.NoError(t, err)
		assert.True(t, applied)

		got, err := repo.Get(ctx, c.ID)
		require.NoError(t, err)
		require.NotNil(t, got.ScheduledAt)
		assert.WithinDuration(t, at, *got.ScheduledAt, time.Second)
	})

	t.Run("refuses a sending campaign", func(t *testing.T) {
		c := createCampaign(t, repo, model.CampaignStatusSending)

		applied, err := repo.MarkQueued(ctx, c.ID, nil)
		require.NoError(t, err)
		assert.False(t, applied)
	})
}

func TestCampaignRepository_MarkProcessing(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCampaignRepository(db.DB)
	ctx := context.Background()

	t.Run("claims a queued campaign and resets bookkeeping", func(t *testing.T) {
		c := createCampaign(t, repo, model.CampaignStatusQueued)
		require.NoError(t, repo.AppendBatchResult(ctx, c.ID, model.BatchResult{BatchIndex: 0, Total: 10, Sent: 10}))

		applied, err := repo.MarkProcessing(ctx, c.ID)
		require.NoError(t, err)
		assert.True(t, applied)

		got, err := repo.Get(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, model.CampaignStatusProcessing, got.Status)
		assert.NotNil(t, got.ProcessingStarted)
		assert.Zero(t, got.Statistics.Sent)
		assert.Empty(t, got.Batches, "stale batch results from a previous run should be cleared")

		count, err := repo.CountBatches(ctx, c.ID)
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("terminal campaign is a no-op", func(t *testing.T) {
		c := createCampaign(t, repo, model.CampaignStatusCompleted)

		applied, err := repo.MarkProcessing(ctx, c.ID)
		require.NoError(t, err)
		assert.False(t, applied)

		got, err := repo.Get(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, model.CampaignStatusCompleted, got.Status)
	})
}

func TestCampaignRepository_MarkSending(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCampaignRepository(db.DB)
	ctx := context.Background()

	c := createCampaign(t, repo, model.CampaignStatusProcessing)

	applied, err := repo.MarkSending(ctx, c.ID, 4)
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := repo.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignStatusSending, got.Status)
	assert.Equal(t, 4, got.TotalBatches)

	// Only processing campaigns can move to sending
	applied, err = repo.MarkSending(ctx, c.ID, 4)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestCampaignRepository_MarkFailed(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCampaignRepository(db.DB)
	ctx := context.Background()

	c := createCampaign(t, repo, model.CampaignStatusProcessing)

	applied, err := repo.MarkFailed(ctx, c.ID, "Template not found")
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := repo.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignStatusFailed, got.Status)
	assert.Equal(t, "Template not found", got.Error)
	assert.NotNil(t, got.FailedAt)

	// Failing twice leaves the first record intact
	applied, err = repo.MarkFailed(ctx, c.ID, "another reason")
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestCampaignRepository_MarkCompletedEmpty(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCampaignRepository(db.DB)
	ctx := context.Background()

	c := createCampaign(t, repo, model.CampaignStatusProcessing)

	applied, err := repo.MarkCompletedEmpty(ctx, c.ID, "No recipients matched the campaign criteria")
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := repo.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignStatusCompleted, got.Status)
	assert.Equal(t, "No recipients matched the campaign criteria", got.Note)
	assert.Zero(t, got.Statistics.TotalRecipients)
	assert.NotNil(t, got.CompletedAt)
}

func TestCampaignRepository_AppendBatchResult(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCampaignRepository(db.DB)
	ctx := context.Background()

	c := createCampaign(t, repo, model.CampaignStatusSending)
	now := time.Now()

	err := repo.AppendBatchResult(ctx, c.ID, model.BatchResult{
		BatchIndex:      0,
		Total:           50,
		Sent:            48,
		Failed:          2,
		DurationSeconds: 1.5,
		CompletedAt:     &now,
	})
	require.NoError(t, err)

	got, err := repo.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, got.Batches, 1)
	assert.Equal(t, 48, got.Batches[0].Sent)
	assert.Equal(t, 48, got.Statistics.Sent)
	assert.Equal(t, 2, got.Statistics.Failed)

	// Redelivered batch job must not double-count
	err = repo.AppendBatchResult(ctx, c.ID, model.BatchResult{
		BatchIndex: 0,
		Total:      50,
		Sent:       48,
		Failed:     2,
	})
	assert.ErrorIs(t, err, ErrDuplicateBatch)

	got, err = repo.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, got.Batches, 1)
	assert.Equal(t, 48, got.Statistics.Sent)

	count, err := repo.CountBatches(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestCampaignRepository_MarkCompleted(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCampaignRepository(db.DB)
	ctx := context.Background()

	c := createCampaign(t, repo, model.CampaignStatusSending)

	require.NoError(t, repo.AppendBatchResult(ctx, c.ID, model.BatchResult{BatchIndex: 0, Total: 50, Sent: 49, Failed: 1}))
	require.NoError(t, repo.AppendBatchResult(ctx, c.ID, model.BatchResult{BatchIndex: 1, Total: 20, Sent: 18, Failed: 2}))

	applied, err := repo.MarkCompleted(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := repo.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignStatusCompleted, got.Status)
	// Terminal stats come from the batch-result recompute
	assert.Equal(t, 67, got.Statistics.Sent)
	assert.Equal(t, 3, got.Statistics.Failed)
	assert.NotNil(t, got.CompletedAt)

	// Already completed: no-op
	applied, err = repo.MarkCompleted(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestCampaignRepository_Counters(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCampaignRepository(db.DB)
	ctx := context.Background()

	c := createCampaign(t, repo, model.CampaignStatusSending)

	require.NoError(t, repo.IncrementOpened(ctx, c.ID))
	require.NoError(t, repo.IncrementOpened(ctx, c.ID))
	require.NoError(t, repo.IncrementClicked(ctx, c.ID))

	got, err := repo.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Statistics.Opened)
	assert.Equal(t, 1, got.Statistics.Clicked)
}

func TestCampaignRepository_ListByStatus(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCampaignRepository(db.DB)
	ctx := context.Background()

	createCampaign(t, repo, model.CampaignStatusSending)
	createCampaign(t, repo, model.CampaignStatusSending)
	createCampaign(t, repo, model.CampaignStatusDraft)

	sending, err := repo.ListByStatus(ctx, model.CampaignStatusSending)
	require.NoError(t, err)
	assert.Len(t, sending, 2)
}
