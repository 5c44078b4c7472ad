package repository

import (
	"context"
	"errors"
	"time"

	"github.com/brightsend/campaign-dispatcher/internal/model"
	"github.com/brightsend/campaign-dispatcher/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound is returned when a campaign does not exist.
	ErrNotFound = errors.New("campaign not found")
	// ErrDuplicateBatch is returned when a batch result for the same
	// (campaign_id, batch_index) was already recorded.
	ErrDuplicateBatch = errors.New("batch result already recorded")
)

type CampaignRepository struct {
	*pg.DB
}

func NewCampaignRepository(db *pg.DB) *CampaignRepository {
	return &CampaignRepository{
		db,
	}
}

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) (*model.Campaign, error) {
	entity := toCampaignEntity(c)

	if err := r.Write(ctx).WithContext(ctx).Omit("Batches").Create(entity).Error; err != nil {
		return nil, err
	}

	return toCampaignModel(entity), nil
}

func (r *CampaignRepository) Get(ctx context.Context, id int64) (*model.Campaign, error) {
	var entity CampaignEntity
	err := r.Read(ctx).WithContext(ctx).
		Preload("Batches", func(db *gorm.DB) *gorm.DB {
			return db.Order("batch_index ASC")
		}).
		First(&entity, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toCampaignModel(&entity), nil
}

func (r *CampaignRepository) List(ctx context.Context, f model.CampaignFilter) ([]*model.Campaign, int64, error) {
	q := r.Read(ctx).WithContext(ctx).Model(&CampaignEntity{})

	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at < ?", *f.To)
	}

	// Count before pagination
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := "created_at"
	if f.Desc {
		order += " DESC"
	} else {
		order += " ASC"
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var entities []*CampaignEntity
	if err := q.Order(order).Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	return toCampaignModels(entities), total, nil
}

// ListByStatus returns all campaigns currently in the given status,
// batches preloaded. Used by the completion sweeper.
func (r *CampaignRepository) ListByStatus(ctx context.Context, status model.CampaignStatus) ([]*model.Campaign, error) {
	var entities []*CampaignEntity
	err := r.Read(ctx).WithContext(ctx).
		Preload("Batches", func(db *gorm.DB) *gorm.DB {
			return db.Order("batch_index ASC")
		}).
		Where("status = ?", status).
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toCampaignModels(entities), nil
}

// MarkQueued moves a draft campaign into queued, recording its scheduled
// fire time when present. Re-queueing an already queued campaign just
// updates the schedule. Returns false for any other status.
func (r *CampaignRepository) MarkQueued(ctx context.Context, id int64, scheduledAt *time.Time) (bool, error) {
	updates := map[string]interface{}{
		"status":       string(model.CampaignStatusQueued),
		"scheduled_at": scheduledAt,
	}
	res := r.Write(ctx).WithContext(ctx).Model(&CampaignEntity{}).
		Where("id = ? AND status IN ?", id, []string{
			string(model.CampaignStatusDraft),
			string(model.CampaignStatusQueued),
		}).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkProcessing moves a non-terminal campaign into processing, clearing
// any previously recorded batches, counters and error so a re-run starts
// from a clean slate. Returns false when the campaign is terminal (the
// transition is a no-op, not an error).
func (r *CampaignRepository) MarkProcessing(ctx context.Context, id int64) (bool, error) {
	applied := false
	err := r.WithinTransaction(ctx, func(ctx context.Context) error {
		now := time.Now()
		res := r.Write(ctx).WithContext(ctx).Model(&CampaignEntity{}).
			Where("id = ? AND status IN ?", id, statusStrings(model.NonTerminalStatuses())).
			Updates(map[string]interface{}{
				"status":             string(model.CampaignStatusProcessing),
				"processing_started": now,
				"total_recipients":   0,
				"sent_count":         0,
				"failed_count":       0,
				"total_batches":      0,
				"error":              "",
				"note":               "",
				"completed_at":       nil,
				"failed_at":          nil,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		applied = true
		return r.Write(ctx).WithContext(ctx).
			Where("campaign_id = ?", id).
			Delete(&CampaignBatchEntity{}).Error
	})
	return applied, err
}

// SetTotalRecipients persists the resolved audience size.
func (r *CampaignRepository) SetTotalRecipients(ctx context.Context, id int64, total int) error {
	return r.Write(ctx).WithContext(ctx).Model(&CampaignEntity{}).
		Where("id = ?", id).
		Update("total_recipients", total).Error
}

// MarkSending moves a processing campaign into sending and stamps the
// planned batch count.
func (r *CampaignRepository) MarkSending(ctx context.Context, id int64, totalBatches int) (bool, error) {
	res := r.Write(ctx).WithContext(ctx).Model(&CampaignEntity{}).
		Where("id = ? AND status = ?", id, string(model.CampaignStatusProcessing)).
		Updates(map[string]interface{}{
			"status":        string(model.CampaignStatusSending),
			"total_batches": totalBatches,
		})
	return res.RowsAffected > 0, res.Error
}

// MarkFailed moves a non-terminal campaign into failed with the captured
// error message. Terminal campaigns are left untouched.
func (r *CampaignRepository) MarkFailed(ctx context.Context, id int64, errMsg string) (bool, error) {
	now := time.Now()
	res := r.Write(ctx).WithContext(ctx).Model(&CampaignEntity{}).
		Where("id = ? AND status IN ?", id, statusStrings(model.NonTerminalStatuses())).
		Updates(map[string]interface{}{
			"status":    string(model.CampaignStatusFailed),
			"error":     errMsg,
			"failed_at": now,
		})
	return res.RowsAffected > 0, res.Error
}

// MarkCompletedEmpty short-circuits a campaign with zero resolved
// recipients from processing straight to completed.
func (r *CampaignRepository) MarkCompletedEmpty(ctx context.Context, id int64, note string) (bool, error) {
	now := time.Now()
	res := r.Write(ctx).WithContext(ctx).Model(&CampaignEntity{}).
		Where("id = ? AND status = ?", id, string(model.CampaignStatusProcessing)).
		Updates(map[string]interface{}{
			"status":           string(model.CampaignStatusCompleted),
			"total_recipients": 0,
			"note":             note,
			"completed_at":     now,
		})
	return res.RowsAffected > 0, res.Error
}

// MarkCompleted moves a sending campaign into completed and recomputes
// sent/failed from the recorded batch results. The recompute, not the
// running increments, is the source of truth; it reconciles any drift
// from retried batch jobs.
func (r *CampaignRepository) MarkCompleted(ctx context.Context, id int64) (bool, error) {
	applied := false
	err := r.WithinTransaction(ctx, func(ctx context.Context) error {
		type sums struct {
			Sent   int
			Failed int
		}
		var s sums
		if err := r.Write(ctx).WithContext(ctx).Model(&CampaignBatchEntity{}).
			Select("COALESCE(SUM(sent),0) AS sent, COALESCE(SUM(failed),0) AS failed").
			Where("campaign_id = ?", id).
			Scan(&s).Error; err != nil {
			return err
		}

		now := time.Now()
		res := r.Write(ctx).WithContext(ctx).Model(&CampaignEntity{}).
			Where("id = ? AND status = ?", id, string(model.CampaignStatusSending)).
			Updates(map[string]interface{}{
				"status":       string(model.CampaignStatusCompleted),
				"sent_count":   s.Sent,
				"failed_count": s.Failed,
				"completed_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		applied = res.RowsAffected > 0
		return nil
	})
	return applied, err
}

// AppendBatchResult records one batch outcome and applies the sent/failed
// deltas to the campaign counters. The insert is conditional on the
// (campaign_id, batch_index) unique index: a duplicate delivery of the
// same batch job returns ErrDuplicateBatch and leaves the counters
// unchanged.
func (r *CampaignRepository) AppendBatchResult(ctx context.Context, campaignID int64, result model.BatchResult) error {
	return r.WithinTransaction(ctx, func(ctx context.Context) error {
		entity := toBatchEntity(campaignID, result)
		res := r.Write(ctx).WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "campaign_id"}, {Name: "batch_index"}},
				DoNothing: true,
			}).
			Create(entity)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrDuplicateBatch
		}

		return r.Write(ctx).WithContext(ctx).Model(&CampaignEntity{}).
			Where("id = ?", campaignID).
			Updates(map[string]interface{}{
				"sent_count":   gorm.Expr("sent_count + ?", result.Sent),
				"failed_count": gorm.Expr("failed_count + ?", result.Failed),
			}).Error
	})
}

func statusStrings(statuses []model.CampaignStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// CountBatches returns how many batch results have been recorded.
func (r *CampaignRepository) CountBatches(ctx context.Context, campaignID int64) (int64, error) {
	var n int64
	err := r.Read(ctx).WithContext(ctx).Model(&CampaignBatchEntity{}).
		Where("campaign_id = ?", campaignID).
		Count(&n).Error
	return n, err
}

// IncrementOpened bumps the unique-open counter.
func (r *CampaignRepository) IncrementOpened(ctx context.Context, id int64) error {
	return r.Write(ctx).WithContext(ctx).Model(&CampaignEntity{}).
		Where("id = ?", id).
		Update("opened_count", gorm.Expr("opened_count + 1")).Error
}

// IncrementClicked bumps the click counter.
func (r *CampaignRepository) IncrementClicked(ctx context.Context, id int64) error {
	return r.Write(ctx).WithContext(ctx).Model(&CampaignEntity{}).
		Where("id = ?", id).
		Update("clicked_count", gorm.Expr("clicked_count + 1")).Error
}
