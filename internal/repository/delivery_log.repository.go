package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/brightsend/campaign-dispatcher/internal/model"
	"github.com/brightsend/campaign-dispatcher/pkg/pg"
	"gorm.io/gorm"
)

// ErrLogNotFound is returned when a delivery log does not exist.
var ErrLogNotFound = errors.New("delivery log not found")

type DeliveryLogRepository struct {
	*pg.DB
}

func NewDeliveryLogRepository(db *pg.DB) *DeliveryLogRepository {
	return &DeliveryLogRepository{
		db,
	}
}

func (r *DeliveryLogRepository) Create(ctx context.Context, l *model.DeliveryLog) (*model.DeliveryLog, error) {
	entity := toDeliveryLogEntity(l)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toDeliveryLogModel(entity), nil
}

// MarkSent moves a processing log entry to sent.
func (r *DeliveryLogRepository) MarkSent(ctx context.Context, id int64) error {
	now := time.Now()
	return r.Write(ctx).WithContext(ctx).Model(&DeliveryLogEntity{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":  string(model.DeliveryStatusSent),
			"sent_at": now,
		}).Error
}

// MarkFailed moves a processing log entry to failed with the error.
func (r *DeliveryLogRepository) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	now := time.Now()
	return r.Write(ctx).WithContext(ctx).Model(&DeliveryLogEntity{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":    string(model.DeliveryStatusFailed),
			"error":     errMsg,
			"failed_at": now,
		}).Error
}

func (r *DeliveryLogRepository) GetByTrackingID(ctx context.Context, trackingID string) (*model.DeliveryLog, error) {
	var entity DeliveryLogEntity
	err := r.Read(ctx).WithContext(ctx).First(&entity, "tracking_id = ?", trackingID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLogNotFound
		}
		return nil, err
	}
	return toDeliveryLogModel(&entity), nil
}

// MarkOpened records an open event. The conditional update makes the
// first open win; it returns true only for that first open so the
// campaign counter is incremented once per recipient.
func (r *DeliveryLogRepository) MarkOpened(ctx context.Context, trackingID string) (bool, error) {
	now := time.Now()
	res := r.Write(ctx).WithContext(ctx).Model(&DeliveryLogEntity{}).
		Where("tracking_id = ? AND opened = ?", trackingID, false).
		Updates(map[string]interface{}{
			"opened":    true,
			"opened_at": now,
		})
	return res.RowsAffected > 0, res.Error
}

// AppendClick records one click event on the log entry.
func (r *DeliveryLogRepository) AppendClick(ctx context.Context, trackingID string, click model.ClickEvent) error {
	return r.WithinTransaction(ctx, func(ctx context.Context) error {
		var entity DeliveryLogEntity
		err := r.Write(ctx).WithContext(ctx).First(&entity, "tracking_id = ?", trackingID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrLogNotFound
			}
			return err
		}

		var clicks []model.ClickEvent
		if len(entity.Clicks) > 0 {
			_ = json.Unmarshal(entity.Clicks, &clicks)
		}
		clicks = append(clicks, click)
		raw, err := json.Marshal(clicks)
		if err != nil {
			return err
		}

		return r.Write(ctx).WithContext(ctx).Model(&DeliveryLogEntity{}).
			Where("id = ?", entity.ID).
			Update("clicks", raw).Error
	})
}

// ListByCampaign returns the delivery logs recorded for a campaign.
func (r *DeliveryLogRepository) ListByCampaign(ctx context.Context, campaignID int64, limit, offset int) ([]*model.DeliveryLog, int64, error) {
	q := r.Read(ctx).WithContext(ctx).Model(&DeliveryLogEntity{}).
		Where("campaign_id = ?", campaignID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var entities []*DeliveryLogEntity
	if err := q.Order("id ASC").Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	logs := make([]*model.DeliveryLog, len(entities))
	for i, e := range entities {
		logs[i] = toDeliveryLogModel(e)
	}
	return logs, total, nil
}
