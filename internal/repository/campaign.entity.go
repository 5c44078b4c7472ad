package repository

import (
	"encoding/json"
	"time"

	"github.com/brightsend/campaign-dispatcher/internal/model"
	"github.com/lib/pq"
)

type CampaignEntity struct {
	ID              int64          `db:"id"               gorm:"primaryKey;autoIncrement;column:id"`
	Name            string         `db:"name"             gorm:"column:name;not null"`
	Subject         string         `db:"subject"          gorm:"column:subject;not null"`
	TemplateID      int64          `db:"template_id"      gorm:"column:template_id;not null;index"`
	SegmentIDs      pq.StringArray `db:"segment_ids"      gorm:"column:segment_ids;type:text[]"`
	CustomFilters   []byte         `db:"custom_filters"   gorm:"column:custom_filters;type:jsonb"`
	Operator        string         `db:"operator"         gorm:"column:operator;not null;default:AND"`
	CustomVariables []byte         `db:"custom_variables" gorm:"column:custom_variables;type:jsonb"`
	Status          string         `db:"status"           gorm:"column:status;not null;index;default:draft"`
	Error           string         `db:"error"            gorm:"column:error"`
	Note            string         `db:"note"             gorm:"column:note"`

	TotalRecipients int `db:"total_recipients" gorm:"column:total_recipients;not null;default:0"`
	SentCount       int `db:"sent_count"       gorm:"column:sent_count;not null;default:0"`
	FailedCount     int `db:"failed_count"     gorm:"column:failed_count;not null;default:0"`
	OpenedCount     int `db:"opened_count"     gorm:"column:opened_count;not null;default:0"`
	ClickedCount    int `db:"clicked_count"    gorm:"column:clicked_count;not null;default:0"`
	TotalBatches    int `db:"total_batches"    gorm:"column:total_batches;not null;default:0"`

	Batches []*CampaignBatchEntity `gorm:"foreignKey:CampaignID"`

	ScheduledAt       *time.Time `db:"scheduled_at"       gorm:"column:scheduled_at"`
	ProcessingStarted *time.Time `db:"processing_started" gorm:"column:processing_started"`
	CompletedAt       *time.Time `db:"completed_at"       gorm:"column:completed_at"`
	FailedAt          *time.Time `db:"failed_at"          gorm:"column:failed_at"`
	CreatedAt         time.Time  `db:"created_at"         gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time  `db:"updated_at"         gorm:"column:updated_at;autoUpdateTime"`
}

func (CampaignEntity) TableName() string {
	return "campaigns"
}

// CampaignBatchEntity is one recorded batch outcome. The composite unique
// index is the idempotency key for at-least-once batch jobs.
type CampaignBatchEntity struct {
	ID              int64      `db:"id"               gorm:"primaryKey;autoIncrement;column:id"`
	CampaignID      int64      `db:"campaign_id"      gorm:"column:campaign_id;not null;uniqueIndex:idx_campaign_batch"`
	BatchIndex      int        `db:"batch_index"      gorm:"column:batch_index;not null;uniqueIndex:idx_campaign_batch"`
	Total           int        `db:"total"            gorm:"column:total;not null"`
	Sent            int        `db:"sent"             gorm:"column:sent;not null"`
	Failed          int        `db:"failed"           gorm:"column:failed;not null"`
	DurationSeconds float64    `db:"duration_seconds" gorm:"column:duration_seconds;not null"`
	CompletedAt     *time.Time `db:"completed_at"     gorm:"column:completed_at"`
}

func (CampaignBatchEntity) TableName() string {
	return "campaign_batches"
}

func toCampaignEntity(c *model.Campaign) *CampaignEntity {
	if c == nil {
		return nil
	}
	e := &CampaignEntity{
		ID:                c.ID,
		Name:              c.Name,
		Subject:           c.Subject,
		TemplateID:        c.TemplateID,
		SegmentIDs:        pq.StringArray(c.SegmentIDs),
		Operator:          string(c.Operator),
		Status:            string(c.Status),
		Error:             c.Error,
		Note:              c.Note,
		TotalRecipients:   c.Statistics.TotalRecipients,
		SentCount:         c.Statistics.Sent,
		FailedCount:       c.Statistics.Failed,
		OpenedCount:       c.Statistics.Opened,
		ClickedCount:      c.Statistics.Clicked,
		TotalBatches:      c.TotalBatches,
		ScheduledAt:       c.ScheduledAt,
		ProcessingStarted: c.ProcessingStarted,
		CompletedAt:       c.CompletedAt,
		FailedAt:          c.FailedAt,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}
	if len(c.CustomFilters) > 0 {
		e.CustomFilters, _ = json.Marshal(c.CustomFilters)
	}
	if len(c.CustomVariables) > 0 {
		e.CustomVariables, _ = json.Marshal(c.CustomVariables)
	}
	return e
}

func toCampaignModel(e *CampaignEntity) *model.Campaign {
	if e == nil {
		return nil
	}
	c := &model.Campaign{
		ID:         e.ID,
		Name:       e.Name,
		Subject:    e.Subject,
		TemplateID: e.TemplateID,
		SegmentIDs: []string(e.SegmentIDs),
		Operator:   model.SegmentOperator(e.Operator),
		Status:     model.CampaignStatus(e.Status),
		Error:      e.Error,
		Note:       e.Note,
		Statistics: model.CampaignStatistics{
			TotalRecipients: e.TotalRecipients,
			Sent:            e.SentCount,
			Failed:          e.FailedCount,
			Opened:          e.OpenedCount,
			Clicked:         e.ClickedCount,
		},
		TotalBatches:      e.TotalBatches,
		ScheduledAt:       e.ScheduledAt,
		ProcessingStarted: e.ProcessingStarted,
		CompletedAt:       e.CompletedAt,
		FailedAt:          e.FailedAt,
		CreatedAt:         e.CreatedAt,
		UpdatedAt:         e.UpdatedAt,
	}
	if len(e.CustomFilters) > 0 {
		_ = json.Unmarshal(e.CustomFilters, &c.CustomFilters)
	}
	if len(e.CustomVariables) > 0 {
		_ = json.Unmarshal(e.CustomVariables, &c.CustomVariables)
	}
	for _, b := range e.Batches {
		c.Batches = append(c.Batches, toBatchResult(b))
	}
	return c
}

func toCampaignModels(entities []*CampaignEntity) []*model.Campaign {
	if entities == nil {
		return nil
	}
	models := make([]*model.Campaign, len(entities))
	for i, e := range entities {
		models[i] = toCampaignModel(e)
	}
	return models
}

func toBatchResult(e *CampaignBatchEntity) model.BatchResult {
	return model.BatchResult{
		BatchIndex:      e.BatchIndex,
		Total:           e.Total,
		Sent:            e.Sent,
		Failed:          e.Failed,
		DurationSeconds: e.DurationSeconds,
		CompletedAt:     e.CompletedAt,
	}
}

func toBatchEntity(campaignID int64, r model.BatchResult) *CampaignBatchEntity {
	return &CampaignBatchEntity{
		CampaignID:      campaignID,
		BatchIndex:      r.BatchIndex,
		Total:           r.Total,
		Sent:            r.Sent,
		Failed:          r.Failed,
		DurationSeconds: r.DurationSeconds,
		CompletedAt:     r.CompletedAt,
	}
}
