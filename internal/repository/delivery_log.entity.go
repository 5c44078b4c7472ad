package repository

import (
	"encoding/json"
	"time"

	"github.com/brightsend/campaign-dispatcher/internal/model"
)

type DeliveryLogEntity struct {
	ID         int64  `db:"id"          gorm:"primaryKey;autoIncrement;column:id"`
	CampaignID int64  `db:"campaign_id" gorm:"column:campaign_id;not null;index"`
	TemplateID int64  `db:"template_id" gorm:"column:template_id;not null"`
	ToEmail    string `db:"to_email"    gorm:"column:to_email;not null"`
	ToName     string `db:"to_name"     gorm:"column:to_name"`
	Subject    string `db:"subject"     gorm:"column:subject"`
	TrackingID string `db:"tracking_id" gorm:"column:tracking_id;index"`
	Variables  []byte `db:"variables"   gorm:"column:variables;type:jsonb"`
	Status     string `db:"status"      gorm:"column:status;not null;index"`
	Error      string `db:"error"       gorm:"column:error"`

	TrackedLinks []byte     `db:"tracked_links" gorm:"column:tracked_links;type:jsonb"`
	Opened       bool       `db:"opened"        gorm:"column:opened;not null;default:false"`
	OpenedAt     *time.Time `db:"opened_at"     gorm:"column:opened_at"`
	Clicks       []byte     `db:"clicks"        gorm:"column:clicks;type:jsonb"`

	CreatedAt time.Time  `db:"created_at" gorm:"column:created_at;autoCreateTime"`
	SentAt    *time.Time `db:"sent_at"    gorm:"column:sent_at"`
	FailedAt  *time.Time `db:"failed_at"  gorm:"column:failed_at"`
}

func (DeliveryLogEntity) TableName() string {
	return "delivery_logs"
}

func toDeliveryLogEntity(l *model.DeliveryLog) *DeliveryLogEntity {
	if l == nil {
		return nil
	}
	e := &DeliveryLogEntity{
		ID:         l.ID,
		CampaignID: l.CampaignID,
		TemplateID: l.TemplateID,
		ToEmail:    l.ToEmail,
		ToName:     l.ToName,
		Subject:    l.Subject,
		TrackingID: l.TrackingID,
		Status:     string(l.Status),
		Error:      l.Error,
		Opened:     l.Opened,
		OpenedAt:   l.OpenedAt,
		CreatedAt:  l.CreatedAt,
		SentAt:     l.SentAt,
		FailedAt:   l.FailedAt,
	}
	if len(l.Variables) > 0 {
		e.Variables, _ = json.Marshal(l.Variables)
	}
	if len(l.TrackedLinks) > 0 {
		e.TrackedLinks, _ = json.Marshal(l.TrackedLinks)
	}
	if len(l.Clicks) > 0 {
		e.Clicks, _ = json.Marshal(l.Clicks)
	}
	return e
}

func toDeliveryLogModel(e *DeliveryLogEntity) *model.DeliveryLog {
	if e == nil {
		return nil
	}
	l := &model.DeliveryLog{
		ID:         e.ID,
		CampaignID: e.CampaignID,
		TemplateID: e.TemplateID,
		ToEmail:    e.ToEmail,
		ToName:     e.ToName,
		Subject:    e.Subject,
		TrackingID: e.TrackingID,
		Status:     model.DeliveryStatus(e.Status),
		Error:      e.Error,
		Opened:     e.Opened,
		OpenedAt:   e.OpenedAt,
		CreatedAt:  e.CreatedAt,
		SentAt:     e.SentAt,
		FailedAt:   e.FailedAt,
	}
	if len(e.Variables) > 0 {
		_ = json.Unmarshal(e.Variables, &l.Variables)
	}
	if len(e.TrackedLinks) > 0 {
		_ = json.Unmarshal(e.TrackedLinks, &l.TrackedLinks)
	}
	if len(e.Clicks) > 0 {
		_ = json.Unmarshal(e.Clicks, &l.Clicks)
	}
	return l
}
