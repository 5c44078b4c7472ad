package repository

import (
	"encoding/json"
	"time"

	"github.com/brightsend/campaign-dispatcher/internal/model"
)

type TemplateEntity struct {
	ID            int64     `db:"id"             gorm:"primaryKey;autoIncrement;column:id"`
	Name          string    `db:"name"           gorm:"column:name;not null"`
	HTMLContent   string    `db:"html_content"   gorm:"column:html_content;not null"`
	Variables     []byte    `db:"variables"      gorm:"column:variables;type:jsonb"`
	LogoURL       string    `db:"logo_url"       gorm:"column:logo_url"`
	BackgroundURL string    `db:"background_url" gorm:"column:background_url"`
	CreatedAt     time.Time `db:"created_at"     gorm:"column:created_at;autoCreateTime"`
}

func (TemplateEntity) TableName() string {
	return "templates"
}

func toTemplateEntity(t *model.Template) *TemplateEntity {
	if t == nil {
		return nil
	}
	e := &TemplateEntity{
		ID:            t.ID,
		Name:          t.Name,
		HTMLContent:   t.HTMLContent,
		LogoURL:       t.LogoURL,
		BackgroundURL: t.BackgroundURL,
		CreatedAt:     t.CreatedAt,
	}
	if len(t.Variables) > 0 {
		e.Variables, _ = json.Marshal(t.Variables)
	}
	return e
}

func toTemplateModel(e *TemplateEntity) *model.Template {
	if e == nil {
		return nil
	}
	t := &model.Template{
		ID:            e.ID,
		Name:          e.Name,
		HTMLContent:   e.HTMLContent,
		LogoURL:       e.LogoURL,
		BackgroundURL: e.BackgroundURL,
		CreatedAt:     e.CreatedAt,
	}
	if len(e.Variables) > 0 {
		_ = json.Unmarshal(e.Variables, &t.Variables)
	}
	return t
}
