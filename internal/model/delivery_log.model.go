package model

import "time"

// DeliveryStatus is the lifecycle state of one attempted email.
type DeliveryStatus string

const (
	DeliveryStatusProcessing DeliveryStatus = "processing"
	DeliveryStatusSent       DeliveryStatus = "sent"
	DeliveryStatusFailed     DeliveryStatus = "failed"
)

// TrackedLink maps a rewritten link id back to its original URL.
type TrackedLink struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// ClickEvent is one recorded click on a tracked link.
type ClickEvent struct {
	LinkID    string    `json:"link_id"`
	URL       string    `json:"url"`
	ClickedAt time.Time `json:"clicked_at"`
}

// DeliveryLog is the audit record for one attempted email. It is created
// in "processing" before the transport attempt so a crash mid-send still
// leaves an auditable row, then updated to a terminal status.
type DeliveryLog struct {
	ID         int64                  `json:"id"`
	CampaignID int64                  `json:"campaign_id"`
	TemplateID int64                  `json:"template_id"`
	ToEmail    string                 `json:"to_email"`
	ToName     string                 `json:"to_name"`
	Subject    string                 `json:"subject"`
	TrackingID string                 `json:"tracking_id,omitempty"`
	Variables  map[string]interface{} `json:"variables,omitempty"`
	Status     DeliveryStatus         `json:"status"`
	Error      string                 `json:"error,omitempty"`

	TrackedLinks []TrackedLink `json:"tracked_links,omitempty"`
	Opened       bool          `json:"opened"`
	OpenedAt     *time.Time    `json:"opened_at,omitempty"`
	Clicks       []ClickEvent  `json:"clicks,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
	FailedAt  *time.Time `json:"failed_at,omitempty"`
}
