package model

import (
	"errors"
	"time"
)

// CampaignStatus is the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignStatusDraft      CampaignStatus = "draft"
	CampaignStatusQueued     CampaignStatus = "queued"
	CampaignStatusProcessing CampaignStatus = "processing"
	CampaignStatusSending    CampaignStatus = "sending"
	CampaignStatusCompleted  CampaignStatus = "completed"
	CampaignStatusFailed     CampaignStatus = "failed"
)

// SegmentOperator combines multiple segment/filter criteria.
type SegmentOperator string

const (
	OperatorAnd SegmentOperator = "AND"
	OperatorOr  SegmentOperator = "OR"
)

type Campaign struct {
	ID              int64                  `json:"id"`
	Name            string                 `json:"name"`
	Subject         string                 `json:"subject"`
	TemplateID      int64                  `json:"template_id"`
	SegmentIDs      []string               `json:"segment_ids"`
	CustomFilters   map[string]interface{} `json:"custom_filters,omitempty"`
	Operator        SegmentOperator        `json:"operator"`
	CustomVariables map[string]interface{} `json:"custom_variables,omitempty"`
	Status          CampaignStatus         `json:"status"`
	Error           string                 `json:"error,omitempty"`
	Note            string                 `json:"note,omitempty"`

	Statistics CampaignStatistics `json:"statistics"`

	TotalBatches int           `json:"total_batches"`
	Batches      []BatchResult `json:"batches,omitempty"`

	ScheduledAt        *time.Time `json:"scheduled_at,omitempty"`
	ProcessingStarted  *time.Time `json:"processing_started,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	FailedAt           *time.Time `json:"failed_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// CampaignStatistics is a derived rollup over delivery outcomes. The
// running sent/failed counters are advisory; the terminal recompute at
// completion is authoritative.
type CampaignStatistics struct {
	TotalRecipients int `json:"total_recipients"`
	Sent            int `json:"sent"`
	Failed          int `json:"failed"`
	Opened          int `json:"opened"`
	Clicked         int `json:"clicked"`
}

// BatchResult records the outcome of one delivered batch. Exactly one
// result may exist per (campaign, batch_index).
type BatchResult struct {
	BatchIndex      int        `json:"batch_index"`
	Total           int        `json:"total"`
	Sent            int        `json:"sent"`
	Failed          int        `json:"failed"`
	DurationSeconds float64    `json:"duration_seconds"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// IsTerminal reports whether no further status transition is permitted.
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignStatusCompleted || s == CampaignStatusFailed
}

// NonTerminalStatuses returns the statuses a campaign can still move
// out of. Conditional status updates use it as their WHERE guard.
func NonTerminalStatuses() []CampaignStatus {
	all := []CampaignStatus{
		CampaignStatusDraft,
		CampaignStatusQueued,
		CampaignStatusProcessing,
		CampaignStatusSending,
		CampaignStatusCompleted,
		CampaignStatusFailed,
	}
	out := make([]CampaignStatus, 0, len(all))
	for _, s := range all {
		if !s.IsTerminal() {
			out = append(out, s)
		}
	}
	return out
}

// CampaignCreateRequest is the input for creating a campaign.
type CampaignCreateRequest struct {
	Name            string
	Subject         string
	TemplateID      int64
	SegmentIDs      []string
	CustomFilters   map[string]interface{}
	Operator        SegmentOperator
	CustomVariables map[string]interface{}
	ScheduledAt     *time.Time
}

func (p CampaignCreateRequest) Validate() error {
	if p.Name == "" {
		return errors.New("name is required")
	}
	if p.Subject == "" {
		return errors.New("subject is required")
	}
	if p.TemplateID == 0 {
		return errors.New("template_id is required")
	}
	if len(p.SegmentIDs) == 0 && len(p.CustomFilters) == 0 {
		return errors.New("segment_ids or custom_filters are required")
	}
	if p.Operator != "" && p.Operator != OperatorAnd && p.Operator != OperatorOr {
		return errors.New("operator must be AND or OR")
	}
	return nil
}

// CampaignFilter controls List queries.
type CampaignFilter struct {
	Statuses []CampaignStatus
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
	Desc     bool
}
