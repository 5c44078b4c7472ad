package model

// Recipient is one resolved member of a campaign's audience. Profile
// holds arbitrary fields (totalSpent, purchaseCount, ...) usable as
// template variables.
type Recipient struct {
	Name    string                 `json:"name"`
	Email   string                 `json:"email"`
	Profile map[string]interface{} `json:"profile,omitempty"`
}

// BatchRecipient is a recipient prepared for one batch job, with its
// personalization variables already merged.
type BatchRecipient struct {
	Email     string                 `json:"email"`
	Name      string                 `json:"name"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

// CampaignJob is the payload of a process_campaign queue job.
type CampaignJob struct {
	CampaignID int64 `json:"campaign_id"`
}

// BatchJob is the payload of a send_campaign_batch queue job.
type BatchJob struct {
	CampaignID int64            `json:"campaign_id"`
	BatchIndex int              `json:"batch_index"`
	Subject    string           `json:"subject"`
	TemplateID int64            `json:"template_id"`
	Recipients []BatchRecipient `json:"recipients"`
}
