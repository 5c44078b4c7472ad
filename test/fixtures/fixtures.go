package fixtures

import (
	"fmt"
	"time"

	"github.com/brightsend/campaign-dispatcher/internal/model"
)

const TestTemplateHTML = `<html><body>
<h1>Hello {{.name}}!</h1>
<p>Check out <a href="https://shop.example.com/sale">our sale</a>.</p>
</body></html>`

func NewTestTemplate(id int64) *model.Template {
	return &model.Template{
		ID:          id,
		Name:        "test-template",
		HTMLContent: TestTemplateHTML,
		Variables:   map[string]interface{}{"name": "there"},
		CreatedAt:   time.Now(),
	}
}

func NewTestCampaign(id, templateID int64, status model.CampaignStatus) *model.Campaign {
	return &model.Campaign{
		ID:         id,
		Name:       "Test Campaign",
		Subject:    "Big news",
		TemplateID: templateID,
		SegmentIDs: []string{"high-value"},
		Operator:   model.OperatorAnd,
		Status:     status,
		CreatedAt:  time.Now(),
	}
}

func NewTestCampaignCreateRequest(templateID int64) model.CampaignCreateRequest {
	return model.CampaignCreateRequest{
		Name:       "Test Campaign",
		Subject:    "Big news",
		TemplateID: templateID,
		SegmentIDs: []string{"high-value"},
		Operator:   model.OperatorAnd,
	}
}

// NewTestRecipients returns n distinct recipients with simple profiles.
func NewTestRecipients(n int) []model.Recipient {
	recipients := make([]model.Recipient, 0, n)
	for i := 0; i < n; i++ {
		recipients = append(recipients, model.Recipient{
			Name:  fmt.Sprintf("User %d", i),
			Email: fmt.Sprintf("user%d@example.com", i),
			Profile: map[string]interface{}{
				"totalSpent": i * 10,
			},
		})
	}
	return recipients
}

func NewTestBatchRecipients(n int) []model.BatchRecipient {
	recipients := make([]model.BatchRecipient, 0, n)
	for i := 0; i < n; i++ {
		recipients = append(recipients, model.BatchRecipient{
			Name:  fmt.Sprintf("User %d", i),
			Email: fmt.Sprintf("user%d@example.com", i),
			Variables: map[string]interface{}{
				"name": fmt.Sprintf("User %d", i),
			},
		})
	}
	return recipients
}

func NewTestDeliveryLog(campaignID, templateID int64, email string) *model.DeliveryLog {
	return &model.DeliveryLog{
		CampaignID: campaignID,
		TemplateID: templateID,
		ToEmail:    email,
		Subject:    "Big news",
		Status:     model.DeliveryStatusProcessing,
	}
}

func CampaignFilterByStatus(statuses ...model.CampaignStatus) model.CampaignFilter {
	return model.CampaignFilter{
		Statuses: statuses,
		Limit:    50,
		Offset:   0,
		Desc:     false,
	}
}
