package dispatch

import (
	"github.com/brightsend/campaign-dispatcher/internal/model"
)

const DefaultBatchSize = 50

// PlanBatches partitions the resolved audience into contiguous batch
// jobs of at most batchSize recipients. Recipients travel by value in
// the job payload so a batch needs no further audience lookup. Each
// recipient's variables are its profile fields plus name/email, with
// the campaign's custom variables layered on top.
func PlanBatches(c *model.Campaign, recipients []model.Recipient, batchSize int) []model.BatchJob {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	total := len(recipients)
	if total == 0 {
		return nil
	}

	batchCount := (total + batchSize - 1) / batchSize
	jobs := make([]model.BatchJob, 0, batchCount)

	for i := 0; i < batchCount; i++ {
		start := i * batchSize
		end := start + batchSize
		if end > total {
			end = total
		}

		chunk := recipients[start:end]
		prepared := make([]model.BatchRecipient, 0, len(chunk))
		for _, r := range chunk {
			prepared = append(prepared, model.BatchRecipient{
				Email:     r.Email,
				Name:      r.Name,
				Variables: recipientVariables(c, r),
			})
		}

		jobs = append(jobs, model.BatchJob{
			CampaignID: c.ID,
			BatchIndex: i,
			Subject:    c.Subject,
			TemplateID: c.TemplateID,
			Recipients: prepared,
		})
	}

	return jobs
}

// recipientVariables flattens the recipient profile into template
// variables. Campaign-level custom variables win over profile fields.
func recipientVariables(c *model.Campaign, r model.Recipient) map[string]interface{} {
	vars := make(map[string]interface{}, len(r.Profile)+len(c.CustomVariables)+2)
	for k, v := range r.Profile {
		vars[k] = v
	}
	vars["name"] = r.Name
	vars["email"] = r.Email
	for k, v := range c.CustomVariables {
		vars[k] = v
	}
	return vars
}
