package mailer

import (
	"context"
	"errors"
	"time"

	"github.com/brightsend/campaign-dispatcher/internal/model"
	"github.com/brightsend/campaign-dispatcher/pkg/logger"
)

// ErrTemplateNotFound matches the repository sentinel at this boundary
// so the mailer does not depend on the repository package.
var ErrTemplateNotFound = errors.New("template not found")

type TemplateRepository interface {
	Get(ctx context.Context, id int64) (*model.Template, error)
}

type DeliveryLogRepository interface {
	Create(ctx context.Context, l *model.DeliveryLog) (*model.DeliveryLog, error)
	MarkSent(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, errMsg string) error
}

// BatchDeliveryResult aggregates per-recipient outcomes for one batch.
type BatchDeliveryResult struct {
	Success bool
	Sent    int
	Failed  int
	Total   int
}

// Config for the delivery adapter.
type Config struct {
	From            string
	TrackingEnabled bool
	TrackingBaseURL string
	// SendDelay paces sequential recipients to respect the transport's
	// rate limit. A pacing tunable, not a correctness requirement.
	SendDelay time.Duration
}

// Mailer is the delivery adapter: it renders, sends and logs each
// recipient of a batch. One recipient's failure never aborts the batch.
type Mailer struct {
	transport Transport
	templates TemplateRepository
	logs      DeliveryLogRepository
	config    Config
}

func NewMailer(transport Transport, templates TemplateRepository, logs DeliveryLogRepository, config Config) *Mailer {
	return &Mailer{
		transport: transport,
		templates: templates,
		logs:      logs,
		config:    config,
	}
}

// DeliverBatch sends one prepared batch. Failures are counted, not
// raised: a missing template fails every recipient with that reason and
// the result still lands in the campaign's batch records. When ctx is
// cancelled mid-batch the remaining recipients are not attempted and the
// partial counts are reported.
func (m *Mailer) DeliverBatch(ctx context.Context, recipients []model.BatchRecipient, subject string, templateID, campaignID int64) BatchDeliveryResult {
	result := BatchDeliveryResult{Total: len(recipients)}

	tmpl, err := m.templates.Get(ctx, templateID)
	if err != nil {
		reason := "Template not found"
		if !errors.Is(err, ErrTemplateNotFound) && err.Error() != reason {
			reason = err.Error()
		}
		logger.Error("Batch delivery failed to load template", "campaign_id", campaignID, "template_id", templateID, "error", err)
		m.failAll(ctx, recipients, subject, templateID, campaignID, reason)
		result.Failed = len(recipients)
		return result
	}

	for i, recipient := range recipients {
		if i > 0 && m.config.SendDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(m.config.SendDelay):
			}
		}
		if ctx.Err() != nil {
			logger.Warn("Batch delivery stopped early", "campaign_id", campaignID, "delivered", i, "total", len(recipients), "reason", ctx.Err())
			break
		}

		if m.deliverOne(ctx, recipient, subject, tmpl, campaignID) {
			result.Sent++
		} else {
			result.Failed++
		}
	}

	result.Success = result.Failed == 0
	return result
}

// deliverOne renders and sends a single email, writing the delivery log
// before the transport attempt so a crash mid-send still leaves an
// auditable "processing" row.
func (m *Mailer) deliverOne(ctx context.Context, recipient model.BatchRecipient, subject string, tmpl *model.Template, campaignID int64) bool {
	entry := &model.DeliveryLog{
		CampaignID: campaignID,
		TemplateID: tmpl.ID,
		ToEmail:    recipient.Email,
		ToName:     recipient.Name,
		Subject:    subject,
		Variables:  recipient.Variables,
		Status:     model.DeliveryStatusProcessing,
	}

	var trackingID string
	if m.config.TrackingEnabled {
		trackingID = NewTrackingID()
		entry.TrackingID = trackingID
	}

	data := mergeVariables(tmpl, recipient.Variables)
	html, renderErr := renderHTML(tmpl, data)

	var trackedLinks []model.TrackedLink
	if renderErr == nil && m.config.TrackingEnabled && m.config.TrackingBaseURL != "" {
		// Best effort: a rewrite problem must never fail the send.
		html, trackedLinks = RewriteLinks(html, m.config.TrackingBaseURL, trackingID)
		html = InjectPixel(html, m.config.TrackingBaseURL, trackingID)
		entry.TrackedLinks = trackedLinks
	}

	created, err := m.logs.Create(ctx, entry)
	if err != nil {
		logger.Error("Failed to create delivery log", "campaign_id", campaignID, "to", recipient.Email, "error", err)
		// Still attempt the send; auditability is degraded but delivery
		// should not silently stop.
		created = entry
	}

	if renderErr != nil {
		logger.Error("Failed to render template", "campaign_id", campaignID, "to", recipient.Email, "error", renderErr)
		m.markFailed(ctx, created, renderErr.Error())
		return false
	}

	if err := m.transport.Send(ctx, recipient.Email, m.config.From, subject, html); err != nil {
		logger.Warn("Delivery failed", "campaign_id", campaignID, "to", recipient.Email, "error", err)
		m.markFailed(ctx, created, err.Error())
		return false
	}

	if created.ID != 0 {
		if err := m.logs.MarkSent(ctx, created.ID); err != nil {
			logger.Error("Failed to mark delivery log sent", "log_id", created.ID, "error", err)
		}
	}
	return true
}

// failAll records a failed delivery log for every recipient with the
// same reason (template missing or unparsable).
func (m *Mailer) failAll(ctx context.Context, recipients []model.BatchRecipient, subject string, templateID, campaignID int64, reason string) {
	now := time.Now()
	for _, recipient := range recipients {
		entry := &model.DeliveryLog{
			CampaignID: campaignID,
			TemplateID: templateID,
			ToEmail:    recipient.Email,
			ToName:     recipient.Name,
			Subject:    subject,
			Variables:  recipient.Variables,
			Status:     model.DeliveryStatusFailed,
			Error:      reason,
			FailedAt:   &now,
		}
		if _, err := m.logs.Create(ctx, entry); err != nil {
			logger.Error("Failed to create delivery log", "campaign_id", campaignID, "to", recipient.Email, "error", err)
		}
	}
}

func (m *Mailer) markFailed(ctx context.Context, entry *model.DeliveryLog, reason string) {
	if entry.ID == 0 {
		return
	}
	if err := m.logs.MarkFailed(ctx, entry.ID, reason); err != nil {
		logger.Error("Failed to mark delivery log failed", "log_id", entry.ID, "error", err)
	}
}
