package dispatch

import (
	"context"
	"strconv"
	"time"

	"github.com/brightsend/campaign-dispatcher/internal/audience"
	"github.com/brightsend/campaign-dispatcher/internal/model"
	"github.com/brightsend/campaign-dispatcher/pkg/logger"
	"github.com/brightsend/campaign-dispatcher/pkg/prom"
	"github.com/pkg/errors"
)

// CampaignStore is the slice of campaign persistence the dispatcher
// needs. Transition methods report whether the conditional update
// applied; false means another actor moved the campaign first.
type CampaignStore interface {
	Get(ctx context.Context, id int64) (*model.Campaign, error)
	ListByStatus(ctx context.Context, status model.CampaignStatus) ([]*model.Campaign, error)
	MarkProcessing(ctx context.Context, id int64) (bool, error)
	SetTotalRecipients(ctx context.Context, id int64, total int) error
	MarkSending(ctx context.Context, id int64, totalBatches int) (bool, error)
	MarkFailed(ctx context.Context, id int64, errMsg string) (bool, error)
	MarkCompletedEmpty(ctx context.Context, id int64, note string) (bool, error)
	MarkCompleted(ctx context.Context, id int64) (bool, error)
	AppendBatchResult(ctx context.Context, campaignID int64, result model.BatchResult) error
	CountBatches(ctx context.Context, campaignID int64) (int64, error)
}

type TemplateStore interface {
	Get(ctx context.Context, id int64) (*model.Template, error)
}

type AudienceResolver interface {
	Resolve(ctx context.Context, req *audience.ResolveRequest) (*audience.ResolveResult, error)
}

// BatchPublisher enqueues batch jobs, optionally holding them back for
// a stagger delay.
type BatchPublisher interface {
	PublishJSON(ctx context.Context, data interface{}, metadata map[string]string) (string, error)
	PublishJSONDelayed(ctx context.Context, data interface{}, metadata map[string]string, delay time.Duration) (string, error)
}

// OrchestratorConfig tunes batch planning and pacing.
type OrchestratorConfig struct {
	BatchSize    int
	BatchStagger time.Duration
}

// Orchestrator runs the campaign processing pipeline: claim the
// campaign, resolve its audience, partition into batches and enqueue
// them with staggered fire times.
type Orchestrator struct {
	campaigns  CampaignStore
	templates  TemplateStore
	resolver   AudienceResolver
	batchQueue BatchPublisher
	config     OrchestratorConfig
}

func NewOrchestrator(campaigns CampaignStore, templates TemplateStore, resolver AudienceResolver, batchQueue BatchPublisher, config OrchestratorConfig) *Orchestrator {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	return &Orchestrator{
		campaigns:  campaigns,
		templates:  templates,
		resolver:   resolver,
		batchQueue: batchQueue,
		config:     config,
	}
}

// ProcessCampaign drives one campaign from queued to sending (or to a
// terminal state when the audience is empty or a prerequisite is
// missing). Re-invocations on a terminal campaign are no-ops. A nil
// return acks the job; an error nacks it for redelivery.
func (o *Orchestrator) ProcessCampaign(ctx context.Context, campaignID int64) error {
	applied, err := o.campaigns.MarkProcessing(ctx, campaignID)
	if err != nil {
		return errors.Wrap(err, "failed to mark campaign processing")
	}
	if !applied {
		// Already completed or failed; at-least-once delivery means
		// this is expected, not an error.
		logger.Info("Campaign already terminal, skipping", "campaign_id", campaignID)
		return nil
	}

	campaign, err := o.campaigns.Get(ctx, campaignID)
	if err != nil {
		return errors.Wrap(err, "failed to load campaign")
	}

	if _, err := o.templates.Get(ctx, campaign.TemplateID); err != nil {
		// Retrying cannot conjure the template; fail and ack.
		logger.Error("Campaign template missing", "campaign_id", campaignID, "template_id", campaign.TemplateID, "error", err)
		o.failCampaign(ctx, campaignID, "Template not found")
		return nil
	}

	result, err := o.resolver.Resolve(ctx, &audience.ResolveRequest{
		SegmentIDs:    campaign.SegmentIDs,
		CustomFilters: campaign.CustomFilters,
		Operator:      campaign.Operator,
		Limit:         0,
	})
	if err != nil {
		logger.Error("Failed to resolve campaign audience", "campaign_id", campaignID, "error", err)
		o.failCampaign(ctx, campaignID, "Failed to resolve recipients: "+err.Error())
		return nil
	}

	if len(result.Recipients) == 0 {
		logger.Info("Campaign has no matching recipients", "campaign_id", campaignID)
		if _, err := o.campaigns.MarkCompletedEmpty(ctx, campaignID, "No recipients matched the campaign criteria"); err != nil {
			return errors.Wrap(err, "failed to complete empty campaign")
		}
		prom.IncCampaignProcessed("completed_empty")
		return nil
	}

	if err := o.campaigns.SetTotalRecipients(ctx, campaignID, len(result.Recipients)); err != nil {
		return errors.Wrap(err, "failed to record recipient total")
	}

	batches := PlanBatches(campaign, result.Recipients, o.config.BatchSize)

	for _, batch := range batches {
		metadata := map[string]string{
			"campaign_id": formatID(batch.CampaignID),
			"batch_index": formatID(int64(batch.BatchIndex)),
		}
		delay := time.Duration(batch.BatchIndex) * o.config.BatchStagger
		if delay > 0 {
			_, err = o.batchQueue.PublishJSONDelayed(ctx, batch, metadata, delay)
		} else {
			_, err = o.batchQueue.PublishJSON(ctx, batch, metadata)
		}
		if err != nil {
			logger.Error("Failed to enqueue campaign batch", "campaign_id", campaignID, "batch_index", batch.BatchIndex, "error", err)
			o.failCampaign(ctx, campaignID, "Failed to enqueue batches: "+err.Error())
			return errors.Wrap(err, "failed to enqueue batch")
		}
	}

	if _, err := o.campaigns.MarkSending(ctx, campaignID, len(batches)); err != nil {
		return errors.Wrap(err, "failed to mark campaign sending")
	}

	prom.IncCampaignProcessed("dispatched")
	logger.Info("Campaign dispatched",
		"campaign_id", campaignID,
		"recipients", len(result.Recipients),
		"batches", len(batches),
		"stagger", o.config.BatchStagger)
	return nil
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func (o *Orchestrator) failCampaign(ctx context.Context, campaignID int64, reason string) {
	if _, err := o.campaigns.MarkFailed(ctx, campaignID, reason); err != nil {
		logger.Error("Failed to mark campaign failed", "campaign_id", campaignID, "error", err)
		return
	}
	prom.IncCampaignProcessed("failed")
}
