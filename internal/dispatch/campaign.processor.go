package dispatch

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/brightsend/campaign-dispatcher/internal/model"
	"github.com/brightsend/campaign-dispatcher/internal/queue"
	"github.com/brightsend/campaign-dispatcher/pkg/logger"
)

// CampaignProcessor consumes process-campaign jobs and hands them to
// the orchestrator under an idempotency lock.
type CampaignProcessor struct {
	orchestrator *Orchestrator
	idempotency  *IdempotencyService
}

func NewCampaignProcessor(orchestrator *Orchestrator, idempotency *IdempotencyService) *CampaignProcessor {
	return &CampaignProcessor{
		orchestrator: orchestrator,
		idempotency:  idempotency,
	}
}

func (p *CampaignProcessor) GetType() string {
	return "campaign"
}

// Process runs one process-campaign job. Returning nil acks the queue
// message; an error nacks it for redelivery.
func (p *CampaignProcessor) Process(ctx context.Context, queueMessage *queue.Message) error {
	var job model.CampaignJob
	if err := json.Unmarshal(queueMessage.Data, &job); err != nil {
		logger.Error("Failed to unmarshal campaign job", "error", err)
		return err // malformed payload goes to the DLQ
	}

	jobKey := CampaignKey(job.CampaignID)

	procCtx, err := p.idempotency.AcquireProcessingLock(ctx, jobKey)
	if err != nil {
		if errors.Is(err, ErrAlreadyProcessed) {
			logger.Info("Campaign job already processed, skipping", "campaign_id", job.CampaignID)
			return nil
		}
		if errors.Is(err, ErrMaxRetriesExceeded) {
			logger.Error("Campaign job exhausted retries", "campaign_id", job.CampaignID)
			p.orchestrator.failCampaign(ctx, job.CampaignID, "Campaign processing exhausted retries")
			return nil // ack so the DLQ policy takes over
		}
		if errors.Is(err, ErrLockAcquireFailed) {
			logger.Info("Campaign job locked by another consumer, will retry", "campaign_id", job.CampaignID)
			return errors.New("lock held by another consumer")
		}
		return err
	}

	defer func() {
		if procCtx.lockAcquired {
			p.idempotency.ReleaseLock(ctx, procCtx)
		}
	}()

	logger.Info("Processing campaign job",
		"campaign_id", job.CampaignID,
		"retry_count", procCtx.RetryCount,
		"is_retry", procCtx.IsRetry)

	if err := p.orchestrator.ProcessCampaign(ctx, job.CampaignID); err != nil {
		if markErr := p.idempotency.MarkFailure(ctx, procCtx, err); markErr != nil {
			logger.Error("Failed to mark campaign job failure", "campaign_id", job.CampaignID, "error", markErr)
		}
		return err
	}

	if err := p.idempotency.MarkSuccess(ctx, procCtx); err != nil {
		logger.Error("Failed to mark campaign job success", "campaign_id", job.CampaignID, "error", err)
		// Campaign is dispatched; a redelivery hits the terminal no-op.
	}
	return nil
}
