package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/brightsend/campaign-dispatcher/internal/mailer"
	"github.com/brightsend/campaign-dispatcher/internal/model"
	"github.com/brightsend/campaign-dispatcher/internal/queue"
	"github.com/brightsend/campaign-dispatcher/internal/repository"
	"github.com/brightsend/campaign-dispatcher/pkg/logger"
	"github.com/brightsend/campaign-dispatcher/pkg/prom"
)

// BatchMailer delivers one prepared batch of recipients.
type BatchMailer interface {
	DeliverBatch(ctx context.Context, recipients []model.BatchRecipient, subject string, templateID, campaignID int64) mailer.BatchDeliveryResult
}

// BatchProcessor consumes send-batch jobs: deliver every recipient,
// then record the batch result exactly once per (campaign, index).
type BatchProcessor struct {
	mailer      BatchMailer
	campaigns   CampaignStore
	idempotency *IdempotencyService
}

func NewBatchProcessor(batchMailer BatchMailer, campaigns CampaignStore, idempotency *IdempotencyService) *BatchProcessor {
	return &BatchProcessor{
		mailer:      batchMailer,
		campaigns:   campaigns,
		idempotency: idempotency,
	}
}

func (p *BatchProcessor) GetType() string {
	return "batch"
}

func (p *BatchProcessor) Process(ctx context.Context, queueMessage *queue.Message) error {
	var job model.BatchJob
	if err := json.Unmarshal(queueMessage.Data, &job); err != nil {
		logger.Error("Failed to unmarshal batch job", "error", err)
		return err // malformed payload goes to the DLQ
	}

	jobKey := BatchKey(job.CampaignID, job.BatchIndex)

	procCtx, err := p.idempotency.AcquireProcessingLock(ctx, jobKey)
	if err != nil {
		if errors.Is(err, ErrAlreadyProcessed) {
			logger.Info("Batch already processed, skipping", "campaign_id", job.CampaignID, "batch_index", job.BatchIndex)
			return nil
		}
		if errors.Is(err, ErrMaxRetriesExceeded) {
			// The batch record keeps the campaign's books right even
			// when delivery gave up.
			logger.Error("Batch exhausted retries", "campaign_id", job.CampaignID, "batch_index", job.BatchIndex)
			p.recordBatch(ctx, job, mailer.BatchDeliveryResult{Failed: len(job.Recipients), Total: len(job.Recipients)}, 0)
			return nil
		}
		if errors.Is(err, ErrLockAcquireFailed) {
			logger.Info("Batch locked by another consumer, will retry", "campaign_id", job.CampaignID, "batch_index", job.BatchIndex)
			return errors.New("lock held by another consumer")
		}
		return err
	}

	defer func() {
		if procCtx.lockAcquired {
			p.idempotency.ReleaseLock(ctx, procCtx)
		}
	}()

	logger.Info("Delivering batch",
		"campaign_id", job.CampaignID,
		"batch_index", job.BatchIndex,
		"recipients", len(job.Recipients),
		"retry_count", procCtx.RetryCount)

	start := time.Now()
	result := p.mailer.DeliverBatch(ctx, job.Recipients, job.Subject, job.TemplateID, job.CampaignID)
	duration := time.Since(start)

	prom.ObserveBatchSendDuration(duration.Seconds())
	prom.AddEmailsSent(float64(result.Sent))
	prom.AddEmailsFailed(float64(result.Failed))

	if err := p.recordBatch(ctx, job, result, duration); err != nil {
		if markErr := p.idempotency.MarkFailure(ctx, procCtx, err); markErr != nil {
			logger.Error("Failed to mark batch failure", "campaign_id", job.CampaignID, "batch_index", job.BatchIndex, "error", markErr)
		}
		return err
	}

	if err := p.idempotency.MarkSuccess(ctx, procCtx); err != nil {
		logger.Error("Failed to mark batch success", "campaign_id", job.CampaignID, "batch_index", job.BatchIndex, "error", err)
		// The unique batch index makes a redelivery a recorded no-op.
	}

	logger.Info("Batch delivered",
		"campaign_id", job.CampaignID,
		"batch_index", job.BatchIndex,
		"sent", result.Sent,
		"failed", result.Failed,
		"duration", duration)
	return nil
}

// recordBatch appends the batch outcome to the campaign. A duplicate
// record means another consumer already delivered this batch, which
// under at-least-once delivery is a clean no-op.
func (p *BatchProcessor) recordBatch(ctx context.Context, job model.BatchJob, result mailer.BatchDeliveryResult, duration time.Duration) error {
	now := time.Now()
	err := p.campaigns.AppendBatchResult(ctx, job.CampaignID, model.BatchResult{
		BatchIndex:      job.BatchIndex,
		Total:           result.Total,
		Sent:            result.Sent,
		Failed:          result.Failed,
		DurationSeconds: duration.Seconds(),
		CompletedAt:     &now,
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateBatch) {
			logger.Info("Batch result already recorded", "campaign_id", job.CampaignID, "batch_index", job.BatchIndex)
			return nil
		}
		logger.Error("Failed to record batch result", "campaign_id", job.CampaignID, "batch_index", job.BatchIndex, "error", err)
		return err
	}
	return nil
}
