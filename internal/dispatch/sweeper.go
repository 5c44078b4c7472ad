package dispatch

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/brightsend/campaign-dispatcher/internal/model"
	"github.com/brightsend/campaign-dispatcher/pkg/logger"
	"github.com/brightsend/campaign-dispatcher/pkg/prom"
	"github.com/brightsend/campaign-dispatcher/pkg/redis"
)

// ScheduledSetKey holds campaign IDs scored by their scheduled fire
// time. PendingListKey holds campaign IDs queued for immediate launch.
// The API side writes both; the sweeper drains them.
const (
	ScheduledSetKey = "campaigns:scheduled"
	PendingListKey  = "campaigns:pending"
)

// CampaignPublisher enqueues process-campaign jobs.
type CampaignPublisher interface {
	PublishJSON(ctx context.Context, data interface{}, metadata map[string]string) (string, error)
}

// ScheduleSweeperConfig tunes the scheduling sweep.
type ScheduleSweeperConfig struct {
	Interval time.Duration
	// QueuedBatch caps how many immediately-pending campaigns one sweep
	// launches.
	QueuedBatch int
}

// ScheduleSweeper periodically promotes due scheduled campaigns and a
// bounded slice of the pending list into the campaign queue. A member
// is published first and only then removed from the scheduled set, so
// a crash between the two redelivers instead of losing the campaign.
// The duplicate publish that redelivery can cause is absorbed
// downstream: the processing lock and the terminal-status no-op make a
// second process-campaign job harmless.
type ScheduleSweeper struct {
	adapter redis.RedisAdapter
	queue   CampaignPublisher
	config  ScheduleSweeperConfig

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewScheduleSweeper(adapter redis.RedisAdapter, queue CampaignPublisher, config ScheduleSweeperConfig) *ScheduleSweeper {
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if config.QueuedBatch <= 0 {
		config.QueuedBatch = 5
	}
	return &ScheduleSweeper{
		adapter: adapter,
		queue:   queue,
		config:  config,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

func (s *ScheduleSweeper) Start() {
	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(s.config.Interval)
		defer ticker.Stop()

		logger.Info("Schedule sweeper started", "interval", s.config.Interval)
		for {
			select {
			case <-ticker.C:
				s.Sweep(context.Background())
			case <-s.stopCh:
				return
			}
		}
	}()
}

func (s *ScheduleSweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}

// Sweep runs one pass: due scheduled campaigns first, then up to
// QueuedBatch pending ones. One bad entry never blocks the rest.
func (s *ScheduleSweeper) Sweep(ctx context.Context) {
	s.sweepScheduled(ctx)
	s.sweepPending(ctx)
}

func (s *ScheduleSweeper) sweepScheduled(ctx context.Context) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	members, err := s.adapter.ZRangeByScore(ScheduledSetKey, "-inf", now, 0)
	if err != nil {
		logger.Error("Failed to read scheduled campaigns", "error", err)
		return
	}

	for _, member := range members {
		if err := s.launch(ctx, member); err != nil {
			// The member stays in the set; the next sweep retries it.
			continue
		}

		if _, err := s.adapter.ZRem(ScheduledSetKey, member); err != nil {
			// The next sweep republishes; the batch jobs it would spawn
			// are deduplicated by the processing lock.
			logger.Error("Failed to remove launched campaign from schedule", "member", member, "error", err)
		}
	}
}

func (s *ScheduleSweeper) sweepPending(ctx context.Context) {
	for i := 0; i < s.config.QueuedBatch; i++ {
		member, err := s.adapter.LPop(PendingListKey)
		if err != nil {
			if err != redis.NilError {
				logger.Error("Failed to pop pending campaign", "error", err)
			}
			return
		}

		if err := s.launch(ctx, member); err != nil {
			if readdErr := s.adapter.RPush(PendingListKey, member); readdErr != nil {
				logger.Error("Failed to requeue pending campaign", "member", member, "error", readdErr)
			}
			return
		}
	}
}

func (s *ScheduleSweeper) launch(ctx context.Context, member string) error {
	campaignID, err := strconv.ParseInt(member, 10, 64)
	if err != nil {
		// Unparsable entries are dropped; requeueing them would loop
		// forever.
		logger.Error("Dropping malformed schedule entry", "member", member, "error", err)
		return nil
	}

	_, err = s.queue.PublishJSON(ctx, model.CampaignJob{CampaignID: campaignID}, map[string]string{
		"campaign_id": member,
	})
	if err != nil {
		logger.Error("Failed to launch campaign", "campaign_id", campaignID, "error", err)
		return err
	}

	logger.Info("Campaign launched", "campaign_id", campaignID)
	return nil
}

// CompletionSweeperConfig tunes the completion sweep.
type CompletionSweeperConfig struct {
	Interval time.Duration
	// SendingTimeout finalizes campaigns stuck in sending, typically
	// because a batch job was lost past its retry budget.
	SendingTimeout time.Duration
}

// CompletionSweeper finalizes sending campaigns whose batches have all
// reported, and force-completes those sending for longer than the
// timeout. The terminal recompute inside MarkCompleted makes the final
// statistics authoritative regardless of which path completed it.
type CompletionSweeper struct {
	campaigns CampaignStore
	config    CompletionSweeperConfig

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewCompletionSweeper(campaigns CampaignStore, config CompletionSweeperConfig) *CompletionSweeper {
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if config.SendingTimeout <= 0 {
		config.SendingTimeout = 24 * time.Hour
	}
	return &CompletionSweeper{
		campaigns: campaigns,
		config:    config,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

func (s *CompletionSweeper) Start() {
	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(s.config.Interval)
		defer ticker.Stop()

		logger.Info("Completion sweeper started", "interval", s.config.Interval, "sending_timeout", s.config.SendingTimeout)
		for {
			select {
			case <-ticker.C:
				s.Sweep(context.Background())
			case <-s.stopCh:
				return
			}
		}
	}()
}

func (s *CompletionSweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}

// Sweep finalizes every sending campaign that is done or timed out.
func (s *CompletionSweeper) Sweep(ctx context.Context) {
	campaigns, err := s.campaigns.ListByStatus(ctx, model.CampaignStatusSending)
	if err != nil {
		logger.Error("Failed to list sending campaigns", "error", err)
		return
	}

	for _, c := range campaigns {
		if done, reason := s.shouldComplete(ctx, c); done {
			applied, err := s.campaigns.MarkCompleted(ctx, c.ID)
			if err != nil {
				logger.Error("Failed to complete campaign", "campaign_id", c.ID, "error", err)
				continue
			}
			if applied {
				prom.IncCampaignProcessed("completed")
				logger.Info("Campaign completed", "campaign_id", c.ID, "reason", reason)
			}
		}
	}
}

func (s *CompletionSweeper) shouldComplete(ctx context.Context, c *model.Campaign) (bool, string) {
	if c.TotalBatches > 0 {
		count, err := s.campaigns.CountBatches(ctx, c.ID)
		if err != nil {
			logger.Warn("Failed to count campaign batches", "campaign_id", c.ID, "error", err)
		} else if count >= int64(c.TotalBatches) {
			return true, "all batches reported"
		}
	}

	started := c.ProcessingStarted
	if started != nil && time.Since(*started) > s.config.SendingTimeout {
		return true, "sending timeout"
	}

	return false, ""
}
