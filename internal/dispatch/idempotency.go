package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brightsend/campaign-dispatcher/pkg/logger"
	"github.com/brightsend/campaign-dispatcher/pkg/redis"
)

var (
	ErrAlreadyProcessed   = errors.New("job already processed")
	ErrLockAcquireFailed  = errors.New("failed to acquire processing lock")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
)

type IdempotencyConfig struct {
	LockTTL time.Duration

	ProcessedTTL time.Duration

	MaxRetries int

	RetryKeyPrefix string

	LockKeyPrefix string

	ProcessedKeyPrefix string
}

func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		LockTTL:            5 * time.Minute,
		ProcessedTTL:       24 * time.Hour,
		MaxRetries:         3,
		RetryKeyPrefix:     "retry:",
		LockKeyPrefix:      "lock:",
		ProcessedKeyPrefix: "processed:",
	}
}

// IdempotencyService guards at-least-once queue delivery: a short lock
// prevents two consumers working the same job, a long-lived processed
// marker absorbs redeliveries of finished jobs.
type IdempotencyService struct {
	redis  redis.RedisAdapter
	config IdempotencyConfig
}

func NewIdempotencyService(redisAdapter redis.RedisAdapter, config IdempotencyConfig) *IdempotencyService {
	return &IdempotencyService{
		redis:  redisAdapter,
		config: config,
	}
}

// BatchKey is the idempotency key for one batch job.
func BatchKey(campaignID int64, batchIndex int) string {
	return fmt.Sprintf("campaign:%d:batch:%d", campaignID, batchIndex)
}

// CampaignKey is the idempotency key for a process-campaign job.
func CampaignKey(campaignID int64) string {
	return fmt.Sprintf("campaign:%d:process", campaignID)
}

type ProcessingContext struct {
	JobKey       string
	RetryCount   int
	IsRetry      bool
	lockAcquired bool
	service      *IdempotencyService
}

func (s *IdempotencyService) AcquireProcessingLock(ctx context.Context, jobKey string) (*ProcessingContext, error) {
	// Long-term marker first: finished jobs are acked without work.
	processedKey := s.config.ProcessedKeyPrefix + jobKey
	exists, err := s.redis.Exist(processedKey)
	if err != nil {
		logger.Warn("Failed to check processed status", "job", jobKey, "error", err)
		// Continue even if check fails - better to risk duplicate than block processing
	} else if exists > 0 {
		return nil, ErrAlreadyProcessed
	}

	retryKey := s.config.RetryKeyPrefix + jobKey
	retryCountBytes, err := s.redis.Get(retryKey)
	retryCount := 0
	if err == nil && len(retryCountBytes) > 0 {
		fmt.Sscanf(string(retryCountBytes), "%d", &retryCount)
	}

	if retryCount >= s.config.MaxRetries {
		logger.Error("Max retries exceeded for job", "job", jobKey, "retry_count", retryCount)
		return nil, fmt.Errorf("%w: job=%s, retries=%d", ErrMaxRetriesExceeded, jobKey, retryCount)
	}

	lockKey := s.config.LockKeyPrefix + jobKey
	lockValue := []byte(fmt.Sprintf("%d", time.Now().UnixNano()))

	acquired, err := s.redis.SetNX(lockKey, lockValue, s.config.LockTTL)
	if err != nil {
		logger.Error("Failed to acquire lock", "job", jobKey, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrLockAcquireFailed, err)
	}

	if !acquired {
		logger.Info("Lock already held by another consumer", "job", jobKey)
		return nil, ErrLockAcquireFailed
	}

	return &ProcessingContext{
		JobKey:       jobKey,
		RetryCount:   retryCount,
		IsRetry:      retryCount > 0,
		lockAcquired: true,
		service:      s,
	}, nil
}

func (s *IdempotencyService) MarkSuccess(ctx context.Context, pc *ProcessingContext) error {
	processedKey := s.config.ProcessedKeyPrefix + pc.JobKey
	err := s.redis.Set(processedKey, []byte("1"), s.config.ProcessedTTL)
	if err != nil {
		logger.Error("Failed to mark job as processed", "job", pc.JobKey, "error", err)
		return fmt.Errorf("failed to mark as processed: %w", err)
	}

	s.cleanup(ctx, pc)
	return nil
}

func (s *IdempotencyService) MarkFailure(ctx context.Context, pc *ProcessingContext, reason error) error {
	retryKey := s.config.RetryKeyPrefix + pc.JobKey
	newRetryCount := pc.RetryCount + 1
	retryValue := []byte(fmt.Sprintf("%d", newRetryCount))

	// Keep retry counter for longer to track across retries
	err := s.redis.Set(retryKey, retryValue, s.config.ProcessedTTL)
	if err != nil {
		logger.Error("Failed to increment retry counter", "job", pc.JobKey, "error", err)
	}

	lockKey := s.config.LockKeyPrefix + pc.JobKey
	if err := s.redis.Del(lockKey); err != nil {
		logger.Warn("Failed to remove lock", "job", pc.JobKey, "error", err)
	}
	pc.lockAcquired = false

	logger.Warn("Job processing failed, will retry",
		"job", pc.JobKey,
		"retry_count", newRetryCount,
		"max_retries", s.config.MaxRetries,
		"reason", reason)

	return nil
}

func (s *IdempotencyService) ReleaseLock(ctx context.Context, pc *ProcessingContext) error {
	if pc == nil || !pc.lockAcquired {
		return nil
	}

	lockKey := s.config.LockKeyPrefix + pc.JobKey
	if err := s.redis.Del(lockKey); err != nil {
		logger.Warn("Failed to release lock", "job", pc.JobKey, "error", err)
		return err
	}

	pc.lockAcquired = false
	return nil
}

func (s *IdempotencyService) cleanup(ctx context.Context, pc *ProcessingContext) {
	lockKey := s.config.LockKeyPrefix + pc.JobKey
	if err := s.redis.Del(lockKey); err != nil {
		logger.Warn("Failed to cleanup lock", "job", pc.JobKey, "error", err)
	}

	retryKey := s.config.RetryKeyPrefix + pc.JobKey
	if err := s.redis.Del(retryKey); err != nil {
		logger.Warn("Failed to cleanup retry counter", "job", pc.JobKey, "error", err)
	}

	pc.lockAcquired = false
}

func (s *IdempotencyService) GetRetryCount(ctx context.Context, jobKey string) (int, error) {
	retryKey := s.config.RetryKeyPrefix + jobKey
	retryCountBytes, err := s.redis.Get(retryKey)
	if err != nil {
		if err == redis.NilError {
			return 0, nil
		}
		return 0, err
	}

	retryCount := 0
	fmt.Sscanf(string(retryCountBytes), "%d", &retryCount)
	return retryCount, nil
}

func (s *IdempotencyService) IsProcessed(ctx context.Context, jobKey string) (bool, error) {
	processedKey := s.config.ProcessedKeyPrefix + jobKey
	exists, err := s.redis.Exist(processedKey)
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}
