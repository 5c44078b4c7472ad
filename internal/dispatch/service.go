package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/brightsend/campaign-dispatcher/internal/config"
	"github.com/brightsend/campaign-dispatcher/internal/queue"
	"github.com/brightsend/campaign-dispatcher/pkg/logger"
	"github.com/brightsend/campaign-dispatcher/pkg/redis"
	"github.com/brightsend/campaign-dispatcher/pkg/worker"
)

const ProcessingTimeout = time.Minute * 5
const HealthInterval = time.Second * 30
const ShutdownTimeout = time.Minute

const campaignConsumers = 2
const batchConsumers = 8

// Processor interface for the per-queue job processors
type Processor interface {
	Process(ctx context.Context, message *queue.Message) error
	GetType() string
}

// DispatcherService runs the campaign and batch queue consumers over a
// shared worker pool.
type DispatcherService struct {
	adapter    redis.RedisAdapter
	queues     []*queue.Queue
	processors map[string]Processor
	metrics    *ServiceMetrics
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	worker     *worker.WorkerManager
}

func NewDispatcherService(redis redis.RedisAdapter) (*DispatcherService, error) {
	ctx, cancel := context.WithCancel(context.Background())
	service := &DispatcherService{
		adapter:    redis,
		queues:     make([]*queue.Queue, 0),
		processors: make(map[string]Processor),
		metrics:    NewServiceMetrics(),
		ctx:        ctx,
		cancel:     cancel,
		worker:     worker.NewWorkerManager(10_000, 100, nil),
	}
	return service, nil
}

// RegisterProcessor binds a processor to the named queue.
func (s *DispatcherService) RegisterProcessor(queueName string, processor Processor) {
	s.processors[queueName] = processor
	logger.Info("Registered processor", "queue", queueName, "type", processor.GetType())
}

// Start starts the dispatcher service
func (s *DispatcherService) Start() error {
	logger.Info("Starting Dispatcher Service...")

	// Set up worker handler
	s.worker.SetWorker(s.workerHandler)

	// Start worker pool in background
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.worker.Start(); err != nil {
			logger.Error("Worker manager stopped", "error", err)
		}
	}()

	if err := s.startConsumers(config.Get().CampaignQueueName, campaignConsumers); err != nil {
		return err
	}
	if err := s.startConsumers(config.Get().BatchQueueName, batchConsumers); err != nil {
		return err
	}

	// Start background tasks
	s.wg.Add(2)
	go s.metricsReporter()
	go s.healthChecker()

	logger.Info("Dispatcher Service started", "consumers", len(s.queues), "workers", 100)
	return nil
}

// startConsumers spins up count consumers on one queue, each with a
// distinct consumer name inside the shared group.
func (s *DispatcherService) startConsumers(queueName string, count int) error {
	for i := 0; i < count; i++ {
		queueConfig := queue.QueueConfig{
			Name:              queueName,
			ConsumerGroup:     config.Get().QueueConsumerGroup,
			ConsumerName:      fmt.Sprintf("%s-%s-%d", config.Get().QueueConsumerName, queueName, i),
			MaxRetries:        config.Get().QueueMaxRetries,
			VisibilityTimeout: config.Get().QueueVisibilityTimeout,
			PollInterval:      config.Get().QueuePollInterval,
			BatchSize:         config.Get().QueueBatchSize,
			MaxLen:            config.Get().QueueMaxLen,
			EnableDLQ:         config.Get().QueueEnableDLQ,
		}

		q, err := queue.NewQueue(s.adapter, queueConfig)
		if err != nil {
			return fmt.Errorf("failed to create queue %s/%d: %w", queueName, i, err)
		}

		// Start consuming - messages will be enqueued to worker pool
		if err := q.Consume(s.makeMessageHandler(queueName)); err != nil {
			return fmt.Errorf("failed to start consumer %s/%d: %w", queueName, i, err)
		}

		s.queues = append(s.queues, q)
		logger.Info("Started consumer instance", "queue", queueName, "instance", i)
	}
	return nil
}

// metricsReporter periodically reports metrics
func (s *DispatcherService) metricsReporter() {
	defer s.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.reportMetrics()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *DispatcherService) reportMetrics() {
	stats := s.metrics.GetStats()

	logger.Info("=== Service Metrics ===")
	logger.Info("Metrics", "total_processed", stats["total_processed"], "total_failed", stats["total_failed"], "rate_per_second", stats["rate_per_second"], "avg_duration_ms", stats["avg_duration_ms"], "uptime_seconds", stats["uptime_seconds"])

	// Queue stats
	for i, q := range s.queues {
		if qStats, err := q.GetStats(); err == nil {
			logger.Info("Queue stats", "queue", i, "total", qStats.TotalMessages, "pending", qStats.PendingMessages)
		}
	}
}

func (s *DispatcherService) healthChecker() {
	defer s.wg.Done()

	ticker := time.NewTicker(HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.performHealthCheck()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *DispatcherService) performHealthCheck() {
	// Check Redis connection
	if err := s.adapter.Client().Ping(context.Background()).Err(); err != nil {
		logger.Error("HEALTH CHECK FAILED: Redis connection error", "error", err)
		return
	}

	// Check queue health
	for i, q := range s.queues {
		stats, err := q.GetStats()
		if err != nil {
			logger.Warn("HEALTH CHECK WARNING: Queue stats unavailable", "queue", i, "error", err)
			continue
		}

		// Alert if pending messages are high
		if stats.PendingMessages > 10000 {
			logger.Warn("HEALTH CHECK WARNING: Queue has high lag", "queue", i, "pending_messages", stats.PendingMessages)
		}
	}

	logger.Info("HEALTH CHECK: OK - Service healthy")
}

// Stop gracefully stops the service
func (s *DispatcherService) Stop() {
	logger.Info("Shutting down Dispatcher Service...")

	s.cancel()

	// Stop all queues
	timeout := ShutdownTimeout
	stopChan := make(chan bool, len(s.queues))

	for i, q := range s.queues {
		go func(index int, queue *queue.Queue) {
			if err := queue.Stop(timeout); err != nil {
				logger.Error("Error stopping queue", "queue", index, "error", err)
			}
			stopChan <- true
		}(i, q)
	}

	// Wait for all queues
	for range s.queues {
		select {
		case <-stopChan:
		case <-time.After(timeout + 5*time.Second):
			logger.Warn("Timeout waiting for queues to stop")
		}
	}

	// Stop worker manager
	s.worker.Exit()

	// Wait for background tasks
	s.wg.Wait()

	// Final metrics
	s.reportMetrics()

	logger.Info("Dispatcher Service stopped")
}

type jobResult struct {
	msg        *queue.Message
	processor  Processor
	resultChan chan error
	ctx        context.Context
}

// makeMessageHandler binds incoming messages of one queue to its
// processor and pushes them through the worker pool.
func (s *DispatcherService) makeMessageHandler(queueName string) queue.MessageHandler {
	return func(ctx context.Context, msg *queue.Message) error {
		processor, ok := s.processors[queueName]
		if !ok {
			logger.Error("No processor registered for queue", "queue", queueName)
			return nil // ACK - unregistered queue won't succeed on retry
		}

		// Create a result channel for this message
		resultChan := make(chan error, 1)

		// Create cancellable context with timeout for this message
		msgCtx, cancel := context.WithTimeout(ctx, ProcessingTimeout+time.Second)
		defer cancel()

		job := &jobResult{
			msg:        msg,
			processor:  processor,
			resultChan: resultChan,
			ctx:        msgCtx,
		}

		// Enqueue to worker pool
		s.worker.Enqueue(job)

		// Block until worker completes processing or context times out
		select {
		case err := <-resultChan:
			return err
		case <-msgCtx.Done():
			// Context cancelled or timed out
			return fmt.Errorf("timeout waiting for worker to process message: %w", msgCtx.Err())
		}
	}
}

// workerHandler processes messages in worker pool
func (s *DispatcherService) workerHandler(workerIndex int, job interface{}) {
	jobRes, ok := job.(*jobResult)
	if !ok {
		logger.Error("Invalid job type in worker", "worker", workerIndex)
		return
	}

	msg := jobRes.msg
	start := time.Now()
	var resultErr error

	// Check if context already cancelled before processing
	select {
	case <-jobRes.ctx.Done():
		logger.Warn("Job context cancelled before processing started", "worker", workerIndex)
		return
	default:
		// Continue processing
	}

	if err := jobRes.processor.Process(jobRes.ctx, msg); err != nil {
		s.metrics.RecordFailure()
		logger.Error("Failed to process message", "worker", workerIndex, "type", jobRes.processor.GetType(), "error", err)
		resultErr = err // NACK - return error
	} else {
		duration := time.Since(start)
		s.metrics.RecordSuccess(duration)
		resultErr = nil // ACK - return nil
	}

	// Non-blocking send to result channel
	// If messageHandler timed out, channel may have no receiver
	select {
	case jobRes.resultChan <- resultErr:
		// Successfully sent result
	case <-jobRes.ctx.Done():
		// Context cancelled while trying to send result
		logger.Warn("Context cancelled while sending result, message handler timed out", "worker", workerIndex)
	}
}
