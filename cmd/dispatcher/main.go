package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/brightsend/campaign-dispatcher/internal/audience"
	"github.com/brightsend/campaign-dispatcher/internal/config"
	"github.com/brightsend/campaign-dispatcher/internal/dispatch"
	"github.com/brightsend/campaign-dispatcher/internal/mailer"
	"github.com/brightsend/campaign-dispatcher/internal/queue"
	"github.com/brightsend/campaign-dispatcher/internal/repository"
	"github.com/brightsend/campaign-dispatcher/pkg/logger"
	"github.com/brightsend/campaign-dispatcher/pkg/pg"
	"github.com/brightsend/campaign-dispatcher/pkg/prom"
	"github.com/brightsend/campaign-dispatcher/pkg/redis"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}
	defer logger.Sync() //nolint:errcheck
	logger.Info("starting dispatcher", "version", version, "commit", commit, "built", date)

	readConf := pg.Config{
		User:     config.Get().PostgresReadUser,
		Host:     config.Get().PostgresReadHost,
		Port:     config.Get().PostgresReadPort,
		Password: config.Get().PostgresReadPassword,
		Database: config.Get().PostgresReadDatabase,
	}
	writeConf := pg.Config{
		User:     config.Get().PostgresWriteUser,
		Host:     config.Get().PostgresWriteHost,
		Port:     config.Get().PostgresWritePort,
		Password: config.Get().PostgresWritePassword,
		Database: config.Get().PostgresWriteDatabase,
	}

	pgDebug := false
	if config.Get().AppEnv == "dev" {
		pgDebug = true
	}
	db, err := pg.CreateReadWrite(readConf, writeConf, pgDebug)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter("default", config.Get().RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{config.Get().RedisAddr},
		ClientName: "default",
		DB:         config.Get().RedisDatabase,
		Username:   config.Get().RedisUsername,
		Password:   config.Get().RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	resolver, err := audience.NewClient(&audience.Config{
		URL:        config.Get().ResolverURL,
		Timeout:    config.Get().ResolverTimeout,
		MaxRetries: config.Get().ResolverMaxRetries,
	})
	if err != nil {
		logger.Error("failed to create segment resolver client", "error", err)
		return
	}

	campaignRepo := repository.NewCampaignRepository(db)
	templateRepo := repository.NewTemplateRepository(db)
	deliveryLogRepo := repository.NewDeliveryLogRepository(db)

	transport, err := mailer.NewSMTPTransport(mailer.SMTPConfig{
		Addr:      config.Get().SMTPAddr,
		From:      config.Get().SMTPFrom,
		HelloHost: config.Get().SMTPHelloHost,
	})
	if err != nil {
		logger.Error("failed to create smtp transport", "error", err)
		return
	}
	batchMailer := mailer.NewMailer(transport, templateRepo, deliveryLogRepo, mailer.Config{
		From:            config.Get().SMTPFrom,
		TrackingEnabled: config.Get().TrackingEnabled,
		TrackingBaseURL: config.Get().TrackingBaseURL,
		SendDelay:       config.Get().CampaignSendDelay,
	})

	// batch queue publisher used by the orchestrator for staggered
	// batch fan-out
	batchQueue, err := queue.NewQueue(redisAdap, queue.QueueConfig{
		Name:              config.Get().BatchQueueName,
		ConsumerGroup:     config.Get().QueueConsumerGroup,
		ConsumerName:      config.Get().QueueConsumerName,
		MaxRetries:        config.Get().QueueMaxRetries,
		VisibilityTimeout: config.Get().QueueVisibilityTimeout,
		PollInterval:      config.Get().QueuePollInterval,
		BatchSize:         config.Get().QueueBatchSize,
		MaxLen:            config.Get().QueueMaxLen,
		EnableDLQ:         config.Get().QueueEnableDLQ,
	})
	if err != nil {
		logger.Error("failed creating batch queue", "error", err)
		return
	}

	campaignQueue, err := queue.NewQueue(redisAdap, queue.QueueConfig{
		Name:              config.Get().CampaignQueueName,
		ConsumerGroup:     config.Get().QueueConsumerGroup,
		ConsumerName:      config.Get().QueueConsumerName,
		MaxRetries:        config.Get().QueueMaxRetries,
		VisibilityTimeout: config.Get().QueueVisibilityTimeout,
		PollInterval:      config.Get().QueuePollInterval,
		BatchSize:         config.Get().QueueBatchSize,
		MaxLen:            config.Get().QueueMaxLen,
		EnableDLQ:         config.Get().QueueEnableDLQ,
	})
	if err != nil {
		logger.Error("failed creating campaign queue", "error", err)
		return
	}

	orchestrator := dispatch.NewOrchestrator(campaignRepo, templateRepo, resolver, batchQueue, dispatch.OrchestratorConfig{
		BatchSize:    config.Get().CampaignBatchSize,
		BatchStagger: config.Get().CampaignBatchStagger,
	})

	idempotencyService := dispatch.NewIdempotencyService(redisAdap, dispatch.DefaultIdempotencyConfig())

	service, err := dispatch.NewDispatcherService(redisAdap)
	if err != nil {
		logger.Error("failed to create the dispatcher", "error", err)
		return
	}
	service.RegisterProcessor(config.Get().CampaignQueueName, dispatch.NewCampaignProcessor(orchestrator, idempotencyService))
	service.RegisterProcessor(config.Get().BatchQueueName, dispatch.NewBatchProcessor(batchMailer, campaignRepo, idempotencyService))

	scheduleSweeper := dispatch.NewScheduleSweeper(redisAdap, campaignQueue, dispatch.ScheduleSweeperConfig{
		Interval:    config.Get().SweepInterval,
		QueuedBatch: config.Get().SweepQueuedBatch,
	})
	completionSweeper := dispatch.NewCompletionSweeper(campaignRepo, dispatch.CompletionSweeperConfig{
		Interval:       config.Get().SweepInterval,
		SendingTimeout: config.Get().CampaignSendingTimeout,
	})

	var hostname string
	hostname, err = os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	err = prom.Create(hostname, config.Get().AppEnv, config.Get().PromNamespace)
	if err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}

	go func() {
		prom.ListenAndServer(":9100", "/metrics")
	}()

	go func() {
		err := service.Start()
		if err != nil {
			logger.Error("failed to start dispatcher", "error", err)
		}
	}()

	scheduleSweeper.Start()
	completionSweeper.Start()

	select {
	case <-c:
		scheduleSweeper.Stop()
		completionSweeper.Stop()
		service.Stop()
		_ = batchQueue.Stop(time.Minute)
		_ = campaignQueue.Stop(time.Minute)
	}
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return ""
}
