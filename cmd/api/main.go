package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/brightsend/campaign-dispatcher/internal/config"
	"github.com/brightsend/campaign-dispatcher/internal/handlers"
	"github.com/brightsend/campaign-dispatcher/internal/repository"
	"github.com/brightsend/campaign-dispatcher/internal/services"
	xhttp "github.com/brightsend/campaign-dispatcher/pkg/http"
	"github.com/brightsend/campaign-dispatcher/pkg/logger"
	"github.com/brightsend/campaign-dispatcher/pkg/pg"
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
	logger.Info("starting api", "version", version, "commit", commit, "built", date)

	// transport (tcp for now)
	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Server.ReadBufferSize = 1024 * 16
	s.Server.WriteBufferSize = 1024 * 16
	s.Use(xhttp.CompressMiddleware(6))
	s.Use(xhttp.TimeoutMiddleware(time.Second * 5))
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.RecoverMiddleware)
	s.Router = xhttp.CreateDefaultRouter()

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

	campaignRepo := repository.NewCampaignRepository(db)
	templateRepo := repository.NewTemplateRepository(db)
	deliveryLogRepo := repository.NewDeliveryLogRepository(db)

	// services
	campaignService := services.NewCampaignService(campaignRepo, templateRepo, redisAdap)
	templateService := services.NewTemplateService(templateRepo)
	trackingService := services.NewTrackingService(deliveryLogRepo, campaignRepo)
	healthService := services.NewHealthService()

	// v1 handlers
	campaignHandler := handlers.NewCampaignHandler(campaignService, trackingService)
	templateHandler := handlers.NewTemplateHandler(templateService)
	trackingHandler := handlers.NewTrackingHandler(trackingService)
	healthHandler := handlers.NewHealthHandler(healthService)

	g := s.Router.Group("/api/v1")
	handlers.RegisterCampaignRoutes(g, campaignHandler)
	handlers.RegisterTemplateRoutes(g, templateHandler)
	handlers.RegisterHealthRoutes(g, healthHandler)

	// tracking endpoints live at the root so the URLs in sent emails
	// stay short
	handlers.RegisterTrackingRoutes(s.Router, trackingHandler)

	// Create new server
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		var err = s.ListenAndServe(config.Get().HttpListenAddr)
		if err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	select {
	case <-c:
		s.Shutdown()
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
