package config

import (
	"time"

	"github.com/Netflix/go-env"
	"github.com/brightsend/campaign-dispatcher/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

const ConfigTagName = "env"
const ConfigDefaultTagName = "default"

var config *Config

// Config holds config envs and values used across the dispatcher.
// Only this struct must be used to hold any configuration values, no
// direct access to env, ini or any other config source should be made
type Config struct {
	AppEnv              string `env:"APP_ENV" default:"dev"`
	AppName             string `env:"APP_NAME" default:"campaign_dispatcher"`
	AppDebug            bool   `env:"APP_DEBUG" default:"1"`
	AppDebugMetricsAddr string `env:"APP_DEBUG_METRIC_ADDR"`
	AppDebugMetricsURI  string `env:"APP_DEBUG_METRIC_URI"`
	AppBaseUrl          string `env:"APP_BASE_URL"`

	HttpListenAddr            string `env:"HTTP_LISTEN_ADDR" validation:"mustExists"`
	HttpServerReadTimeout     int    `env:"HTTP_SERVER_READ_TIMEOUT"`
	HttpServerWriteTimeout    int    `env:"HTTP_SERVER_WRITE_TIMEOUT"`
	HttpServerReadBufferSize  int    `env:"HTTP_SERVER_READ_BUFFER_SIZE"`
	HttpServerWriteBufferSize int    `env:"HTTP_SERVER_WRITE_BUFFER_SIZE"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`

	RedisAddr               string `env:"REDIS_ADDR"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX"`

	PromNamespace string `env:"PROM_NAMESPACE"`

	LogLevel []string `env:"LOG_LEVEL"`

	CampaignQueueName      string        `env:"CAMPAIGN_QUEUE_NAME" default:"campaign:process"`
	BatchQueueName         string        `env:"BATCH_QUEUE_NAME" default:"campaign:batches"`
	QueueConsumerGroup     string        `env:"QUEUE_CONSUMER_GROUP" default:"dispatcher"`
	QueueConsumerName      string        `env:"QUEUE_CONSUMER_NAME" default:"dispatcher"`
	QueueMaxRetries        int           `env:"QUEUE_MAX_RETRIES" default:"3"`
	QueueVisibilityTimeout time.Duration `env:"QUEUE_VISIBILITY_TIMEOUT" default:"5m"`
	QueuePollInterval      time.Duration `env:"QUEUE_POLL_INTERVAL" default:"1s"`
	QueueBatchSize         int64         `env:"QUEUE_BATCH_SIZE" default:"10"`
	QueueMaxLen            int64         `env:"QUEUE_MAX_LEN"`
	QueueEnableDLQ         bool          `env:"QUEUE_ENABLE_DLQ" default:"1"`

	CampaignBatchSize      int           `env:"CAMPAIGN_BATCH_SIZE" default:"50"`
	CampaignBatchStagger   time.Duration `env:"CAMPAIGN_BATCH_STAGGER" default:"3s"`
	CampaignSendDelay      time.Duration `env:"CAMPAIGN_SEND_DELAY" default:"100ms"`
	CampaignSendingTimeout time.Duration `env:"CAMPAIGN_SENDING_TIMEOUT" default:"24h"`
	SweepInterval          time.Duration `env:"SWEEP_INTERVAL" default:"60s"`
	SweepQueuedBatch       int           `env:"SWEEP_QUEUED_BATCH" default:"5"`

	TrackingEnabled bool   `env:"TRACKING_ENABLED" default:"1"`
	TrackingBaseURL string `env:"TRACKING_BASE_URL"`

	SMTPAddr      string `env:"SMTP_ADDR"`
	SMTPFrom      string `env:"SMTP_FROM"`
	SMTPHelloHost string `env:"SMTP_HELLO_HOST"`

	ResolverURL        string        `env:"RESOLVER_URL"`
	ResolverTimeout    time.Duration `env:"RESOLVER_TIMEOUT" default:"30s"`
	ResolverMaxRetries int           `env:"RESOLVER_MAX_RETRIES" default:"3"`
}

func Load(path string) error {
	logger.Info("loading configs..", "path", path)
	c := &Config{}
	var err error
	if path != "" {
		logger.Info("trying to publish env from file", "path", path)
		err = godotenv.Load(path)
		if err != nil {
			return errors.New("failed to load configuration file " + path + " error: " + err.Error())
		}
	}

	_, err = env.UnmarshalFromEnviron(c)

	if err != nil {
		return errors.New("failed to map env variables to Configuration object " + " error: " + err.Error())
	}

	config = c
	return nil
}

func Get() *Config {
	if config == nil {
		logger.Panic("Config is not initialized")
	}
	return config
}
