package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"newsletter/internal/dispatch"
	"newsletter/internal/email"
	"newsletter/internal/store/pg"
)

type DBConfig struct {
	StoreDriver string `envconfig:"STORE_DRIVER" default:"postgres"` // postgres or memory
	DBDSN       string `envconfig:"DB_DSN"`
	AutoMigrate bool   `envconfig:"DB_AUTO_MIGRATE" default:"false"`

	DBPoolMaxConns          int32  `envconfig:"DB_POOL_MAX_CONNS"`
	DBPoolMinConns          int32  `envconfig:"DB_POOL_MIN_CONNS"`
	DBPoolMaxConnLifetime   string `envconfig:"DB_POOL_MAX_CONN_LIFETIME"`
	DBPoolMaxConnIdleTime   string `envconfig:"DB_POOL_MAX_CONN_IDLE_TIME"`
	DBPoolHealthCheckPeriod string `envconfig:"DB_POOL_HEALTH_CHECK_PERIOD"`
}

func (c DBConfig) PoolOptions() pg.PoolOptions {
	return pg.PoolOptions{
		MaxConns:          c.DBPoolMaxConns,
		MinConns:          c.DBPoolMinConns,
		MaxConnLifetime:   c.DBPoolMaxConnLifetime,
		MaxConnIdleTime:   c.DBPoolMaxConnIdleTime,
		HealthCheckPeriod: c.DBPoolHealthCheckPeriod,
	}
}

func (c DBConfig) validate(memoryAllowed bool) error {
	switch c.StoreDriver {
	case "postgres":
		if c.DBDSN == "" {
			return errors.New("DB_DSN is required when STORE_DRIVER=postgres")
		}
	case "memory":
		if !memoryAllowed {
			return errors.New("STORE_DRIVER=memory is only supported by the api")
		}
	default:
		return errors.New("STORE_DRIVER must be postgres or memory")
	}
	return nil
}

type EmailConfig struct {
	EmailProvider  string `envconfig:"EMAIL_PROVIDER" default:"log"`
	BrevoAPIKey    string `envconfig:"BREVO_API_KEY"`
	BrevoBaseURL   string `envconfig:"BREVO_BASE_URL" default:"https://api.brevo.com"`
	SendGridAPIKey string `envconfig:"SENDGRID_API_KEY"`
	EmailFrom      string `envconfig:"EMAIL_FROM" default:"newsletter@example.com"`
	EmailFromName  string `envconfig:"EMAIL_FROM_NAME" default:"Newsletter"`
}

func (c EmailConfig) Options(logger *slog.Logger) email.Options {
	return email.Options{
		Provider:       c.EmailProvider,
		BrevoAPIKey:    c.BrevoAPIKey,
		BrevoBaseURL:   c.BrevoBaseURL,
		SendGridAPIKey: c.SendGridAPIKey,
		FromAddr:       c.EmailFrom,
		FromName:       c.EmailFromName,
		Logger:         logger,
	}
}

type DispatchConfig struct {
	SendRPS             float64       `envconfig:"SEND_RPS" default:"10"`
	SendBurst           int           `envconfig:"SEND_BURST" default:"10"`
	DispatchConcurrency int           `envconfig:"DISPATCH_CONCURRENCY" default:"4"`
	BreakerFailures     uint32        `envconfig:"BREAKER_FAILURES" default:"10"`
	BreakerOpenTimeout  time.Duration `envconfig:"BREAKER_OPEN_TIMEOUT" default:"30s"`
}

func (c DispatchConfig) Options() dispatch.Options {
	return dispatch.Options{
		RatePerSecond:   c.SendRPS,
		Burst:           c.SendBurst,
		Concurrency:     c.DispatchConcurrency,
		BreakerFailures: c.BreakerFailures,
		BreakerTimeout:  c.BreakerOpenTimeout,
	}
}

type SQSConfig struct {
	AWSRegion          string `envconfig:"AWS_REGION" default:"us-east-1"`
	SQSQueueURL        string `envconfig:"SQS_QUEUE_URL"`
	SQSFIFO            bool   `envconfig:"SQS_FIFO" default:"false"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`
	SQSWaitTime        int32  `envconfig:"SQS_WAIT_TIME" default:"20"`
	SQSMaxMsgs         int32  `envconfig:"SQS_MAX_MSGS" default:"10"`
	SQSVizTimeout      int32  `envconfig:"SQS_VISIBILITY_TIMEOUT" default:"300"`
}

type APIConfig struct {
	DBConfig
	EmailConfig
	DispatchConfig

	Port      string `envconfig:"PORT" default:"8080"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	PublicBaseURL        string `envconfig:"PUBLIC_BASE_URL" required:"true"`
	SiteURL              string `envconfig:"SITE_URL" required:"true"`
	ConfirmedPagePath    string `envconfig:"CONFIRMED_PAGE_PATH" default:"/newsletter/confirmed"`
	UnsubscribedPagePath string `envconfig:"UNSUBSCRIBED_PAGE_PATH" default:"/newsletter/unsubscribed"`
	AdminAPIToken        string `envconfig:"ADMIN_API_TOKEN" required:"true"`

	RedisURL      string        `envconfig:"REDIS_URL"`
	StatsCacheTTL time.Duration `envconfig:"STATS_CACHE_TTL" default:"30s"`
}

type TrackerConfig struct {
	DBConfig

	Port      string `envconfig:"PORT" default:"8080"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	// click targets that are not http(s) land here
	SiteURL       string        `envconfig:"SITE_URL" required:"true"`
	RecordTimeout time.Duration `envconfig:"TRACK_RECORD_TIMEOUT" default:"2s"`
}

type WorkerConfig struct {
	DBConfig
	EmailConfig
	DispatchConfig
	SQSConfig

	Port      string `envconfig:"PORT" default:"8080"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	PublicBaseURL     string `envconfig:"PUBLIC_BASE_URL" required:"true"`
	WorkerConcurrency int    `envconfig:"WORKER_CONCURRENCY" default:"2"`
}

type SweeperConfig struct {
	DBConfig
	EmailConfig
	DispatchConfig
	SQSConfig

	Port      string `envconfig:"PORT" default:"8080"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	PublicBaseURL string `envconfig:"PUBLIC_BASE_URL"`
	SweepOnce     bool   `envconfig:"SWEEP_ONCE" default:"false"`
	SweepSchedule string `envconfig:"SWEEP_SCHEDULE" default:"@every 1m"`
	SweepMode     string `envconfig:"SWEEP_MODE" default:"direct"` // direct or queue
}

type MockProviderConfig struct {
	Port      string `envconfig:"PORT" default:"8081"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	APIKey    string `envconfig:"MOCK_API_KEY" default:"mock_key"`

	// fixed, random or round_robin
	OutcomeMode string   `envconfig:"MOCK_OUTCOME_MODE" default:"fixed"`
	Outcomes    []string `envconfig:"MOCK_OUTCOMES" default:"ok"`
	SuccessRate float64  `envconfig:"MOCK_SUCCESS_RATE" default:"0.95"`
	FailEmails  []string `envconfig:"MOCK_FAIL_EMAILS"`
	DelayMs     int      `envconfig:"MOCK_DELAY_MS" default:"0"`
}

// loadDotenv reads .env when present. A missing file is not an error.
func loadDotenv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("could not load .env", "err", err)
	}
}

func process(cfg any) {
	loadDotenv()
	if err := envconfig.Process("", cfg); err != nil {
		panic(err)
	}
}

func LoadAPI() APIConfig {
	var cfg APIConfig
	process(&cfg)
	if err := cfg.DBConfig.validate(true); err != nil {
		panic(err)
	}
	return cfg
}

func LoadTracker() TrackerConfig {
	var cfg TrackerConfig
	process(&cfg)
	if err := cfg.DBConfig.validate(false); err != nil {
		panic(err)
	}
	return cfg
}

func LoadWorker() WorkerConfig {
	var cfg WorkerConfig
	process(&cfg)
	if err := cfg.DBConfig.validate(false); err != nil {
		panic(err)
	}
	if cfg.SQSQueueURL == "" {
		panic(errors.New("SQS_QUEUE_URL is required"))
	}
	return cfg
}

func LoadSweeper() SweeperConfig {
	var cfg SweeperConfig
	process(&cfg)
	if err := cfg.DBConfig.validate(false); err != nil {
		panic(err)
	}
	switch cfg.SweepMode {
	case "direct":
		if cfg.PublicBaseURL == "" {
			panic(errors.New("PUBLIC_BASE_URL is required when SWEEP_MODE=direct"))
		}
	case "queue":
		if cfg.SQSQueueURL == "" {
			panic(errors.New("SQS_QUEUE_URL is required when SWEEP_MODE=queue"))
		}
	default:
		panic(errors.New("SWEEP_MODE must be direct or queue"))
	}
	return cfg
}

func LoadMockProvider() MockProviderConfig {
	var cfg MockProviderConfig
	process(&cfg)
	return cfg
}
