package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

var Cfg Config

type Config struct {
	// 服务配置
	ServerPort  string `env:"SERVER_PORT" envDefault:"8880"`
	ServerHost  string `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"` // development, staging, production
	ServiceName string `env:"SERVICE_NAME" envDefault:"outcall"`

	// PostgreSQL 配置
	PostgreSQLHost     string `env:"POSTGRESQL_HOST" envDefault:"localhost"`
	PostgreSQLPort     string `env:"POSTGRESQL_PORT" envDefault:"5432"`
	PostgreSQLUser     string `env:"POSTGRESQL_USER" envDefault:"postgres"`
	PostgreSQLPassword string `env:"POSTGRESQL_PASSWORD" envDefault:"postgres"`
	PostgreSQLDatabase string `env:"POSTGRESQL_DATABASE" envDefault:"outcall"`
	PostgreSQLSchema   string `env:"POSTGRESQL_SCHEMA" envDefault:"public"`
	PostgreSQLSSLMode  string `env:"POSTGRESQL_SSLMODE" envDefault:"disable"`
	PostgreSQLMaxIdle  int    `env:"POSTGRESQL_MAX_IDLE" envDefault:"30"`
	PostgreSQLMaxOpen  int    `env:"POSTGRESQL_MAX_OPEN" envDefault:"200"`

	// Redis 配置
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisPrefix   string `env:"REDIS_PREFIX" envDefault:"outcall"`

	// RabbitMQ 配置
	RabbitMQAddr     string `env:"RABBITMQ_ADDR" envDefault:"localhost"`
	RabbitMQPort     string `env:"RABBITMQ_PORT" envDefault:"5672"`
	RabbitMQUsername string `env:"RABBITMQ_USERNAME" envDefault:"guest"`
	RabbitMQPassword string `env:"RABBITMQ_PASSWORD" envDefault:"guest"`
	RabbitMQVhost    string `env:"RABBITMQ_VHOST" envDefault:"/"`

	// VAPI 外呼服务配置
	VapiBaseURL     string        `env:"VAPI_BASE_URL" envDefault:"https://api.vapi.ai"`
	VapiDialTimeout time.Duration `env:"VAPI_DIAL_TIMEOUT" envDefault:"30s"`

	// 执行引擎配置
	EngineTickInterval   time.Duration `env:"ENGINE_TICK_INTERVAL" envDefault:"1m"`
	CampaignLockTTL      time.Duration `env:"CAMPAIGN_LOCK_TTL" envDefault:"2m"`
	DispatchPause        time.Duration `env:"DISPATCH_PAUSE" envDefault:"1s"`  // 同一个 tick 内两次外呼之间的间隔
	DuplicateWindow      time.Duration `env:"DUPLICATE_WINDOW" envDefault:"1h"` // 同一联系人/号码的去重窗口
	WatchdogInterval     time.Duration `env:"WATCHDOG_INTERVAL" envDefault:"5m"`
	WatchdogStartupDelay time.Duration `env:"WATCHDOG_STARTUP_DELAY" envDefault:"30s"`
	CallStaleAfter       time.Duration `env:"CALL_STALE_AFTER" envDefault:"5m"`  // 通话记录卡死阈值
	QueueStaleAfter      time.Duration `env:"QUEUE_STALE_AFTER" envDefault:"30m"` // 队列条目卡死阈值（二次兜底）

	// 工作时段缺省配置（活动未配置时使用）
	DefaultWorkStart string `env:"DEFAULT_WORK_START" envDefault:"09:00"`
	DefaultWorkEnd   string `env:"DEFAULT_WORK_END" envDefault:"17:00"`
	DefaultTimezone  string `env:"DEFAULT_TIMEZONE" envDefault:"America/New_York"`

	// 转录质检分析服务配置（尽力而为的下游）
	AnalysisEndpoint string        `env:"ANALYSIS_ENDPOINT"`
	AnalysisTimeout  time.Duration `env:"ANALYSIS_TIMEOUT" envDefault:"30s"`
	AnalysisWorkers  int           `env:"ANALYSIS_WORKERS" envDefault:"4"`
	AnalysisQueueCap int           `env:"ANALYSIS_QUEUE_CAP" envDefault:"256"`

	// Snowflake ID 生成器配置
	SnowflakeMachineID  int64 `env:"SNOWFLAKE_MACHINE_ID" envDefault:"1"`
	SnowflakeDataCenter int64 `env:"SNOWFLAKE_DATACENTER_ID" envDefault:"1"`

	// 日志配置
	LoggerLevel      string `env:"LOGGER_LEVEL" envDefault:"INFO"`
	LoggerFormat     string `env:"LOGGER_FORMAT" envDefault:"text"` // json, text
	LoggerOutputPath string `env:"LOGGER_OUTPUT_PATH" envDefault:"stdout"`

	// 链路追踪配置
	TracingEnabled bool    `env:"TRACING_ENABLED" envDefault:"false"`
	OTLPEndpoint   string  `env:"OTLP_ENDPOINT" envDefault:"localhost:4317"`
	TracingSampler float64 `env:"TRACING_SAMPLER" envDefault:"0.1"`
}

func init() {

	if err := godotenv.Load(); err != nil {

		log.Printf("WARN: Cannot load .env file: %v, using environment variables", err)
	}

	Cfg = Config{}
	if err := env.Parse(&Cfg); err != nil {
		log.Fatalf("Failed to parse environment variables: %v", err)
	}

	validateConfig()
}

func validateConfig() {
	if Cfg.CampaignLockTTL < Cfg.EngineTickInterval {
		log.Fatal("CAMPAIGN_LOCK_TTL must be at least ENGINE_TICK_INTERVAL, otherwise locks expire mid-tick")
	}

	if Cfg.AnalysisEndpoint == "" {
		log.Printf("WARN: ANALYSIS_ENDPOINT is not set, qualification analysis will be skipped")
	}

	if Cfg.AnalysisWorkers <= 0 {
		Cfg.AnalysisWorkers = 1
	}
}

func (c *Config) GetDSN() string {
	return "host=" + c.PostgreSQLHost +
		" port=" + c.PostgreSQLPort +
		" user=" + c.PostgreSQLUser +
		" password=" + c.PostgreSQLPassword +
		" dbname=" + c.PostgreSQLDatabase +
		" sslmode=" + c.PostgreSQLSSLMode +
		" search_path=" + c.PostgreSQLSchema
}

func (c *Config) GetRabbitMQURL() string {
	return "amqp://" + c.RabbitMQUsername + ":" + c.RabbitMQPassword + "@" + c.RabbitMQAddr + ":" + c.RabbitMQPort + c.RabbitMQVhost
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
