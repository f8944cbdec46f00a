package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	Logging    LoggingConfig    `yaml:"logging"`
	App        AppConfig        `yaml:"app"`
	Admission  AdmissionConfig  `yaml:"admission"`
	Billing    BillingConfig    `yaml:"billing"`
	Estimation EstimationConfig `yaml:"estimation"`
	Worker     WorkerConfig     `yaml:"worker"`
	Engine     EngineConfig     `yaml:"engine"`
	Artifacts  ArtifactsConfig  `yaml:"artifacts"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name        string `yaml:"name"`
	Durable     bool   `yaml:"durable"`
	AutoDelete  bool   `yaml:"auto_delete"`
	Exclusive   bool   `yaml:"exclusive"`
	MaxPriority int    `yaml:"max_priority"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int  `yaml:"prefetch_count"`
	AutoAck       bool `yaml:"auto_ack"`
	Exclusive     bool `yaml:"exclusive"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level"`
	Format           string `yaml:"format"`
	Output           string `yaml:"output"`
	EnableCaller     bool   `yaml:"enable_caller"`
	EnableStackTrace bool   `yaml:"enable_stack_trace"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// AdmissionConfig holds job admission limits
type AdmissionConfig struct {
	// MaxActiveJobs caps non-terminal jobs per owner within Window
	MaxActiveJobs int           `yaml:"max_active_jobs"`
	Window        time.Duration `yaml:"window"`
}

// BillingConfig holds credit pricing configuration
type BillingConfig struct {
	// CostPerUnit is the credit price of one 30-second generation unit
	CostPerUnit int64 `yaml:"cost_per_unit"`
}

// EstimationConfig holds queue wait estimation parameters
type EstimationConfig struct {
	// WorkerConcurrency mirrors the worker service's concurrency so the API
	// can compute queue-position estimates
	WorkerConcurrency int `yaml:"worker_concurrency"`
	// DefaultAvgSeconds is used until enough completed jobs exist to
	// compute a real average duration
	DefaultAvgSeconds int `yaml:"default_avg_seconds"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Concurrency        int           `yaml:"concurrency"`
	RateLimitPerSecond float64       `yaml:"rate_limit_per_second"`
	RateBurst          int           `yaml:"rate_burst"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`
	StallInterval      time.Duration `yaml:"stall_interval"`
	StallCheckInterval time.Duration `yaml:"stall_check_interval"`
	MaxStalledCount    int           `yaml:"max_stalled_count"`
	LockDuration       time.Duration `yaml:"lock_duration"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
}

// EngineConfig holds generation engine client configuration
type EngineConfig struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// ArtifactsConfig holds result artifact storage configuration
type ArtifactsConfig struct {
	Dir string `yaml:"dir"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	return &config, nil
}

// applyDefaults fills in defaults for optional sections
func (c *Config) applyDefaults() {
	if c.Admission.MaxActiveJobs == 0 {
		c.Admission.MaxActiveJobs = 5
	}
	if c.Admission.Window == 0 {
		c.Admission.Window = 10 * time.Minute
	}
	if c.Billing.CostPerUnit == 0 {
		c.Billing.CostPerUnit = 10
	}
	if c.Estimation.WorkerConcurrency == 0 {
		c.Estimation.WorkerConcurrency = 4
	}
	if c.Estimation.DefaultAvgSeconds == 0 {
		c.Estimation.DefaultAvgSeconds = 90
	}
	if c.Worker.HeartbeatInterval == 0 {
		c.Worker.HeartbeatInterval = 20 * time.Second
	}
	if c.Worker.StallInterval == 0 {
		c.Worker.StallInterval = 15 * time.Minute
	}
	if c.Worker.StallCheckInterval == 0 {
		c.Worker.StallCheckInterval = time.Minute
	}
	if c.Worker.MaxStalledCount == 0 {
		c.Worker.MaxStalledCount = 1
	}
	if c.Worker.LockDuration == 0 {
		c.Worker.LockDuration = time.Hour
	}
	if c.Worker.RateLimitPerSecond == 0 {
		c.Worker.RateLimitPerSecond = 1
	}
	if c.Worker.RateBurst == 0 {
		c.Worker.RateBurst = 2
	}
}

// ValidateAPIConfig checks configuration required by the API service
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateShared(); err != nil {
		return err
	}

	if c.Admission.MaxActiveJobs <= 0 {
		return fmt.Errorf("admission max_active_jobs must be greater than 0")
	}

	if c.Admission.Window <= 0 {
		return fmt.Errorf("admission window must be greater than 0")
	}

	if c.Billing.CostPerUnit <= 0 {
		return fmt.Errorf("billing cost_per_unit must be greater than 0")
	}

	if c.Estimation.WorkerConcurrency <= 0 {
		return fmt.Errorf("estimation worker_concurrency must be greater than 0")
	}

	return nil
}

// ValidateWorkerConfig checks configuration required by the worker service
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateShared(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.HeartbeatInterval <= 0 {
		return fmt.Errorf("worker heartbeat_interval must be greater than 0")
	}

	if c.Worker.StallInterval <= c.Worker.HeartbeatInterval {
		return fmt.Errorf("worker stall_interval must exceed heartbeat_interval")
	}

	if c.Worker.LockDuration <= 0 {
		return fmt.Errorf("worker lock_duration must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.Engine.BaseURL == "" {
		return fmt.Errorf("engine base_url is required")
	}

	if c.Artifacts.Dir == "" {
		return fmt.Errorf("artifacts dir is required")
	}

	return nil
}

// validateShared checks configuration required by both services
func (c *Config) validateShared() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}
