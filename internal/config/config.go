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

// Storage drivers
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Dispatch modes
const (
	DispatchInline   = "inline"
	DispatchRabbitMQ = "rabbitmq"
)

// Payment gate modes
const (
	PaymentHTTP  = "http"
	PaymentLocal = "local"
)

// Config represents the complete application configuration
type Config struct {
	App         AppConfig         `yaml:"app"`
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Database    DatabaseConfig    `yaml:"database"`
	RabbitMQ    RabbitMQConfig    `yaml:"rabbitmq"`
	Dispatch    DispatchConfig    `yaml:"dispatch"`
	Logging     LoggingConfig     `yaml:"logging"`
	Worker      WorkerConfig      `yaml:"worker"`
	Payment     PaymentConfig     `yaml:"payment"`
	Regulation  RegulationConfig  `yaml:"regulation"`
	Structuring StructuringConfig `yaml:"structuring"`
	Renderer    RendererConfig    `yaml:"renderer"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig selects the job table backend
type StorageConfig struct {
	Driver string `yaml:"driver"`
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
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
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
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
	// DeadLetterExchange receives messages the worker rejects.
	DeadLetterExchange string `yaml:"dead_letter_exchange"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// DispatchConfig selects how confirmed jobs reach the pipeline
type DispatchConfig struct {
	Mode string `yaml:"mode"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	QueueSize       int           `yaml:"queue_size"`
	JobTimeout      time.Duration `yaml:"job_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// PaymentConfig holds payment gate settings
type PaymentConfig struct {
	Mode         string        `yaml:"mode"`
	BaseURL      string        `yaml:"base_url"`
	Token        string        `yaml:"token"`
	Timeout      time.Duration `yaml:"timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
	AutoConfirm  bool          `yaml:"auto_confirm"`
}

// RegulationConfig holds regulation search settings
type RegulationConfig struct {
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	Results      int           `yaml:"results"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxPageBytes int64         `yaml:"max_page_bytes"`
	UserAgent    string        `yaml:"user_agent"`
}

// StructuringConfig holds chat completions settings
type StructuringConfig struct {
	BaseURL         string        `yaml:"base_url"`
	APIKey          string        `yaml:"api_key"`
	Model           string        `yaml:"model"`
	Temperature     float64       `yaml:"temperature"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxContextChars int           `yaml:"max_context_chars"`
}

// RendererConfig holds document output settings
type RendererConfig struct {
	OutputDir    string `yaml:"output_dir"`
	Format       string `yaml:"format"`
	NumberPrefix string `yaml:"number_prefix"`
}

// Load reads and parses the configuration file, then applies defaults and
// secret overrides from the environment.
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
	config.ApplyEnv()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Storage.Driver == "" {
		c.Storage.Driver = StorageMemory
	}
	if c.Dispatch.Mode == "" {
		c.Dispatch.Mode = DispatchInline
	}
	if c.Payment.Mode == "" {
		c.Payment.Mode = PaymentLocal
	}
	if c.Renderer.Format == "" {
		c.Renderer.Format = "pdf"
	}
}

// secretEnv maps environment variables onto the secrets they override.
func (c *Config) secretEnv() map[string]*string {
	return map[string]*string{
		"OPENAI_API_KEY":    &c.Structuring.APIKey,
		"SERPER_API_KEY":    &c.Regulation.APIKey,
		"PAYMENT_API_TOKEN": &c.Payment.Token,
		"DATABASE_PASSWORD": &c.Database.Password,
		"RABBITMQ_PASSWORD": &c.RabbitMQ.Password,
	}
}

// ApplyEnv overrides secrets with non-empty environment variables.
func (c *Config) ApplyEnv() {
	for name, field := range c.secretEnv() {
		if v := os.Getenv(name); v != "" {
			*field = v
		}
	}
}

// Validate checks the settings shared by every binary
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StorageMemory:
	case StoragePostgres:
		if err := c.validateDatabase(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown storage driver: %q", c.Storage.Driver)
	}

	switch c.Dispatch.Mode {
	case DispatchInline:
	case DispatchRabbitMQ:
		if err := c.validateRabbitMQ(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown dispatch mode: %q", c.Dispatch.Mode)
	}

	switch c.Payment.Mode {
	case PaymentLocal:
	case PaymentHTTP:
		if c.Payment.BaseURL == "" {
			return fmt.Errorf("payment base_url is required for http mode")
		}
	default:
		return fmt.Errorf("unknown payment mode: %q", c.Payment.Mode)
	}

	if c.Payment.PollInterval < 0 {
		return fmt.Errorf("payment poll_interval must not be negative")
	}

	if c.Renderer.Format != "pdf" && c.Renderer.Format != "xlsx" {
		return fmt.Errorf("unknown renderer format: %q", c.Renderer.Format)
	}

	if c.Structuring.APIKey == "" {
		return fmt.Errorf("structuring api_key is required (set OPENAI_API_KEY)")
	}

	return nil
}

// ValidateAPIConfig checks the settings of the HTTP service
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Dispatch.Mode == DispatchRabbitMQ && c.Storage.Driver != StoragePostgres {
		return fmt.Errorf("rabbitmq dispatch requires the postgres storage driver")
	}

	return c.Validate()
}

// ValidateWorkerConfig checks the settings of the worker service
func (c *Config) ValidateWorkerConfig() error {
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.Storage.Driver != StoragePostgres {
		return fmt.Errorf("worker requires the postgres storage driver")
	}

	if c.Dispatch.Mode != DispatchRabbitMQ {
		return fmt.Errorf("worker requires rabbitmq dispatch")
	}

	return c.Validate()
}

func (c *Config) validateDatabase() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
}

func (c *Config) validateRabbitMQ() error {
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
