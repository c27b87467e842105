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
	Billing    BillingConfig    `yaml:"billing"`
	Submission SubmissionConfig `yaml:"submission"`
	Compute    ComputeConfig    `yaml:"compute"`
	Probe      ProbeConfig      `yaml:"probe"`
	Build      BuildConfig      `yaml:"build"`
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
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Durable bool   `yaml:"durable"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name    string `yaml:"name"`
	Durable bool   `yaml:"durable"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
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

// BillingConfig holds the pricing for a build job
type BillingConfig struct {
	JobPrice int64  `yaml:"job_price"`
	Currency string `yaml:"currency"`
}

// SubmissionConfig holds the allowlists applied to new submissions
type SubmissionConfig struct {
	InstanceClasses      []string `yaml:"instance_classes"`       // classes any user may request
	AdminInstanceClasses []string `yaml:"admin_instance_classes"` // classes admins may request
	CheckoutRefs         []string `yaml:"checkout_refs"`          // refs non-admins may check out
	MaxFiles             int      `yaml:"max_files"`
}

// ComputeConfig holds the cloud control-plane settings for build instances
type ComputeConfig struct {
	Region        string        `yaml:"region"`
	AMIID         string        `yaml:"ami_id"`
	KeyName       string        `yaml:"key_name"`
	SecurityGroup string        `yaml:"security_group"`
	InstanceTag   string        `yaml:"instance_tag"`
	ProvisionWait time.Duration `yaml:"provision_wait"`
	TerminateWait time.Duration `yaml:"terminate_wait"`
}

// ProbeConfig holds the connectivity probe settings
type ProbeConfig struct {
	SSHProgram     string        `yaml:"ssh_program"`
	MaxAttempts    int           `yaml:"max_attempts"`
	Interval       time.Duration `yaml:"interval"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// BuildConfig holds the build subprocess settings
type BuildConfig struct {
	PythonProgram string        `yaml:"python_program"`
	HandlerScript string        `yaml:"handler_script"`
	WorkRoot      string        `yaml:"work_root"`
	SSHUser       string        `yaml:"ssh_user"`
	KeyFile       string        `yaml:"key_file"`
	Timeout       time.Duration `yaml:"timeout"` // 0 means no limit
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

	return &config, nil
}

// validateShared checks the sections both services need
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

	if c.Build.WorkRoot == "" {
		return fmt.Errorf("build work_root is required")
	}

	return nil
}

// ValidateAPIConfig checks the configuration for the API service
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateShared(); err != nil {
		return err
	}

	if c.Billing.JobPrice <= 0 {
		return fmt.Errorf("billing job_price must be greater than 0")
	}

	if len(c.Submission.InstanceClasses) == 0 {
		return fmt.Errorf("submission instance_classes is required")
	}

	if len(c.Submission.CheckoutRefs) == 0 {
		return fmt.Errorf("submission checkout_refs is required")
	}

	return nil
}

// ValidateOrchestratorConfig checks the configuration for the orchestrator service
func (c *Config) ValidateOrchestratorConfig() error {
	if err := c.validateShared(); err != nil {
		return err
	}

	if c.Compute.Region == "" {
		return fmt.Errorf("compute region is required")
	}

	if c.Compute.AMIID == "" {
		return fmt.Errorf("compute ami_id is required")
	}

	if c.Probe.MaxAttempts <= 0 {
		return fmt.Errorf("probe max_attempts must be greater than 0")
	}

	if c.Probe.Interval <= 0 {
		return fmt.Errorf("probe interval must be greater than 0")
	}

	if c.Build.PythonProgram == "" {
		return fmt.Errorf("build python_program is required")
	}

	if c.Build.HandlerScript == "" {
		return fmt.Errorf("build handler_script is required")
	}

	return nil
}
