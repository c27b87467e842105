package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				// Verify some key fields are populated
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "builds_db", cfg.Database.Database)
				assert.Equal(t, "builds_exchange", cfg.RabbitMQ.Exchange.Name)
				assert.Equal(t, "builds_queue", cfg.RabbitMQ.Queue.Name)
				assert.Equal(t, int64(999), cfg.Billing.JobPrice)
				assert.Equal(t, "ap-northeast-1", cfg.Compute.Region)
				assert.Equal(t, 100, cfg.Probe.MaxAttempts)
				assert.Equal(t, time.Second, cfg.Probe.Interval)
				assert.Equal(t, []string{"c4.xlarge"}, cfg.Submission.InstanceClasses)
			}
		})
	}
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "builds_db",
		},
		RabbitMQ: RabbitMQConfig{
			Host:     "localhost",
			Port:     5672,
			Exchange: ExchangeConfig{Name: "builds_exchange"},
			Queue:    QueueConfig{Name: "builds_queue"},
		},
		Billing: BillingConfig{JobPrice: 999, Currency: "jpy"},
		Submission: SubmissionConfig{
			InstanceClasses:      []string{"c4.xlarge"},
			AdminInstanceClasses: []string{"c4.large", "c4.xlarge", "c4.2xlarge"},
			CheckoutRefs:         []string{"refs/remotes/origin/master"},
		},
		Compute: ComputeConfig{
			Region: "ap-northeast-1",
			AMIID:  "ami-0123456789abcdef0",
		},
		Probe: ProbeConfig{
			MaxAttempts: 100,
			Interval:    time.Second,
		},
		Build: BuildConfig{
			PythonProgram: "/usr/bin/python3",
			HandlerScript: "scripts/handler.py",
			WorkRoot:      "/var/lib/builds",
		},
	}
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:      "invalid server port",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "missing database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			wantErr:   true,
			errString: "database host is required",
		},
		{
			name:      "missing rabbitmq exchange",
			mutate:    func(c *Config) { c.RabbitMQ.Exchange.Name = "" },
			wantErr:   true,
			errString: "rabbitmq exchange name is required",
		},
		{
			name:      "zero job price",
			mutate:    func(c *Config) { c.Billing.JobPrice = 0 },
			wantErr:   true,
			errString: "billing job_price must be greater than 0",
		},
		{
			name:      "no instance classes",
			mutate:    func(c *Config) { c.Submission.InstanceClasses = nil },
			wantErr:   true,
			errString: "submission instance_classes is required",
		},
		{
			name:      "no checkout refs",
			mutate:    func(c *Config) { c.Submission.CheckoutRefs = nil },
			wantErr:   true,
			errString: "submission checkout_refs is required",
		},
		{
			name:      "missing work root",
			mutate:    func(c *Config) { c.Build.WorkRoot = "" },
			wantErr:   true,
			errString: "build work_root is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateOrchestratorConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:      "missing compute region",
			mutate:    func(c *Config) { c.Compute.Region = "" },
			wantErr:   true,
			errString: "compute region is required",
		},
		{
			name:      "missing ami",
			mutate:    func(c *Config) { c.Compute.AMIID = "" },
			wantErr:   true,
			errString: "compute ami_id is required",
		},
		{
			name:      "zero probe attempts",
			mutate:    func(c *Config) { c.Probe.MaxAttempts = 0 },
			wantErr:   true,
			errString: "probe max_attempts must be greater than 0",
		},
		{
			name:      "zero probe interval",
			mutate:    func(c *Config) { c.Probe.Interval = 0 },
			wantErr:   true,
			errString: "probe interval must be greater than 0",
		},
		{
			name:      "missing python program",
			mutate:    func(c *Config) { c.Build.PythonProgram = "" },
			wantErr:   true,
			errString: "build python_program is required",
		},
		{
			name:      "missing handler script",
			mutate:    func(c *Config) { c.Build.HandlerScript = "" },
			wantErr:   true,
			errString: "build handler_script is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateOrchestratorConfig()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
