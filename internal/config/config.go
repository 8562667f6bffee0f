package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the datapump server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	DataAPI   DataAPIConfig
	Areas     AreasConfig
	Cluster   ClusterConfig
	Sizing    SizingConfig
	Notify    NotifyConfig
	Scheduler SchedulerConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type DataAPIConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// AreasConfig points at the areas service. An empty BaseURL disables area
// status updates.
type AreasConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// ClusterConfig describes where and how analysis clusters are launched.
type ClusterConfig struct {
	Region              string
	ResultBucket        string
	JarPath             string
	ReleaseLabel        string
	PrimaryInstanceType string
	WorkerInstanceTypes []string
	KeyName             string
	SubnetIDs           []string
	JobFlowRole         string
	ServiceRole         string
	Timeout             time.Duration
}

type SizingConfig struct {
	MinWorkers   int
	WorkersPerMB float64
}

type NotifyConfig struct {
	SlackWebhookURL string
	Timeout         time.Duration
}

type SchedulerConfig struct {
	Interval    time.Duration
	Concurrency int
	BatchSize   int
	LockTTL     time.Duration
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	env := envString("DATAPUMP_ENV", "development")
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("DATAPUMP_PORT", 8080),
			Env:  env,
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		DataAPI: DataAPIConfig{
			BaseURL: os.Getenv("DATA_API_URL"),
			Token:   os.Getenv("DATA_API_TOKEN"),
			Timeout: envDuration("DATA_API_TIMEOUT", 30*time.Second),
		},
		Areas: AreasConfig{
			BaseURL: os.Getenv("AREA_API_URL"),
			Token:   os.Getenv("AREA_API_TOKEN"),
			Timeout: envDuration("AREA_API_TIMEOUT", 30*time.Second),
		},
		Cluster: ClusterConfig{
			Region:              envString("AWS_REGION", "us-east-1"),
			ResultBucket:        os.Getenv("RESULT_BUCKET"),
			ReleaseLabel:        envString("EMR_RELEASE_LABEL", "emr-6.1.0"),
			PrimaryInstanceType: envString("EMR_PRIMARY_INSTANCE_TYPE", "r5.2xlarge"),
			WorkerInstanceTypes: envList("EMR_WORKER_INSTANCE_TYPES", []string{"r5.2xlarge", "r4.2xlarge"}),
			KeyName:             os.Getenv("EMR_KEY_NAME"),
			SubnetIDs:           envList("EMR_SUBNET_IDS", nil),
			JobFlowRole:         envString("EMR_JOB_FLOW_ROLE", "EMR_EC2_DefaultRole"),
			ServiceRole:         envString("EMR_SERVICE_ROLE", "EMR_DefaultRole"),
			Timeout:             envDuration("EMR_TIMEOUT", 60*time.Second),
		},
		Sizing: SizingConfig{
			MinWorkers:   envInt("SIZING_MIN_WORKERS", 5),
			WorkersPerMB: envFloat("SIZING_WORKERS_PER_MB", 50),
		},
		Notify: NotifyConfig{
			SlackWebhookURL: os.Getenv("SLACK_WEBHOOK_URL"),
			Timeout:         envDuration("SLACK_TIMEOUT", 10*time.Second),
		},
		Scheduler: SchedulerConfig{
			Interval:    envDuration("SCHEDULER_INTERVAL", 60*time.Second),
			Concurrency: envInt("SCHEDULER_CONCURRENCY", 8),
			BatchSize:   envInt("SCHEDULER_BATCH_SIZE", 100),
			LockTTL:     envDuration("SCHEDULER_LOCK_TTL", 5*time.Minute),
		},
	}
	cfg.Cluster.JarPath = envString("GEOTRELLIS_JAR_PATH",
		fmt.Sprintf("s3://%s/geotrellis/jars", cfg.Cluster.ResultBucket))

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.DataAPI.BaseURL == "" {
		return fmt.Errorf("DATA_API_URL is required")
	}
	if !strings.HasPrefix(c.DataAPI.BaseURL, "http://") && !strings.HasPrefix(c.DataAPI.BaseURL, "https://") {
		return fmt.Errorf("DATA_API_URL must start with http:// or https://, got %q", c.DataAPI.BaseURL)
	}

	if c.Areas.BaseURL != "" &&
		!strings.HasPrefix(c.Areas.BaseURL, "http://") && !strings.HasPrefix(c.Areas.BaseURL, "https://") {
		return fmt.Errorf("AREA_API_URL must start with http:// or https://, got %q", c.Areas.BaseURL)
	}

	if c.Cluster.ResultBucket == "" {
		return fmt.Errorf("RESULT_BUCKET is required")
	}
	if len(c.Cluster.WorkerInstanceTypes) == 0 {
		return fmt.Errorf("EMR_WORKER_INSTANCE_TYPES must list at least one instance type")
	}
	if len(c.Cluster.SubnetIDs) == 0 {
		return fmt.Errorf("EMR_SUBNET_IDS is required")
	}

	if c.Sizing.MinWorkers < 1 {
		return fmt.Errorf("SIZING_MIN_WORKERS must be at least 1, got %d", c.Sizing.MinWorkers)
	}
	if c.Sizing.WorkersPerMB <= 0 {
		return fmt.Errorf("SIZING_WORKERS_PER_MB must be positive, got %v", c.Sizing.WorkersPerMB)
	}

	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("SCHEDULER_INTERVAL must be positive")
	}
	if c.Scheduler.Concurrency < 1 {
		return fmt.Errorf("SCHEDULER_CONCURRENCY must be at least 1, got %d", c.Scheduler.Concurrency)
	}

	if c.Notify.SlackWebhookURL != "" && !strings.HasPrefix(c.Notify.SlackWebhookURL, "https://") {
		return fmt.Errorf("SLACK_WEBHOOK_URL must start with https://")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// envList reads a comma-separated list, dropping empty items.
func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
