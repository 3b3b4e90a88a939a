// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
	NATS     NATSConfig     `yaml:"nats"`
	LevelDB  LevelDBConfig  `yaml:"leveldb"`
	Engine   EngineConfig   `yaml:"engine"`
	Breaker  BreakerConfig  `yaml:"breaker"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string `yaml:"port"`
	ReadTimeout  int    `yaml:"readTimeout"`
	WriteTimeout int    `yaml:"writeTimeout"`
}

// PostgresConfig holds PostgreSQL configuration
type PostgresConfig struct {
	URL string `yaml:"-"`
}

// NATSConfig holds NATS JetStream configuration
type NATSConfig struct {
	URL           string `yaml:"-"`
	TasksStream   string `yaml:"tasksStream"`
	TasksSubject  string `yaml:"tasksSubject"`
	StatusStream  string `yaml:"statusStream"`
	StatusSubject string `yaml:"statusSubject"`
	QueueGroup    string `yaml:"queueGroup"`
}

// LevelDBConfig holds LevelDB configuration
type LevelDBConfig struct {
	Path string `yaml:"path"`
}

// EngineConfig holds execution engine configuration. Durations are seconds.
type EngineConfig struct {
	MaxTasks            int `yaml:"maxTasks"`
	MaxParallelSubTasks int `yaml:"maxParallelSubTasks"`
	SubTaskTimeout      int `yaml:"subTaskTimeout"`
	TaskTimeout         int `yaml:"taskTimeout"`
	RetryBackoffBase    int `yaml:"retryBackoffBase"`
	MaxRetries          int `yaml:"maxRetries"`
	ResultCacheTTL      int `yaml:"resultCacheTtl"`
	StaleTaskThreshold  int `yaml:"staleTaskThreshold"`
	HeartbeatInterval   int `yaml:"heartbeatInterval"`
	ShutdownTimeout     int `yaml:"shutdownTimeout"`
}

// BreakerConfig holds circuit breaker configuration. Durations are seconds.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failureThreshold"`
	SuccessThreshold int `yaml:"successThreshold"`
	RecoveryTimeout  int `yaml:"recoveryTimeout"`
}

// Default configuration values
const (
	DefaultServerPort          = "8080"
	DefaultServerReadTimeout   = 30
	DefaultServerWriteTimeout  = 30
	DefaultMaxTasks            = 10
	DefaultMaxParallelSubTasks = 10
	DefaultSubTaskTimeout      = 30
	DefaultTaskTimeout         = 300
	DefaultRetryBackoffBase    = 2
	DefaultMaxRetries          = 3
	DefaultResultCacheTTL      = 3600
	DefaultStaleTaskThreshold  = 300
	DefaultHeartbeatInterval   = 30
	DefaultShutdownTimeout     = 30
	DefaultLevelDBPath         = "./data/leveldb"
	DefaultTasksStream         = "paros-tasks"
	DefaultTasksSubject        = "paros.tasks"
	DefaultStatusStream        = "paros-status"
	DefaultStatusSubject       = "paros.status"
	DefaultQueueGroup          = "paros-engines"
	DefaultFailureThreshold    = 5
	DefaultSuccessThreshold    = 2
	DefaultRecoveryTimeout     = 30
)

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an environment variable as integer or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// fallback returns value unless it is empty, then def.
func fallback(value, def string) string {
	if value == "" {
		return def
	}
	return value
}

// fallbackInt returns value unless it is zero, then def.
func fallbackInt(value, def int) int {
	if value == 0 {
		return def
	}
	return value
}

// Load reads the YAML config file, then applies environment variable
// overrides and defaults. Connection URLs carry credentials and are accepted
// from the environment only.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Check mandatory environment variables
	postgresURL := os.Getenv("PAROS_POSTGRES_URL")
	if postgresURL == "" {
		return nil, fmt.Errorf("PAROS_POSTGRES_URL environment variable is required")
	}

	natsURL := os.Getenv("PAROS_NATS_URL")
	if natsURL == "" {
		return nil, fmt.Errorf("PAROS_NATS_URL environment variable is required")
	}

	config.Server = ServerConfig{
		Port:         getEnv("PAROS_SERVER_PORT", fallback(config.Server.Port, DefaultServerPort)),
		ReadTimeout:  getEnvInt("PAROS_SERVER_READ_TIMEOUT", fallbackInt(config.Server.ReadTimeout, DefaultServerReadTimeout)),
		WriteTimeout: getEnvInt("PAROS_SERVER_WRITE_TIMEOUT", fallbackInt(config.Server.WriteTimeout, DefaultServerWriteTimeout)),
	}

	config.Postgres = PostgresConfig{
		URL: postgresURL,
	}

	config.NATS = NATSConfig{
		URL:           natsURL,
		TasksStream:   getEnv("PAROS_NATS_TASKS_STREAM", fallback(config.NATS.TasksStream, DefaultTasksStream)),
		TasksSubject:  getEnv("PAROS_NATS_TASKS_SUBJECT", fallback(config.NATS.TasksSubject, DefaultTasksSubject)),
		StatusStream:  getEnv("PAROS_NATS_STATUS_STREAM", fallback(config.NATS.StatusStream, DefaultStatusStream)),
		StatusSubject: getEnv("PAROS_NATS_STATUS_SUBJECT", fallback(config.NATS.StatusSubject, DefaultStatusSubject)),
		QueueGroup:    getEnv("PAROS_NATS_QUEUE_GROUP", fallback(config.NATS.QueueGroup, DefaultQueueGroup)),
	}

	config.LevelDB = LevelDBConfig{
		Path: getEnv("PAROS_LEVELDB_PATH", fallback(config.LevelDB.Path, DefaultLevelDBPath)),
	}

	config.Engine = EngineConfig{
		MaxTasks:            getEnvInt("PAROS_ENGINE_MAX_TASKS", fallbackInt(config.Engine.MaxTasks, DefaultMaxTasks)),
		MaxParallelSubTasks: getEnvInt("PAROS_ENGINE_MAX_PARALLEL_SUBTASKS", fallbackInt(config.Engine.MaxParallelSubTasks, DefaultMaxParallelSubTasks)),
		SubTaskTimeout:      getEnvInt("PAROS_ENGINE_SUBTASK_TIMEOUT", fallbackInt(config.Engine.SubTaskTimeout, DefaultSubTaskTimeout)),
		TaskTimeout:         getEnvInt("PAROS_ENGINE_TASK_TIMEOUT", fallbackInt(config.Engine.TaskTimeout, DefaultTaskTimeout)),
		RetryBackoffBase:    getEnvInt("PAROS_ENGINE_RETRY_BACKOFF_BASE", fallbackInt(config.Engine.RetryBackoffBase, DefaultRetryBackoffBase)),
		MaxRetries:          getEnvInt("PAROS_ENGINE_MAX_RETRIES", fallbackInt(config.Engine.MaxRetries, DefaultMaxRetries)),
		ResultCacheTTL:      getEnvInt("PAROS_ENGINE_RESULT_CACHE_TTL", fallbackInt(config.Engine.ResultCacheTTL, DefaultResultCacheTTL)),
		StaleTaskThreshold:  getEnvInt("PAROS_ENGINE_STALE_TASK_THRESHOLD", fallbackInt(config.Engine.StaleTaskThreshold, DefaultStaleTaskThreshold)),
		HeartbeatInterval:   getEnvInt("PAROS_ENGINE_HEARTBEAT_INTERVAL", fallbackInt(config.Engine.HeartbeatInterval, DefaultHeartbeatInterval)),
		ShutdownTimeout:     getEnvInt("PAROS_ENGINE_SHUTDOWN_TIMEOUT", fallbackInt(config.Engine.ShutdownTimeout, DefaultShutdownTimeout)),
	}

	config.Breaker = BreakerConfig{
		FailureThreshold: getEnvInt("PAROS_BREAKER_FAILURE_THRESHOLD", fallbackInt(config.Breaker.FailureThreshold, DefaultFailureThreshold)),
		SuccessThreshold: getEnvInt("PAROS_BREAKER_SUCCESS_THRESHOLD", fallbackInt(config.Breaker.SuccessThreshold, DefaultSuccessThreshold)),
		RecoveryTimeout:  getEnvInt("PAROS_BREAKER_RECOVERY_TIMEOUT", fallbackInt(config.Breaker.RecoveryTimeout, DefaultRecoveryTimeout)),
	}

	return &config, nil
}
